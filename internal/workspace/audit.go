package workspace

import "time"

// Operations recorded in a Decision.
const (
	OperationNotion    = "notion"
	OperationDirectory = "directory"
)

// Decision is one allow/deny outcome of the Validator.
type Decision struct {
	Time      time.Time
	ChatID    string
	Operation string
	Workspace string // workspace bound to the chat, "" when unmapped
	Resource  string // requested workspace name or path
	Allowed   bool
	Kind      string // error kind for denials
	Message   string // full internal detail, never shown to end users
}

// Auditor receives every decision. Implementations must not block for long
// and must not panic; failures are theirs to log.
type Auditor interface {
	Record(d Decision)
}

// AuditorFunc adapts a function to Auditor.
type AuditorFunc func(d Decision)

// Record calls f(d).
func (f AuditorFunc) Record(d Decision) { f(d) }
