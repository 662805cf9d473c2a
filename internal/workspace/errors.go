package workspace

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by errors.Is against the typed errors below.
var (
	ErrConfiguration      = errors.New("workspace configuration error")
	ErrUnmappedChat       = errors.New("chat is not mapped to any workspace")
	ErrIsolationViolation = errors.New("workspace isolation violation")
	ErrDirectoryIsolation = errors.New("directory isolation violation")
	ErrCrossWorkspace     = errors.New("cross-workspace violation")
)

// Error kinds, stable across releases; used in audit rows and HTTP bodies.
const (
	KindConfiguration      = "configuration_error"
	KindUnmappedChat       = "unmapped_chat"
	KindIsolationViolation = "isolation_violation"
	KindDirectoryIsolation = "directory_isolation_violation"
	KindCrossWorkspace     = "cross_workspace_violation"
)

// ConfigurationError reports an unreadable or unparsable workspace config.
type ConfigurationError struct {
	Path string
	Msg  string
	Err  error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("workspace configuration")
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	if e.Msg != "" {
		fmt.Fprintf(&b, ": %s", e.Msg)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
func (e *ConfigurationError) Unwrap() error        { return e.Err }

// UnmappedChatError is returned when a chat id has no workspace binding.
type UnmappedChatError struct {
	ChatID    string
	Operation string
	Resource  string
}

func (e *UnmappedChatError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("chat %s is not mapped to any workspace", e.ChatID)
	}
	return fmt.Sprintf("chat %s is not mapped to any workspace (requested %s %q)", e.ChatID, e.Operation, e.Resource)
}

func (e *UnmappedChatError) Is(target error) bool { return target == ErrUnmappedChat }

// IsolationViolationError is returned when a chat requests another
// workspace's Notion database.
type IsolationViolationError struct {
	ChatID    string
	Requested string
	Allowed   string
}

func (e *IsolationViolationError) Error() string {
	return fmt.Sprintf("chat %s bound to workspace %q attempted to access workspace %q", e.ChatID, e.Allowed, e.Requested)
}

func (e *IsolationViolationError) Is(target error) bool { return target == ErrIsolationViolation }

// DirectoryIsolationViolationError is returned when a path lies outside every
// allowed directory of the chat's workspace and outside the screenshot
// hand-off directory.
type DirectoryIsolationViolationError struct {
	ChatID             string
	Workspace          string
	Path               string
	AllowedDirectories []string
}

func (e *DirectoryIsolationViolationError) Error() string {
	return fmt.Sprintf("chat %s (workspace %q) attempted to access %s outside allowed directories [%s]",
		e.ChatID, e.Workspace, e.Path, strings.Join(e.AllowedDirectories, ", "))
}

func (e *DirectoryIsolationViolationError) Is(target error) bool {
	return target == ErrDirectoryIsolation
}

// CrossWorkspaceViolationError is returned when a path passes the chat's own
// prefix check but also falls under another workspace's directory. It points
// at overlapping configuration rather than a bad request.
type CrossWorkspaceViolationError struct {
	ChatID         string
	Workspace      string
	OtherWorkspace string
	Path           string
	OtherDirectory string
}

func (e *CrossWorkspaceViolationError) Error() string {
	return fmt.Sprintf("chat %s (workspace %q) attempted to access %s which belongs to workspace %q (%s)",
		e.ChatID, e.Workspace, e.Path, e.OtherWorkspace, e.OtherDirectory)
}

func (e *CrossWorkspaceViolationError) Is(target error) bool { return target == ErrCrossWorkspace }

// Kind returns the stable kind string for err, or "" when err is nil or not
// one of this package's errors.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCrossWorkspace):
		return KindCrossWorkspace
	case errors.Is(err, ErrDirectoryIsolation):
		return KindDirectoryIsolation
	case errors.Is(err, ErrIsolationViolation):
		return KindIsolationViolation
	case errors.Is(err, ErrUnmappedChat):
		return KindUnmappedChat
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	default:
		return ""
	}
}

// DenialMessage returns the short text shown to end users. It never names the
// other workspace or the path involved; those live only in the server log.
func DenialMessage(err error) string {
	switch Kind(err) {
	case "":
		if err == nil {
			return ""
		}
		return "Request failed."
	case KindUnmappedChat:
		return "This chat is not authorized to use workspace tools."
	case KindConfiguration:
		return "Workspace access is not configured."
	default:
		return "Access denied: that resource is outside this chat's workspace."
	}
}
