// Package workspace enforces isolation between chat-bound workspaces.
//
// A workspace binds one Notion database and a list of filesystem directories,
// optionally to a single Telegram chat. The Validator answers, for a chat id
// and a requested resource, whether access is permitted; every denial is a
// typed error that has already been logged and audited when it is returned.
//
// Two calling conventions coexist on purpose. Authorization checks
// (ValidateNotionAccess, ValidateDirectoryAccess) return errors. Message
// gates on the hot path (DMWhitelist.IsAllowed,
// EnvironmentValidator.IsChatWhitelisted) return plain booleans and never fail.
package workspace

import (
	"path/filepath"
	"strings"
)

// Type classifies a workspace by its primary directory name.
type Type int

const (
	// TypeUnknown marks a directory name outside the known table. Workspaces
	// of this type are never loaded.
	TypeUnknown Type = iota
	TypeFuse
	TypePsyOptimal
	TypeFlexTrip
	TypeAI
	TypeVerkstad
	TypeTest
)

var typeByDirName = map[string]Type{
	"deckfusion": TypeFuse,
	"fuse":       TypeFuse,
	"psyoptimal": TypePsyOptimal,
	"flextrip":   TypeFlexTrip,
	"ai":         TypeAI,
	"yudame":     TypeAI,
	"verkstad":   TypeVerkstad,
	"test":       TypeTest,
}

// String returns the lower-case type name.
func (t Type) String() string {
	switch t {
	case TypeFuse:
		return "fuse"
	case TypePsyOptimal:
		return "psyoptimal"
	case TypeFlexTrip:
		return "flextrip"
	case TypeAI:
		return "ai"
	case TypeVerkstad:
		return "verkstad"
	case TypeTest:
		return "test"
	default:
		return "unknown"
	}
}

// ParseType derives the type from the last segment of dir.
func ParseType(dir string) Type {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return TypeUnknown
	}
	base := strings.ToLower(filepath.Base(filepath.Clean(dir)))
	if t, ok := typeByDirName[base]; ok {
		return t
	}
	return TypeUnknown
}

// Workspace is a named security boundary.
type Workspace struct {
	Name               string
	Type               Type
	NotionDatabaseID   string
	AllowedDirectories []string // non-empty; [0] is the default working directory
	ChatID             string   // empty when the workspace is not chat-bound
	Aliases            []string
}

// WorkingDirectory returns the default working directory.
func (w Workspace) WorkingDirectory() string {
	if len(w.AllowedDirectories) == 0 {
		return ""
	}
	return w.AllowedDirectories[0]
}

func (w Workspace) clone() Workspace {
	w.AllowedDirectories = append([]string(nil), w.AllowedDirectories...)
	w.Aliases = append([]string(nil), w.Aliases...)
	return w
}
