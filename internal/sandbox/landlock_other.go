//go:build !linux

package sandbox

import "github.com/yudame/valor/internal/logger"

// LandlockSandbox is a no-op implementation for non-Linux systems.
type LandlockSandbox struct {
	workspace string
	rules     []DirectoryPermission
}

// NewWorkspaceSandbox builds the profile (never applied on non-Linux).
func NewWorkspaceSandbox(workspace string, dirs []string, cfg *SandboxConfig) *LandlockSandbox {
	logger.Debug("landlock sandboxing not available on this platform (non-Linux)")
	return &LandlockSandbox{workspace: workspace, rules: buildRules(dirs, cfg)}
}

// Workspace returns the workspace name the profile was built for.
func (s *LandlockSandbox) Workspace() string { return s.workspace }

// Rules returns the permissions, sorted by path.
func (s *LandlockSandbox) Rules() []DirectoryPermission {
	return sortedRules(s.rules)
}

// IsEnabled always returns false on non-Linux.
func (s *LandlockSandbox) IsEnabled() bool { return false }

// Restricted always returns false on non-Linux.
func (s *LandlockSandbox) Restricted() bool { return false }

// Restrict is a no-op on non-Linux.
func (s *LandlockSandbox) Restrict() error { return nil }
