//go:build linux

package sandbox

import (
	"fmt"
	"os"

	landlock "github.com/landlock-lsm/go-landlock/landlock"
	"github.com/yudame/valor/internal/logger"
)

// LandlockSandbox confines the current process to one workspace using the
// Linux Landlock LSM.
type LandlockSandbox struct {
	workspace  string
	rules      []DirectoryPermission
	enabled    bool
	bestEffort bool
	disabled   bool // Explicitly disabled via config
	restricted bool
}

// NewWorkspaceSandbox builds the profile for workspace with read-write access
// to dirs.
func NewWorkspaceSandbox(workspace string, dirs []string, cfg *SandboxConfig) *LandlockSandbox {
	sb := &LandlockSandbox{
		workspace:  workspace,
		rules:      buildRules(dirs, cfg),
		bestEffort: true,
		enabled:    true,
	}
	if cfg != nil {
		if cfg.DisableSandbox {
			sb.disabled = true
			sb.enabled = false
			logger.Info("landlock sandbox for workspace %q disabled via config", workspace)
			return sb
		}
		sb.bestEffort = cfg.BestEffort
	}
	logger.Debug("landlock profile for workspace %q: %d rules (best_effort=%v)", workspace, len(sb.rules), sb.bestEffort)
	return sb
}

// Workspace returns the workspace name the profile was built for.
func (s *LandlockSandbox) Workspace() string { return s.workspace }

// Rules returns the permissions, sorted by path.
func (s *LandlockSandbox) Rules() []DirectoryPermission {
	return sortedRules(s.rules)
}

// IsEnabled reports whether Restrict will apply anything.
func (s *LandlockSandbox) IsEnabled() bool {
	return s.enabled && !s.disabled
}

// Restricted reports whether Restrict has succeeded on this process.
func (s *LandlockSandbox) Restricted() bool { return s.restricted }

// Restrict applies the profile to the current process and every child it
// starts afterwards. It cannot be undone.
func (s *LandlockSandbox) Restrict() error {
	if !s.IsEnabled() {
		return nil
	}

	// Landlock rejects directory access rights on regular files, so files get
	// ROFiles/RWFiles.
	rules := make([]landlock.Rule, 0, len(s.rules))
	var ro, rw int
	for _, perm := range s.rules {
		info, err := os.Stat(perm.Path)
		if err != nil {
			// Landlock needs an open fd per rule.
			logger.Debug("landlock: skipping missing path %s", perm.Path)
			continue
		}
		isFile := !info.IsDir()
		switch {
		case perm.Access == AccessReadWrite && isFile:
			rules = append(rules, landlock.RWFiles(perm.Path))
			rw++
		case perm.Access == AccessReadWrite:
			rules = append(rules, landlock.RWDirs(perm.Path))
			rw++
		case isFile:
			rules = append(rules, landlock.ROFiles(perm.Path))
			ro++
		default:
			rules = append(rules, landlock.RODirs(perm.Path))
			ro++
		}
	}

	var err error
	if s.bestEffort {
		err = landlock.V6.BestEffort().RestrictPaths(rules...)
	} else {
		err = landlock.V6.RestrictPaths(rules...)
	}
	if err != nil {
		logger.Warn("landlock restriction for workspace %q failed: %v", s.workspace, err)
		s.enabled = false
		return fmt.Errorf("landlock restriction failed: %w", err)
	}

	s.restricted = true
	logger.Info("landlock restrictions applied for workspace %q: %d ro, %d rw", s.workspace, ro, rw)
	return nil
}
