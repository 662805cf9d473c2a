// Package sandbox derives a Landlock filesystem profile from a workspace's
// allowed directories. On Linux (kernel 5.13+) the profile can be applied to
// the current process so that a delegated coding subprocess inherits it. On
// other systems Restrict is a no-op and the validator remains the only
// enforcement point.
package sandbox

import (
	"os"
	"path/filepath"
	"sort"
)

// AccessLevel represents the type of filesystem access granted to a path.
type AccessLevel int

const (
	// AccessReadOnly grants read-only access (read files, list directories)
	AccessReadOnly AccessLevel = iota
	// AccessReadWrite grants read and write access
	AccessReadWrite
)

func (a AccessLevel) String() string {
	if a == AccessReadWrite {
		return "rw"
	}
	return "ro"
}

// DirectoryPermission represents a directory path with its access level.
type DirectoryPermission struct {
	Path   string      `json:"path" yaml:"path"`
	Access AccessLevel `json:"access" yaml:"access"`
}

// SandboxConfig holds configuration for additional sandbox paths.
// This mirrors config.SandboxConfig to keep this package free of app config.
type SandboxConfig struct {
	AdditionalReadOnlyPaths []string
	DisableSandbox          bool
	BestEffort              bool
}

// systemReadOnlyPaths are needed to run ordinary binaries.
var systemReadOnlyPaths = []string{
	"/usr",
	"/bin",
	"/lib",
	"/lib64",
	"/etc",
	"/sbin",
	"/usr/local/bin",
	"/usr/local/lib",
	"/run/current-system/sw", // NixOS
	"/nix/store",
}

var deviceFiles = []string{
	"/dev/null",
	"/dev/zero",
	"/dev/random",
	"/dev/urandom",
	"/dev/stdin",
	"/dev/stdout",
	"/dev/stderr",
}

// buildRules returns the permission list for a workspace. Workspace
// directories are included even when they do not exist yet; everything else
// only when present on this machine.
func buildRules(dirs []string, cfg *SandboxConfig) []DirectoryPermission {
	var rules []DirectoryPermission
	seen := make(map[string]AccessLevel)

	add := func(p string, access AccessLevel, mustExist bool) {
		if p == "" {
			return
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return
		}
		if mustExist {
			if _, err := os.Stat(abs); err != nil {
				return
			}
		}
		if prev, ok := seen[abs]; ok {
			if prev == AccessReadOnly && access == AccessReadWrite {
				for i := range rules {
					if rules[i].Path == abs {
						rules[i].Access = AccessReadWrite
					}
				}
				seen[abs] = AccessReadWrite
			}
			return
		}
		seen[abs] = access
		rules = append(rules, DirectoryPermission{Path: abs, Access: access})
	}

	// Only the workspace directories themselves; a symlink inside them (the
	// screenshot hand-off directory included) never adds its target.
	for _, dir := range dirs {
		add(dir, AccessReadWrite, false)
	}
	for _, p := range systemReadOnlyPaths {
		add(p, AccessReadOnly, true)
	}
	for _, p := range deviceFiles {
		add(p, AccessReadWrite, true)
	}
	for _, p := range []string{os.TempDir(), "/tmp", "/var/tmp"} {
		add(p, AccessReadWrite, true)
	}
	if cfg != nil {
		for _, p := range cfg.AdditionalReadOnlyPaths {
			add(p, AccessReadOnly, true)
		}
	}
	return rules
}

// sortedRules returns rules ordered by path, for stable output.
func sortedRules(rules []DirectoryPermission) []DirectoryPermission {
	out := append([]DirectoryPermission(nil), rules...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
