package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/yudame/valor/internal/config"
	"github.com/yudame/valor/internal/workspace"
)

func findRule(rules []DirectoryPermission, path string) (DirectoryPermission, bool) {
	for _, r := range rules {
		if r.Path == path {
			return r, true
		}
	}
	return DirectoryPermission{}, false
}

func TestBuildRules(t *testing.T) {
	root := t.TempDir()
	ai := filepath.Join(root, "ai")
	extra := filepath.Join(root, "docs")
	if err := os.MkdirAll(extra, 0o755); err != nil {
		t.Fatal(err)
	}

	rules := buildRules([]string{ai, ai}, &SandboxConfig{
		AdditionalReadOnlyPaths: []string{extra, filepath.Join(root, "missing")},
	})

	t.Run("workspace directory is read-write even before it exists", func(t *testing.T) {
		r, ok := findRule(rules, ai)
		if !ok {
			t.Fatalf("expected rule for %s", ai)
		}
		if r.Access != AccessReadWrite {
			t.Errorf("expected rw, got %s", r.Access)
		}
	})

	t.Run("no duplicates", func(t *testing.T) {
		seen := map[string]bool{}
		for _, r := range rules {
			if seen[r.Path] {
				t.Errorf("duplicate rule for %s", r.Path)
			}
			seen[r.Path] = true
		}
	})

	t.Run("extra read-only paths only when present", func(t *testing.T) {
		if r, ok := findRule(rules, extra); !ok || r.Access != AccessReadOnly {
			t.Errorf("expected ro rule for %s, got %+v", extra, r)
		}
		if _, ok := findRule(rules, filepath.Join(root, "missing")); ok {
			t.Error("missing extra path should be skipped")
		}
	})

	t.Run("read-write wins over read-only", func(t *testing.T) {
		rules := buildRules([]string{extra}, &SandboxConfig{AdditionalReadOnlyPaths: []string{extra}})
		if r, _ := findRule(rules, extra); r.Access != AccessReadWrite {
			t.Errorf("expected rw, got %s", r.Access)
		}
	})

	t.Run("other workspaces are absent", func(t *testing.T) {
		if _, ok := findRule(rules, filepath.Join(root, "psyoptimal")); ok {
			t.Error("unexpected rule for another workspace")
		}
	})
}

func TestBuildRulesIgnoresScreenshotSymlink(t *testing.T) {
	root := t.TempDir()
	ai := filepath.Join(root, "ai")
	shots := filepath.Join(root, "shared-shots")
	for _, d := range []string{filepath.Join(ai, "tmp"), shots} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink(shots, filepath.Join(ai, "tmp", "ai_screenshots")); err != nil {
		t.Fatal(err)
	}

	target, err := filepath.EvalSymlinks(shots)
	if err != nil {
		t.Fatal(err)
	}
	rules := buildRules([]string{ai}, nil)
	if r, ok := findRule(rules, target); ok {
		t.Errorf("hand-off symlink target %s must not be granted, got %+v", target, r)
	}
	if r, ok := findRule(rules, ai); !ok || r.Access != AccessReadWrite {
		t.Errorf("expected rw rule for %s", ai)
	}
}

func TestForChat(t *testing.T) {
	root := t.TempDir()
	ai := filepath.Join(root, "ai")
	reg, err := workspace.ParseRegistry([]byte(`{"workspaces": {"AI": {"working_directory": "` + ai + `", "telegram_chat_id": "-1"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	v := workspace.NewValidator(reg, nil)

	sb, err := ForChat(v, "-1", &SandboxConfig{DisableSandbox: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sb.Workspace() != "AI" {
		t.Errorf("expected workspace AI, got %q", sb.Workspace())
	}
	if _, ok := findRule(sb.Rules(), ai); !ok {
		t.Errorf("expected rule for %s", ai)
	}
	if sb.IsEnabled() {
		t.Error("disabled sandbox reports enabled")
	}
	if err := sb.Restrict(); err != nil {
		t.Errorf("Restrict on disabled sandbox: %v", err)
	}
	if sb.Restricted() {
		t.Error("disabled sandbox must not restrict")
	}

	_, err = ForChat(v, "-2", nil)
	if !errors.Is(err, workspace.ErrUnmappedChat) {
		t.Errorf("expected unmapped chat error, got %v", err)
	}
}

func TestRulesSorted(t *testing.T) {
	sb := NewWorkspaceSandbox("Test", []string{"/z/test", "/a/test"}, &SandboxConfig{DisableSandbox: true})
	rules := sb.Rules()
	for i := 1; i < len(rules); i++ {
		if rules[i-1].Path > rules[i].Path {
			t.Fatalf("rules not sorted: %s before %s", rules[i-1].Path, rules[i].Path)
		}
	}
}

func TestFromConfig(t *testing.T) {
	if FromConfig(nil) != nil {
		t.Error("expected nil for nil config")
	}
	cfg := config.DefaultConfig()
	cfg.Sandbox.AdditionalReadOnlyPaths = []string{"/opt/docs"}
	sc := FromConfig(cfg)
	if !sc.BestEffort {
		t.Error("expected best effort from defaults")
	}
	if len(sc.AdditionalReadOnlyPaths) != 1 || sc.AdditionalReadOnlyPaths[0] != "/opt/docs" {
		t.Errorf("unexpected paths %v", sc.AdditionalReadOnlyPaths)
	}
}
