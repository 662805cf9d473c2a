package workspace

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	decisions []Decision
}

func (r *recorder) Record(d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
}

func (r *recorder) last(t *testing.T) Decision {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.decisions)
	return r.decisions[len(r.decisions)-1]
}

func TestConcreteScenario(t *testing.T) {
	data := []byte(`{
		"workspaces": {
			"PsyOPTIMAL":     {"allowed_directories": ["/src/psyoptimal"], "telegram_chat_id": "-1001234567890"},
			"DeckFusion Dev": {"allowed_directories": ["/src/deckfusion"], "telegram_chat_id": "-1008888888888"}
		}
	}`)
	reg, err := ParseRegistry(data)
	require.NoError(t, err)
	v := NewValidator(reg, nil)

	assert.NoError(t, v.ValidateNotionAccess("-1001234567890", "PsyOPTIMAL"))

	err = v.ValidateNotionAccess("-1001234567890", "DeckFusion Dev")
	var iso *IsolationViolationError
	require.ErrorAs(t, err, &iso)
	assert.Equal(t, "PsyOPTIMAL", iso.Allowed)
	assert.Equal(t, "DeckFusion Dev", iso.Requested)
	assert.Contains(t, err.Error(), "-1001234567890")

	err = v.ValidateDirectoryAccess("-1008888888888", "/src/psyoptimal/x.py")
	var dir *DirectoryIsolationViolationError
	require.ErrorAs(t, err, &dir)
	assert.Equal(t, []string{"/src/deckfusion"}, dir.AllowedDirectories)

	err = v.ValidateDirectoryAccess("-9999999999999", "/src/psyoptimal/x.py")
	assert.ErrorIs(t, err, ErrUnmappedChat)
}

func TestNotionIsolationSymmetry(t *testing.T) {
	f := newFixture(t)
	v := NewValidator(f.reg, nil)

	for _, a := range f.reg.Workspaces() {
		if a.ChatID == "" {
			continue
		}
		for _, b := range f.reg.Workspaces() {
			err := v.ValidateNotionAccess(a.ChatID, b.Name)
			if a.Name == b.Name {
				assert.NoError(t, err, "%s -> own workspace", a.Name)
				continue
			}
			assert.ErrorIs(t, err, ErrIsolationViolation, "%s -> %s", a.Name, b.Name)
		}
	}
}

func TestDirectoryIsolationSymmetry(t *testing.T) {
	f := newFixture(t)
	v := NewValidator(f.reg, nil)

	for _, a := range f.reg.Workspaces() {
		for _, b := range f.reg.Workspaces() {
			target := filepath.Join(b.WorkingDirectory(), "notes", "plan.md")
			err := v.ValidateDirectoryAccess(a.ChatID, target)
			if a.Name == b.Name {
				assert.NoError(t, err, "%s -> own directory", a.Name)
				continue
			}
			assert.ErrorIs(t, err, ErrDirectoryIsolation, "%s -> %s", a.Name, b.Name)
		}
	}
}

func TestAliasTransparency(t *testing.T) {
	f := newFixture(t)
	v := NewValidator(f.reg, nil)

	for _, ws := range f.reg.Workspaces() {
		if ws.ChatID == "" || v.ValidateNotionAccess(ws.ChatID, ws.Name) != nil {
			continue
		}
		for _, alias := range ws.Aliases {
			assert.NoError(t, v.ValidateNotionAccess(ws.ChatID, alias), "%s alias %q", ws.Name, alias)
		}
	}

	// Another workspace's alias is still another workspace.
	assert.ErrorIs(t, v.ValidateNotionAccess(psyChat, "fuse"), ErrIsolationViolation)
}

func TestUnmappedChatTotalDenial(t *testing.T) {
	f := newFixture(t)
	v := NewValidator(f.reg, nil)

	for _, chat := range []string{"", "-9999999999999", "1001234567890", psyChat + " "} {
		assert.ErrorIs(t, v.ValidateNotionAccess(chat, "PsyOPTIMAL"), ErrUnmappedChat)
		assert.ErrorIs(t, v.ValidateDirectoryAccess(chat, f.psy), ErrUnmappedChat)

		_, err := v.AllowedDirectories(chat)
		assert.ErrorIs(t, err, ErrUnmappedChat)
		_, err = v.AllowedNotionDatabase(chat)
		assert.ErrorIs(t, err, ErrUnmappedChat)
		_, err = v.DefaultWorkingDirectory(chat)
		assert.ErrorIs(t, err, ErrUnmappedChat)
	}
}

func TestDirectoryAccessPaths(t *testing.T) {
	f := newFixture(t)
	v := NewValidator(f.reg, nil)

	ai2 := filepath.Join(f.root, "src", "ai2")
	require.NoError(t, os.MkdirAll(ai2, 0o755))

	tests := []struct {
		name    string
		chat    string
		path    string
		wantErr error
	}{
		{"directory itself", aiChat, f.ai, nil},
		{"nested missing file", aiChat, filepath.Join(f.ai, "a", "b", "c.go"), nil},
		{"trailing dot segments", aiChat, f.ai + "/./pkg/../main.go", nil},
		{"traversal out", aiChat, filepath.Join(f.ai, "..", "psyoptimal", "x.py"), ErrDirectoryIsolation},
		{"raw traversal string", aiChat, f.ai + "/../psyoptimal/x.py", ErrDirectoryIsolation},
		{"sibling with shared prefix", aiChat, filepath.Join(ai2, "x.go"), ErrDirectoryIsolation},
		{"parent directory", aiChat, filepath.Join(f.root, "src"), ErrDirectoryIsolation},
		{"root", aiChat, "/", ErrDirectoryIsolation},
		{"relative path", aiChat, "main.go", ErrDirectoryIsolation},
		{"empty path", aiChat, "", ErrDirectoryIsolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateDirectoryAccess(tt.chat, tt.path)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDirectoryAccessSymlinkEscape(t *testing.T) {
	f := newFixture(t)
	v := NewValidator(f.reg, nil)

	secret := filepath.Join(f.psy, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("x"), 0o600))

	link := filepath.Join(f.ai, "escape")
	require.NoError(t, os.Symlink(f.psy, link))

	err := v.ValidateDirectoryAccess(aiChat, filepath.Join(link, "secret.txt"))
	assert.ErrorIs(t, err, ErrDirectoryIsolation)

	// A dangling link is followed to where a write through it would land.
	planted := filepath.Join(f.psy, "planted.py")
	dangling := filepath.Join(f.ai, "evil")
	require.NoError(t, os.Symlink(planted, dangling))
	assert.ErrorIs(t, v.ValidateDirectoryAccess(aiChat, dangling), ErrDirectoryIsolation)
	assert.ErrorIs(t, v.ValidateDirectoryAccess(aiChat, filepath.Join(dangling, "x")), ErrDirectoryIsolation)
	_, err = os.Lstat(planted)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	// Relative dangling links and link chains resolve the same way.
	require.NoError(t, os.Symlink(filepath.Join("..", "psyoptimal", "other.py"), filepath.Join(f.ai, "rel")))
	require.NoError(t, os.Symlink(filepath.Join(f.ai, "rel"), filepath.Join(f.ai, "chain")))
	assert.ErrorIs(t, v.ValidateDirectoryAccess(aiChat, filepath.Join(f.ai, "chain")), ErrDirectoryIsolation)

	// A dangling link that stays inside the tree is allowed.
	require.NoError(t, os.Symlink(filepath.Join(f.ai, "later.go"), filepath.Join(f.ai, "soon")))
	assert.NoError(t, v.ValidateDirectoryAccess(aiChat, filepath.Join(f.ai, "soon")))

	// A link cycle is denied.
	require.NoError(t, os.Symlink(filepath.Join(f.ai, "loop-b"), filepath.Join(f.ai, "loop-a")))
	require.NoError(t, os.Symlink(filepath.Join(f.ai, "loop-a"), filepath.Join(f.ai, "loop-b")))
	assert.ErrorIs(t, v.ValidateDirectoryAccess(aiChat, filepath.Join(f.ai, "loop-a")), ErrDirectoryIsolation)

	// A link into the chat's own tree is fine.
	inner := filepath.Join(f.ai, "inner")
	require.NoError(t, os.MkdirAll(filepath.Join(f.ai, "pkg"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(f.ai, "pkg"), inner))
	assert.NoError(t, v.ValidateDirectoryAccess(aiChat, filepath.Join(inner, "new.go")))
}

func TestScreenshotCarveOut(t *testing.T) {
	f := newFixture(t)
	v := NewValidator(f.reg, nil)

	own := filepath.Join(f.ai, "tmp", "ai_screenshots", "shot.png")
	foreign := filepath.Join(f.psy, "tmp", "ai_screenshots", "shot.png")

	assert.NoError(t, v.ValidateDirectoryAccess(aiChat, own))
	assert.ErrorIs(t, v.ValidateDirectoryAccess(aiChat, foreign), ErrDirectoryIsolation)

	// A hand-off directory that is a symlink grants only its literal
	// location, never the target.
	shared := filepath.Join(f.root, "shots")
	require.NoError(t, os.MkdirAll(shared, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(f.test, "tmp"), 0o755))
	require.NoError(t, os.Symlink(shared, filepath.Join(f.test, "tmp", "ai_screenshots")))

	assert.ErrorIs(t, v.ValidateDirectoryAccess(testChat, filepath.Join(f.test, "tmp", "ai_screenshots", "a.png")), ErrDirectoryIsolation)
	assert.ErrorIs(t, v.ValidateDirectoryAccess(testChat, filepath.Join(shared, "a.png")), ErrDirectoryIsolation)
	assert.ErrorIs(t, v.ValidateDirectoryAccess(aiChat, filepath.Join(f.test, "tmp", "ai_screenshots", "a.png")), ErrDirectoryIsolation)
}

func TestScreenshotSymlinkToRootGrantsNothing(t *testing.T) {
	f := newFixture(t)
	v := NewValidator(f.reg, nil)

	require.NoError(t, os.MkdirAll(filepath.Join(f.ai, "tmp"), 0o755))
	require.NoError(t, os.Symlink(string(filepath.Separator), filepath.Join(f.ai, "tmp", "ai_screenshots")))

	for _, p := range []string{
		"/etc/passwd",
		filepath.Join(f.ai, "tmp", "ai_screenshots", "etc", "shadow"),
		filepath.Join(f.root, "elsewhere.txt"),
	} {
		assert.ErrorIs(t, v.ValidateDirectoryAccess(aiChat, p), ErrDirectoryIsolation, p)
	}
	assert.NoError(t, v.ValidateDirectoryAccess(aiChat, filepath.Join(f.ai, "main.go")))
}

func TestCrossWorkspaceOverlap(t *testing.T) {
	root := t.TempDir()
	ai := filepath.Join(root, "ai")
	nested := filepath.Join(ai, "test")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	data, err := json.Marshal(map[string]any{
		"workspaces": map[string]any{
			"AI":   map[string]any{"working_directory": ai, "telegram_chat_id": "-1"},
			"Test": map[string]any{"working_directory": nested, "telegram_chat_id": "-2"},
		},
	})
	require.NoError(t, err)
	reg, err := ParseRegistry(data)
	require.NoError(t, err)

	rec := &recorder{}
	v := NewValidator(reg, rec)

	assert.NoError(t, v.ValidateDirectoryAccess("-1", filepath.Join(ai, "main.go")))

	err = v.ValidateDirectoryAccess("-1", filepath.Join(nested, "fixture.json"))
	var cross *CrossWorkspaceViolationError
	require.ErrorAs(t, err, &cross)
	assert.Equal(t, "Test", cross.OtherWorkspace)
	assert.Equal(t, nested, cross.OtherDirectory)
	assert.Equal(t, KindCrossWorkspace, rec.last(t).Kind)

	// The nested workspace's own files sit inside AI's tree, so the overlap
	// is reported from its side too.
	err = v.ValidateDirectoryAccess("-2", filepath.Join(nested, "fixture.json"))
	require.ErrorAs(t, err, &cross)
	assert.Equal(t, "AI", cross.OtherWorkspace)
}

func TestSharedDirectoryIsNotCrossWorkspace(t *testing.T) {
	root := t.TempDir()
	shared := filepath.Join(root, "shared")
	data, err := json.Marshal(map[string]any{
		"workspaces": map[string]any{
			"AI":   map[string]any{"allowed_directories": []string{filepath.Join(root, "ai"), shared}, "telegram_chat_id": "-1"},
			"Test": map[string]any{"allowed_directories": []string{filepath.Join(root, "test"), shared}, "telegram_chat_id": "-2"},
		},
	})
	require.NoError(t, err)
	reg, err := ParseRegistry(data)
	require.NoError(t, err)
	v := NewValidator(reg, nil)

	assert.NoError(t, v.ValidateDirectoryAccess("-1", filepath.Join(shared, "doc.md")))
	assert.NoError(t, v.ValidateDirectoryAccess("-2", filepath.Join(shared, "doc.md")))
}

func TestDecisionsAreAudited(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	v := NewValidator(f.reg, rec)

	require.NoError(t, v.ValidateNotionAccess(psyChat, "psy"))
	d := rec.last(t)
	assert.True(t, d.Allowed)
	assert.Equal(t, OperationNotion, d.Operation)
	assert.Equal(t, "PsyOPTIMAL", d.Workspace)
	assert.Equal(t, "psy", d.Resource)
	assert.False(t, d.Time.IsZero())

	err := v.ValidateDirectoryAccess(psyChat, f.fuse)
	require.Error(t, err)
	d = rec.last(t)
	assert.False(t, d.Allowed)
	assert.Equal(t, OperationDirectory, d.Operation)
	assert.Equal(t, KindDirectoryIsolation, d.Kind)
	assert.Equal(t, err.Error(), d.Message)

	require.Error(t, v.ValidateNotionAccess("-1", "PsyOPTIMAL"))
	d = rec.last(t)
	assert.Equal(t, KindUnmappedChat, d.Kind)
	assert.Empty(t, d.Workspace)
}

func TestAuditorPanicDoesNotChangeOutcome(t *testing.T) {
	f := newFixture(t)
	v := NewValidator(f.reg, AuditorFunc(func(Decision) { panic("disk full") }))

	assert.NoError(t, v.ValidateNotionAccess(psyChat, "PsyOPTIMAL"))
	assert.ErrorIs(t, v.ValidateNotionAccess(psyChat, "Test"), ErrIsolationViolation)
}

func TestValidatorIdempotence(t *testing.T) {
	f := newFixture(t)
	v := NewValidator(f.reg, nil)

	calls := []func() error{
		func() error { return v.ValidateNotionAccess(psyChat, "PsyOPTIMAL") },
		func() error { return v.ValidateNotionAccess(psyChat, "Test") },
		func() error { return v.ValidateDirectoryAccess(fuseChat, filepath.Join(f.fuse, "a")) },
		func() error { return v.ValidateDirectoryAccess(fuseChat, filepath.Join(f.ai, "a")) },
		func() error { return v.ValidateDirectoryAccess("nope", f.ai) },
	}
	for i, call := range calls {
		first := Kind(call())
		for range 5 {
			assert.Equal(t, first, Kind(call()), "call %d", i)
		}
	}
}

func TestValidatorAccessors(t *testing.T) {
	f := newFixture(t)
	v := NewValidator(f.reg, nil)

	dirs, err := v.AllowedDirectories(fuseChat)
	require.NoError(t, err)
	assert.Equal(t, []string{f.fuse}, dirs)
	dirs[0] = "/"
	again, _ := v.AllowedDirectories(fuseChat)
	assert.Equal(t, f.fuse, again[0])

	db, err := v.AllowedNotionDatabase(fuseChat)
	require.NoError(t, err)
	assert.Equal(t, "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", db)

	db, err = v.AllowedNotionDatabase(aiChat)
	require.NoError(t, err)
	assert.Empty(t, db)

	wd, err := v.DefaultWorkingDirectory(testChat)
	require.NoError(t, err)
	assert.Equal(t, f.test, wd)

	name, ok := v.WorkspaceForChat(psyChat)
	assert.True(t, ok)
	assert.Equal(t, "PsyOPTIMAL", name)
	assert.Same(t, f.reg, v.Registry())
}

func TestConcurrentValidation(t *testing.T) {
	f := newFixture(t)
	v := NewValidator(f.reg, &recorder{})

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, v.ValidateDirectoryAccess(aiChat, filepath.Join(f.ai, "x")))
			} else {
				assert.True(t, errors.Is(v.ValidateNotionAccess(aiChat, "PsyOPTIMAL"), ErrIsolationViolation))
			}
		}(i)
	}
	wg.Wait()
}
