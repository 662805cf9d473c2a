package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yudame/valor/internal/workspace"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRecordAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	decisions := []workspace.Decision{
		{Time: base, ChatID: "-1", Operation: workspace.OperationNotion, Workspace: "AI", Resource: "AI", Allowed: true},
		{Time: base.Add(time.Second), ChatID: "-1", Operation: workspace.OperationNotion, Workspace: "AI", Resource: "Test",
			Kind: workspace.KindIsolationViolation, Message: `chat -1 bound to workspace "AI" attempted to access workspace "Test"`},
		{Time: base.Add(2 * time.Second), ChatID: "-2", Operation: workspace.OperationDirectory, Workspace: "Test", Resource: "/etc",
			Kind: workspace.KindDirectoryIsolation},
		{Time: base.Add(3 * time.Second), ChatID: "-9", Operation: workspace.OperationDirectory, Resource: "/src",
			Kind: workspace.KindUnmappedChat},
	}
	for _, d := range decisions {
		s.Record(d)
	}

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 4)
	assert.Equal(t, "-9", recent[0].ChatID)
	assert.Equal(t, "-1", recent[3].ChatID)
	assert.True(t, recent[3].Allowed)
	assert.True(t, recent[3].RecordedAt.Equal(base))
	assert.Len(t, recent[0].ID, 36)
	assert.NotEqual(t, recent[0].ID, recent[1].ID)

	limited, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	denials, err := s.Denials(ctx, "-1", 0)
	require.NoError(t, err)
	require.Len(t, denials, 1)
	assert.Equal(t, "Test", denials[0].Resource)
	assert.Equal(t, workspace.KindIsolationViolation, denials[0].Kind)
	assert.Contains(t, denials[0].Message, `"Test"`)

	all, err := s.Denials(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	counts, err := s.CountByKind(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		workspace.KindIsolationViolation: 1,
		workspace.KindDirectoryIsolation: 1,
		workspace.KindUnmappedChat:       1,
	}, counts)

	removed, err := s.Prune(ctx, base.Add(2*time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)
	recent, err = s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestStoreReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(path)
	require.NoError(t, err)
	s.Record(workspace.Decision{ChatID: "-1", Operation: workspace.OperationNotion, Allowed: true})
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	entries, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].RecordedAt.IsZero())
}

func TestStoreAsValidatorAuditor(t *testing.T) {
	s := openTestStore(t)
	reg, err := workspace.ParseRegistry([]byte(`{
		"workspaces": {"AI": {"working_directory": "/src/ai", "telegram_chat_id": "-1"}}
	}`))
	require.NoError(t, err)
	v := workspace.NewValidator(reg, s)

	require.NoError(t, v.ValidateDirectoryAccess("-1", "/src/ai/main.go"))
	require.Error(t, v.ValidateDirectoryAccess("-1", "/src/ai2/main.go"))

	denials, err := s.Denials(context.Background(), "-1", 0)
	require.NoError(t, err)
	require.Len(t, denials, 1)
	assert.Equal(t, workspace.KindDirectoryIsolation, denials[0].Kind)
	assert.Equal(t, "AI", denials[0].Workspace)
}

func TestStoreRecordAfterCloseDoesNotPanic(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.NotPanics(t, func() { s.Record(workspace.Decision{ChatID: "-1"}) })
	assert.Error(t, s.Insert(context.Background(), workspace.Decision{ChatID: "-1"}))
}

func TestFanout(t *testing.T) {
	var got []string
	f := NewFanout(
		workspace.AuditorFunc(func(d workspace.Decision) { got = append(got, "first:"+d.ChatID) }),
		nil,
		workspace.AuditorFunc(func(workspace.Decision) { panic("broken sink") }),
		workspace.AuditorFunc(func(d workspace.Decision) { got = append(got, "last:"+d.ChatID) }),
	)
	assert.Len(t, f, 3)

	f.Record(workspace.Decision{ChatID: "-7"})
	assert.Equal(t, []string{"first:-7", "last:-7"}, got)
}
