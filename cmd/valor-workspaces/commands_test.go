package main

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yudame/valor/internal/config"
	"github.com/yudame/valor/internal/workspace"
)

// setupCLI points the CLI at a temporary workspace config and returns its
// root directory.
func setupCLI(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"src/ai", "src/psyoptimal"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
	data, err := json.Marshal(map[string]any{
		"workspaces": map[string]any{
			"AI": map[string]any{
				"working_directory": filepath.Join(root, "src/ai"),
				"telegram_chat_id":  "-100",
			},
			"PsyOPTIMAL": map[string]any{
				"working_directory": filepath.Join(root, "src/psyoptimal"),
				"telegram_chat_id":  "-200",
				"aliases":           []string{"psy"},
			},
		},
		"dm_whitelist": map[string]any{
			"allowed_users": map[string]any{"tom": map[string]any{"description": "owner"}},
		},
	})
	require.NoError(t, err)
	wsPath := filepath.Join(root, "workspace_config.json")
	require.NoError(t, os.WriteFile(wsPath, data, 0o600))

	t.Setenv(config.EnvConfigPath, filepath.Join(root, "missing-config.json"))
	t.Setenv(config.EnvWorkspaceConfigPath, wsPath)
	t.Setenv(config.EnvLogPath, filepath.Join(root, "valor.log"))
	t.Setenv(config.EnvAuditDBPath, filepath.Join(root, "audit.db"))
	t.Setenv(workspace.EnvAllowedGroups, "")
	t.Setenv(workspace.EnvAllowDMs, "")
	return root
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--output", "text"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckCommands(t *testing.T) {
	root := setupCLI(t)

	out, err := runCLI(t, "check", "notion", "--chat", "-200", "psy")
	require.NoError(t, err)
	assert.Contains(t, out, "ALLOWED")

	out, err = runCLI(t, "check", "notion", "--chat", "-100", "PsyOPTIMAL")
	assert.ErrorIs(t, err, errRejected)
	assert.Equal(t, exitRejected, exitCode(err))
	assert.Contains(t, out, "DENIED")
	assert.Contains(t, out, workspace.KindIsolationViolation)

	_, err = runCLI(t, "check", "dir", "--chat=-100", filepath.Join(root, "src/ai/main.go"))
	require.NoError(t, err)

	out, err = runCLI(t, "check", "dir", "--chat=-100", filepath.Join(root, "src/psyoptimal/x.py"))
	assert.ErrorIs(t, err, errRejected)
	assert.Contains(t, out, workspace.KindDirectoryIsolation)

	_, err = runCLI(t, "check", "dir", "--chat", "-999", filepath.Join(root, "src/ai"))
	assert.ErrorIs(t, err, errRejected)
}

func TestAuditTailAfterChecks(t *testing.T) {
	setupCLI(t)

	_, err := runCLI(t, "check", "notion", "--chat", "-100", "PsyOPTIMAL")
	require.ErrorIs(t, err, errRejected)

	out, err := runCLI(t, "--output", "json", "audit", "tail", "--chat", "-100")
	require.NoError(t, err)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, workspace.KindIsolationViolation, entries[0]["kind"])

	out, err = runCLI(t, "audit", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, workspace.KindIsolationViolation)
}

func TestAuditWithoutDatabase(t *testing.T) {
	setupCLI(t)
	t.Setenv(config.EnvAuditDBPath, "")

	_, err := runCLI(t, "audit", "tail")
	assert.ErrorIs(t, err, errNoAuditDB)
}

func TestListCommandJSON(t *testing.T) {
	setupCLI(t)

	out, err := runCLI(t, "--output", "json", "list")
	require.NoError(t, err)
	var view listView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Len(t, view.Workspaces, 2)
	assert.Equal(t, "AI", view.Workspaces[0].Name)
	assert.Equal(t, "ai", view.Workspaces[0].Type)
	assert.Equal(t, []string{"psy"}, view.Workspaces[1].Aliases)
	require.Len(t, view.DMWhitelist, 1)
	assert.Equal(t, "tom", view.DMWhitelist[0].Identifier)
	assert.Equal(t, view.DMDefault, view.DMWhitelist[0].WorkingDirectory)
}

func TestWhitelistAndValidateEnv(t *testing.T) {
	setupCLI(t)

	_, err := runCLI(t, "whitelist", "--chat", "-100")
	assert.ErrorIs(t, err, errRejected, "no groups configured")

	t.Setenv(workspace.EnvAllowedGroups, "AI, psy")
	_, err = runCLI(t, "whitelist", "--chat", "-200")
	assert.NoError(t, err)

	_, err = runCLI(t, "whitelist", "--chat", "42", "--private", "--username", "@Tom")
	assert.NoError(t, err)

	t.Setenv(workspace.EnvAllowDMs, "no")
	out, err := runCLI(t, "whitelist", "--chat", "42", "--private", "--username", "tom")
	assert.ErrorIs(t, err, errRejected)
	assert.Contains(t, out, "DENIED")

	out, err = runCLI(t, "validate-env")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:  valid")
	assert.Contains(t, out, "DMs:     disabled")

	t.Setenv(workspace.EnvAllowedGroups, "AI, Nowhere")
	_, err = runCLI(t, "validate-env")
	assert.ErrorIs(t, err, errRejected)

	_, err = runCLI(t, "whitelist", "--chat", "not-a-number")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errRejected)
}

func TestSandboxCommand(t *testing.T) {
	root := setupCLI(t)

	out, err := runCLI(t, "--output", "json", "sandbox", "--chat", "-100")
	require.NoError(t, err)
	var view sandboxView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "AI", view.Workspace)
	assert.Contains(t, view.Rules, ruleView{Path: filepath.Join(root, "src/ai"), Access: "rw"})

	_, err = runCLI(t, "sandbox", "--chat", "-999")
	assert.ErrorIs(t, err, errRejected)
}

func TestInvalidOutputFormat(t *testing.T) {
	setupCLI(t)
	_, err := runCLI(t, "--output", "xml", "list")
	assert.Error(t, err)
	assert.Equal(t, exitError, exitCode(err))
}

func TestPersistentFlagsReachConfig(t *testing.T) {
	root := setupCLI(t)
	wsPath := filepath.Join(root, "workspace_config.json")
	t.Setenv(config.EnvWorkspaceConfigPath, filepath.Join(root, "nowhere.json"))

	require.NotPanics(t, func() { newRootCmd() })

	out, err := runCLI(t, "--workspace-config", wsPath, "check", "notion", "--chat", "-100", "AI")
	require.NoError(t, err, out)
	assert.Contains(t, out, "ALLOWED")
}

func TestChatIsRequiredFlag(t *testing.T) {
	setupCLI(t)

	_, err := runCLI(t, "check", "notion", "AI")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"chat"`)
	assert.Equal(t, exitError, exitCode(err))

	_, err = runCLI(t, "sandbox")
	assert.Error(t, err)
}

// disableSandbox writes a config file that turns Landlock off, so exec tests
// never restrict the test process itself.
func disableSandbox(t *testing.T, root string) {
	t.Helper()
	path := filepath.Join(root, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sandbox": {"disable_sandbox": true}}`), 0o600))
	t.Setenv(config.EnvConfigPath, path)
}

func TestSandboxExec(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh on PATH")
	}
	root := setupCLI(t)
	disableSandbox(t, root)

	out, err := runCLI(t, "sandbox", "exec", "--chat", "-100", "--", sh, "-c", "pwd -P")
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(filepath.Join(root, "src/ai"))
	require.NoError(t, err)
	assert.Equal(t, want, strings.TrimSpace(out))

	_, err = runCLI(t, "sandbox", "exec", "--chat", "-100", sh, "-c", "exit 3")
	var child *childExitError
	require.ErrorAs(t, err, &child)
	assert.Equal(t, 3, exitCode(err))

	_, err = runCLI(t, "sandbox", "exec", "--chat", "-999", "--", sh, "-c", "true")
	assert.ErrorIs(t, err, errRejected)

	_, err = runCLI(t, "sandbox", "exec", "--chat", "-100", "--", "valor-no-such-binary")
	assert.Error(t, err)
	assert.Equal(t, exitError, exitCode(err))
}
