package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"github.com/yudame/valor/internal/app"
	"github.com/yudame/valor/internal/logger"
	"github.com/yudame/valor/internal/sandbox"
	"github.com/yudame/valor/internal/workspace"
)

// childExitError carries the exit status of a command run by sandbox exec.
type childExitError struct {
	code int
}

func (e *childExitError) Error() string { return fmt.Sprintf("command exited with status %d", e.code) }

func newSandboxCmd() *cobra.Command {
	var chat string
	cmd := &cobra.Command{
		Use:   "sandbox --chat <chat-id>",
		Short: "Show the Landlock profile for a chat's workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinterFor(cmd)
			if err != nil {
				return err
			}
			rt, err := openRuntime(false)
			if err != nil {
				return err
			}
			defer rt.Close()

			sb, err := sandboxForChat(p, rt, chat, nil)
			if err != nil {
				return err
			}
			view := sandboxView{Workspace: sb.Workspace(), Enabled: sb.IsEnabled()}
			for _, r := range sb.Rules() {
				view.Rules = append(view.Rules, ruleView{Path: r.Path, Access: r.Access.String()})
			}
			return p.printSandbox(view)
		},
	}
	cmd.PersistentFlags().StringVar(&chat, "chat", "", "Telegram chat id (group ids are negative)")
	if err := cmd.MarkPersistentFlagRequired("chat"); err != nil {
		panic(err)
	}
	cmd.AddCommand(newSandboxExecCmd(&chat))
	return cmd
}

// sandboxForChat builds the chat's profile, printing the denial when the chat
// has no workspace.
func sandboxForChat(p *printer, rt *app.Runtime, chat string, override func(*sandbox.SandboxConfig)) (*sandbox.LandlockSandbox, error) {
	cfg := sandbox.FromConfig(rt.Config)
	if override != nil {
		override(cfg)
	}
	sb, err := sandbox.ForChat(rt.Validator(), chat, cfg)
	if err == nil {
		return sb, nil
	}
	if workspace.Kind(err) == "" {
		return nil, err
	}
	if perr := p.printCheck(newCheckResult(chat, "sandbox", "profile", "", err)); perr != nil {
		return nil, perr
	}
	return nil, errRejected
}

func newSandboxExecCmd(chat *string) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "exec --chat <chat-id> -- <command> [args...]",
		Short: "Run a command confined to a chat's workspace",
		Long: `Applies the chat's Landlock profile to this process and runs the command in
the workspace's default working directory. The command and everything it
starts can write only inside the workspace directories and temp directories.

With --strict the command is not run when the kernel cannot enforce the
profile; otherwise sandbox.best_effort from the config decides.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinterFor(cmd)
			if err != nil {
				return err
			}
			rt, err := openRuntime(false)
			if err != nil {
				return err
			}
			defer rt.Close()

			sb, err := sandboxForChat(p, rt, *chat, func(cfg *sandbox.SandboxConfig) {
				if strict {
					cfg.BestEffort = false
				}
			})
			if err != nil {
				return err
			}
			dir, err := rt.Validator().DefaultWorkingDirectory(*chat)
			if err != nil {
				return err
			}

			// Resolve before restricting; PATH entries may lie outside the profile.
			path, err := exec.LookPath(args[0])
			if err != nil {
				return err
			}
			if err := sb.Restrict(); err != nil {
				return err
			}
			if !sb.Restricted() {
				logger.Warn("running %s for workspace %q without a Landlock profile", args[0], sb.Workspace())
			}

			child := exec.CommandContext(cmd.Context(), path, args[1:]...)
			child.Dir = dir
			child.Stdin = os.Stdin
			child.Stdout = cmd.OutOrStdout()
			child.Stderr = cmd.ErrOrStderr()
			if err := child.Run(); err != nil {
				var exitErr *exec.ExitError
				if errors.As(err, &exitErr) {
					return &childExitError{code: exitErr.ExitCode()}
				}
				return fmt.Errorf("failed to run %s: %w", args[0], err)
			}
			return nil
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().BoolVar(&strict, "strict", false, "Refuse to run when Landlock cannot be enforced")
	return cmd
}
