package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yudame/valor/internal/app"
	"github.com/yudame/valor/internal/config"
)

const envPrefix = "VALOR"

// errRejected marks a check that ran and answered no. The result has already
// been printed, so main only sets the exit code.
var errRejected = errors.New("rejected")

// Exit codes.
const (
	exitRejected = 1
	exitError    = 2
)

func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, errRejected) {
		return exitRejected
	}
	var child *childExitError
	if errors.As(err, &child) {
		if child.code > 0 {
			return child.code
		}
		return exitError
	}
	fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
	return exitError
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "valor-workspaces",
		Short: "Workspace access isolation for Valor",
		Long: `valor-workspaces checks the workspace isolation rules Valor enforces for
Telegram chats: which Notion workspace and which directories a chat may use,
which chats may reach the bot at all, and the Landlock profile a workspace
session runs under.

Chat ids are passed with --chat because Telegram group ids are negative.
Checks exit with status 1 when access is denied and 2 on configuration errors;
sandbox exec exits with the command's status.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cobra.OnInitialize(initConfig)

	pf := cmd.PersistentFlags()
	pf.String("config", "", "Valor config file (default $VALOR_CONFIG or ~/.config/valor/config.json)")
	pf.String("workspace-config", "", "Workspace config file (overrides the config file)")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.StringP("output", "o", string(formatText), "Output format: text, json, yaml")
	for _, name := range []string{"config", "workspace-config", "log-level", "output"} {
		if err := viper.BindPFlag(name, pf.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newWhitelistCmd())
	cmd.AddCommand(newValidateEnvCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newSandboxCmd())

	return cmd
}

func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads the config file and applies VALOR_* variables, then the
// command-line flags.
func loadConfig() (*config.Config, error) {
	path := strings.TrimSpace(viper.GetString("config"))
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	cfg.ApplyEnv(nil)

	if p := strings.TrimSpace(viper.GetString("workspace-config")); p != "" {
		cfg.WorkspaceConfigPath = p
	}
	if lvl := strings.TrimSpace(viper.GetString("log-level")); lvl != "" {
		cfg.LogLevel = lvl
	}
	if err := app.InitLogging(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, nil
}

// openRuntime builds a validator for a one-shot command. Only serve watches
// the workspace config.
func openRuntime(watch bool) (*app.Runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.WatchWorkspaceConfig = watch && cfg.WatchWorkspaceConfig
	return app.Build(cfg)
}

func newPrinterFor(cmd *cobra.Command) (*printer, error) {
	format, err := parseFormat(viper.GetString("output"))
	if err != nil {
		return nil, err
	}
	return newPrinter(cmd.OutOrStdout(), format), nil
}
