package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/yudame/valor/internal/authz"
	"github.com/yudame/valor/internal/logger"
)

func newServeCmd() *cobra.Command {
	var (
		addr  string
		token string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization HTTP service",
		Long: `Serves access checks over HTTP for processes that cannot link the
validator, plus a websocket stream of access decisions at /v1/audit/stream.
The workspace config is reloaded on change when watch_workspace_config is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(true)
			if err != nil {
				return err
			}
			defer rt.Close()

			if cmd.Flags().Changed("addr") {
				rt.Config.Server.ListenAddr = addr
			}
			if cmd.Flags().Changed("token") {
				rt.Config.Server.AuthToken = token
			}
			if rt.Config.Server.AuthToken == "" {
				logger.Warn("authz service started without an auth token")
			}

			srv := authz.NewServer(rt.Holder, rt.Config.Server.ListenAddr, rt.Config.Server.AuthToken)
			rt.Config.Server.AuthToken = ""
			token = ""
			rt.Attach(srv.Hub())
			if err := srv.Start(); err != nil {
				return fmt.Errorf("failed to start authz service: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s on http://%s\n", color.GreenString("Serving workspace checks"), srv.Addr())
			if rt.Store != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Audit database: %s\n", rt.Store.Path())
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("Shutting down..."))
			return srv.Stop()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.listen_addr)")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token required by every endpoint but /health")
	return cmd
}
