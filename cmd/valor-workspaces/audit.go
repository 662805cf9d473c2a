package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/yudame/valor/internal/audit"
	"github.com/yudame/valor/internal/config"
)

var errNoAuditDB = errors.New("no audit database configured (set audit_db_path or " + config.EnvAuditDBPath + ")")

func openAuditStore() (*audit.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.AuditDBPath == "" {
		return nil, errNoAuditDB
	}
	return audit.Open(cfg.AuditDBPath)
}

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query recorded access decisions",
	}
	cmd.AddCommand(newAuditTailCmd())
	cmd.AddCommand(newAuditStatsCmd())
	cmd.AddCommand(newAuditPruneCmd())
	return cmd
}

func newAuditTailCmd() *cobra.Command {
	var (
		limit   int
		chatID  string
		denials bool
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent decisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinterFor(cmd)
			if err != nil {
				return err
			}
			store, err := openAuditStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			var entries []audit.Entry
			if denials || chatID != "" {
				entries, err = store.Denials(ctx, chatID, limit)
			} else {
				entries, err = store.Recent(ctx, limit)
			}
			if err != nil {
				return fmt.Errorf("failed to query audit log: %w", err)
			}
			return p.printEntries(entries)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of decisions to show")
	cmd.Flags().StringVar(&chatID, "chat", "", "Only denials for this chat id")
	cmd.Flags().BoolVar(&denials, "denials", false, "Only show denials")
	return cmd
}

func newAuditStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count recorded denials by kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinterFor(cmd)
			if err != nil {
				return err
			}
			store, err := openAuditStore()
			if err != nil {
				return err
			}
			defer store.Close()

			counts, err := store.CountByKind(context.Background())
			if err != nil {
				return fmt.Errorf("failed to query audit log: %w", err)
			}
			return p.printKindCounts(counts)
		},
	}
}

func newAuditPruneCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete decisions older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			store, err := openAuditStore()
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Prune(context.Background(), time.Now().Add(-olderThan))
			if err != nil {
				return fmt.Errorf("failed to prune audit log: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d decisions older than %s\n", removed, olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age cutoff")
	return cmd
}
