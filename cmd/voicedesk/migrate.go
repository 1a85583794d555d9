package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ent0n29/voicedesk/internal/config"
	"github.com/ent0n29/voicedesk/internal/store"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			version, err := migrate(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			if jsonMode(cmd) {
				return printJSON(cmd.OutOrStdout(), map[string]int64{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
}

func migrate(ctx context.Context, databaseURL string) (int64, error) {
	if databaseURL == "" {
		return 0, errors.New("DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()
	return store.Migrate(ctx, pool)
}
