package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/poirierunited/get-ahead-ai/internal/config"
	"github.com/poirierunited/get-ahead-ai/internal/feedback"
	"github.com/poirierunited/get-ahead-ai/internal/interview"
)

var errNoDSN = errors.New("storage.postgres_dsn is not configured")

func migrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the PostgreSQL tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			pool, err := openPostgres(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := interview.NewPostgresRepository(pool).Migrate(cmd.Context()); err != nil {
				return err
			}
			if err := feedback.NewPostgresStore(pool).Migrate(cmd.Context()); err != nil {
				return err
			}
			slog.Info("migrations applied")
			return nil
		},
	}
}

// openPostgres connects to the configured database.
func openPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.Storage.PostgresDSN == "" {
		return nil, errNoDSN
	}
	pool, err := pgxpool.New(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}
