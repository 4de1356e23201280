package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/poirierunited/get-ahead-ai/internal/interview"
)

func seedCmd(g *globals) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert interview fixtures into PostgreSQL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if file == "" {
				file = cfg.Storage.InterviewsFile
			}
			if file == "" {
				return errors.New("no fixture file: pass --file or set storage.interviews_file")
			}
			items, err := interview.LoadFixtures(file)
			if err != nil {
				return err
			}
			pool, err := openPostgres(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := interview.NewPostgresRepository(pool)
			for i := range items {
				if err := repo.Upsert(cmd.Context(), &items[i]); err != nil {
					return fmt.Errorf("seed %q: %w", items[i].ID, err)
				}
			}
			slog.Info("interviews seeded", "file", file, "count", len(items))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML fixture file (default storage.interviews_file)")
	return cmd
}
