package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mathavam/backend/internal/config"
	"mathavam/backend/internal/store/postgres"
	"mathavam/backend/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			extSchema, _ := cmd.Flags().GetString("extension-schema")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.StoreDriver != config.StorePostgres {
				return fmt.Errorf("migrate requires store driver %q, got %q", config.StorePostgres, cfg.StoreDriver)
			}
			log := newLogger(cfg.LogLevel)

			ctx := cmd.Context()
			log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
			db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.Options{MaxOpenConns: 1, Log: log})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() {
				if err := postgres.Close(db); err != nil {
					log.Warn("database close failed", slog.Any("err", err))
				}
			}()

			ran, err := postgres.Migrate(ctx, db, migrations.FS, postgres.MigrateOptions{
				ExtensionSchema: extSchema,
				Track:           true,
				Log:             log,
			})
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			log.Info("migrations applied", slog.Int("count", len(ran)), slog.Any("files", ran))
			return nil
		},
	}
	cmd.Flags().String("extension-schema", "", "Schema for CREATE EXTENSION statements")
	return cmd
}
