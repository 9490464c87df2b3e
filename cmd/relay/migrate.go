package main

import (
	"fmt"

	"relay/cmd/internal/app"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the schema of the configured durable store and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.LoadConfig(envFile)
		if err != nil {
			return err
		}
		switch cfg.StoreBackend() {
		case app.StorePostgres, app.StoreSQLite:
		default:
			return fmt.Errorf("migrate needs RELAY_STORE=postgres or sqlite (resolved %q)", cfg.StoreBackend())
		}
		cfg.DBMigrate = true

		log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
		h, err := app.OpenStore(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = h.Close() }()

		log.Info("migrate.done", "backend", h.Backend)
		return nil
	},
}
