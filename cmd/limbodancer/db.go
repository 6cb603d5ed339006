package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/limbodancer/limbodancer-mcp/internal/store"
)

func init() {
	dbCmd.AddCommand(dbMigrateCmd)
}

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "History database operations",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the history store schema",
	Long: `Apply the chat history schema to the configured postgres database.
Migration is idempotent; re-running against an up-to-date database is a no-op.

Examples:
  limbodancer db migrate --config limbodancer.yaml
  LDM_HISTORY_DSN=postgres://localhost/limbodancer limbodancer db migrate`,
	RunE: runDBMigrate,
}

func runDBMigrate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.History.DSN == "" {
		return fmt.Errorf("%w: history.dsn is not configured", errEndpointMissing)
	}

	pg, err := store.NewPostgresHistory(ctx, cfg.History.DSN)
	if err != nil {
		return fmt.Errorf("%w: postgres: %w", errDependencyUnavailable, err)
	}
	defer pg.Close()

	if err := pg.Ping(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %w", errDependencyUnavailable, err)
	}
	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("applying history schema: %w", err)
	}

	fmt.Println("history schema up to date")
	return nil
}
