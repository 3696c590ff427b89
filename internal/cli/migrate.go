package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"payrollx/internal/platform/db"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations for the configured storage driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			switch cfg.StorageDriver {
			case "postgres":
				pool, err := db.Connect(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns})
				if err != nil {
					return fmt.Errorf("db connect: %w", err)
				}
				defer pool.Close()
				if err := db.Migrate(ctx, pool, db.PostgresMigrations()); err != nil {
					return err
				}
			case "sqlite":
				conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
				if err != nil {
					return fmt.Errorf("sqlite open: %w", err)
				}
				defer conn.Close()
				if err := db.MigrateSQLite(ctx, conn, db.SQLiteMigrations()); err != nil {
					return err
				}
			default:
				return fmt.Errorf("storage driver %q has no migrations", cfg.StorageDriver)
			}
			log.Info("migrations applied", "driver", cfg.StorageDriver)
			return nil
		},
	}
}
