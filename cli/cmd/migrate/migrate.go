package migrate

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/utakatik/utakatik/cli/cmd"
	"github.com/utakatik/utakatik/cli/helpers"
	"github.com/utakatik/utakatik/engine/app"
	"github.com/utakatik/utakatik/pkg/config"
	"github.com/utakatik/utakatik/pkg/logger"
)

// NewMigrateCommand applies the index schema for the sqlite and postgres drivers.
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the product index schema",
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{}, handleMigrate, args)
		},
	}
}

func handleMigrate(ctx context.Context, cobraCmd *cobra.Command, executor *cmd.CommandExecutor, _ []string) error {
	cfg := config.FromContext(ctx)
	if err := app.Migrate(ctx, &cfg.Store, cfg.Embedder.Dimension); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("Migrations applied", "driver", cfg.Store.Driver)
	return executor.Write(cobraCmd.OutOrStdout(), map[string]any{"ok": true, "driver": cfg.Store.Driver},
		helpers.Field{Label: "Migrated", Value: cfg.Store.Driver},
	)
}
