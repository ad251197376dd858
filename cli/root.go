package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/utakatik/utakatik/cli/cmd/embed"
	"github.com/utakatik/utakatik/cli/cmd/importcmd"
	"github.com/utakatik/utakatik/cli/cmd/indexone"
	"github.com/utakatik/utakatik/cli/cmd/migrate"
	"github.com/utakatik/utakatik/cli/cmd/reindex"
	"github.com/utakatik/utakatik/cli/cmd/serve"
	"github.com/utakatik/utakatik/cli/helpers"
	"github.com/utakatik/utakatik/pkg/config"
	"github.com/utakatik/utakatik/pkg/logger"
	"github.com/utakatik/utakatik/pkg/version"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "utakatik",
		Short:             "Product assistant with retrieval-grounded answers",
		Version:           version.Get().String(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupContext,
	}
	flags := root.PersistentFlags()
	flags.String("config", "utakatik.yaml", "Path to the config file")
	flags.String("env-file", ".env", "Path to a .env file loaded before the environment")
	flags.String("log-level", "info", "Log level (debug, info, warn, error, disabled)")
	flags.Bool("log-json", false, "Emit logs as JSON")
	flags.Bool("log-source", false, "Include source locations in logs")
	flags.String(helpers.FormatFlag, helpers.FormatAuto, "Output format (auto, json, text)")

	root.AddCommand(
		serve.NewServeCommand(),
		reindex.NewReindexCommand(),
		indexone.NewIndexOneCommand(),
		embed.NewEmbedCommand(),
		migrate.NewMigrateCommand(),
		importcmd.NewImportCommand(),
	)
	return root
}

// setupContext loads configuration and installs the logger before any command runs.
func setupContext(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	envFile, _ := flags.GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	format, _ := flags.GetString(helpers.FormatFlag)
	if _, err := helpers.ParseMode(format); err != nil {
		return err
	}
	logFlags, err := logger.FlagsFromCommand(cmd)
	if err != nil {
		return err
	}
	overrides := map[string]any{}
	if flags.Changed("log-level") {
		overrides["runtime.log_level"] = logFlags.Level
	}
	if flags.Changed("log-json") {
		overrides["runtime.log_json"] = logFlags.JSON
	}
	configPath, _ := flags.GetString("config")
	cfg, err := config.NewService().Load(cmd.Context(),
		config.NewYAMLProvider(configPath),
		config.NewCLIProvider(overrides),
	)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.Setup(cfg.Runtime.LogLevel, cfg.Runtime.LogJSON, logFlags.Source)
	log.Debug("Configuration loaded", "config", configPath, "store", cfg.Store.Driver)
	ctx := config.ContextWithConfig(cmd.Context(), cfg)
	ctx = logger.ContextWithLogger(ctx, log)
	cmd.SetContext(ctx)
	return nil
}

// Execute runs the root command. Errors not already reported by a command are printed here.
func Execute() error {
	err := RootCmd().Execute()
	var cliErr *helpers.CliError
	if err != nil && !errors.As(err, &cliErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}
