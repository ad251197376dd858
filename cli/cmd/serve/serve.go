package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/utakatik/utakatik/cli/cmd"
	"github.com/utakatik/utakatik/engine/indexer"
	"github.com/utakatik/utakatik/pkg/config"
	"github.com/utakatik/utakatik/pkg/logger"
)

const productionEnvironment = "production"

// NewServeCommand creates the command that runs the HTTP API.
func NewServeCommand() *cobra.Command {
	c := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Run the assistant HTTP server",
		Long:    "Serve the chat, ask, reindex and embed-one endpoints until interrupted",
		RunE:    executeServeCommand,
	}
	c.Flags().String("schedule", "", "Cron schedule for background reindexing (overrides reindex.schedule)")
	return c
}

func executeServeCommand(cobraCmd *cobra.Command, args []string) error {
	return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, handleServe, args)
}

func handleServe(ctx context.Context, cobraCmd *cobra.Command, executor *cmd.CommandExecutor, _ []string) error {
	log := logger.FromContext(ctx)
	cfg := config.FromContext(ctx)
	if cfg.Runtime.Environment == productionEnvironment {
		gin.SetMode(gin.ReleaseMode)
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	a := executor.App()
	srv, err := a.Server(ctx)
	if err != nil {
		return err
	}
	schedule := cfg.Reindex.Schedule
	if cobraCmd.Flags().Changed("schedule") {
		schedule, _ = cobraCmd.Flags().GetString("schedule")
	}
	if strings.TrimSpace(schedule) != "" {
		sched, err := indexer.NewScheduler(ctx, schedule, a.Reindexer)
		if err != nil {
			return err
		}
		sched.Start()
		log.Info("Background reindex scheduled", "schedule", schedule)
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				log.Warn("Scheduled reindex did not finish before shutdown", "error", err)
			}
		}()
	}
	log.Info("Starting assistant",
		"environment", cfg.Runtime.Environment,
		"address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
	)
	return srv.Run(ctx)
}
