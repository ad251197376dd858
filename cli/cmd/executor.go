package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/utakatik/utakatik/cli/helpers"
	"github.com/utakatik/utakatik/engine/app"
	"github.com/utakatik/utakatik/pkg/config"
	"github.com/utakatik/utakatik/pkg/logger"
)

// CommandExecutor handles common setup and execution patterns for CLI commands:
// mode detection, building the assistant, cancellation and error reporting.
type CommandExecutor struct {
	mode helpers.Mode
	app  *app.App
}

// HandlerFunc defines the signature for command handlers.
type HandlerFunc func(ctx context.Context, cmd *cobra.Command, executor *CommandExecutor, args []string) error

// ExecutorOptions allows customization of the command executor
type ExecutorOptions struct {
	RequireApp bool
}

// NewCommandExecutor creates a new command executor with all necessary setup.
func NewCommandExecutor(cmd *cobra.Command, opts ExecutorOptions) (*CommandExecutor, error) {
	ctx := cmd.Context()
	mode := helpers.DetectMode(cmd)
	logger.FromContext(ctx).Debug("detected execution mode", "mode", mode)
	executor := &CommandExecutor{mode: mode}
	if opts.RequireApp {
		a, err := app.Build(ctx, config.FromContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to build assistant: %w", err)
		}
		executor.app = a
	}
	return executor, nil
}

// Execute runs handler under a cancelable context and releases the assistant afterwards.
func (e *CommandExecutor) Execute(ctx context.Context, cmd *cobra.Command, handler HandlerFunc, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer e.close(ctx)
	return handler(ctx, cmd, e, args)
}

func (e *CommandExecutor) close(ctx context.Context) {
	if e.app == nil {
		return
	}
	if err := e.app.Close(context.WithoutCancel(ctx)); err != nil {
		logger.FromContext(ctx).Warn("Failed to release resources", "error", err)
	}
}

// App returns the assistant, or nil when the command did not require it.
func (e *CommandExecutor) App() *app.App {
	return e.app
}

// Mode returns the detected output mode.
func (e *CommandExecutor) Mode() helpers.Mode {
	return e.mode
}

// Write prints a command result in the executor's mode.
func (e *CommandExecutor) Write(w io.Writer, data any, fields ...helpers.Field) error {
	return helpers.WriteResult(w, e.mode, data, fields...)
}

// ExecuteCommand is a convenience function that combines executor creation and execution.
func ExecuteCommand(cmd *cobra.Command, opts ExecutorOptions, handler HandlerFunc, args []string) error {
	executor, err := NewCommandExecutor(cmd, opts)
	if err != nil {
		return HandleCommonErrors(cmd.ErrOrStderr(), err, helpers.DetectMode(cmd))
	}
	err = executor.Execute(cmd.Context(), cmd, handler, args)
	return HandleCommonErrors(cmd.ErrOrStderr(), err, executor.Mode())
}

// ValidateRequiredFlags checks that all required flags are present and non-empty.
func ValidateRequiredFlags(cmd *cobra.Command, required []string) error {
	for _, flag := range required {
		if !cmd.Flags().Changed(flag) {
			return helpers.NewCliError(helpers.CodeMissingFlag, fmt.Sprintf("required flag '%s' not specified", flag))
		}
		if value, err := cmd.Flags().GetString(flag); err == nil && value == "" {
			return helpers.NewCliError(helpers.CodeMissingFlag, fmt.Sprintf("required flag '%s' cannot be empty", flag))
		}
	}
	return nil
}

// HandleCommonErrors provides consistent error handling across all commands.
func HandleCommonErrors(w io.Writer, err error, mode helpers.Mode) error {
	if err == nil {
		return nil
	}
	cliErr := helpers.CategorizeError(err)
	if cliErr == nil {
		cliErr = helpers.NewCliError(helpers.CodeCommandFailed, err.Error())
	}
	helpers.OutputError(w, cliErr, mode)
	return cliErr
}
