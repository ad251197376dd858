package logger

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Flags holds the logging flags shared by every command.
type Flags struct {
	Level  string
	JSON   bool
	Source bool
}

// FlagsFromCommand reads --log-level, --log-json and --log-source.
func FlagsFromCommand(cmd *cobra.Command) (Flags, error) {
	var f Flags
	var err error
	if f.Level, err = cmd.Flags().GetString("log-level"); err != nil {
		return f, fmt.Errorf("read log-level flag: %w", err)
	}
	if f.JSON, err = cmd.Flags().GetBool("log-json"); err != nil {
		return f, fmt.Errorf("read log-json flag: %w", err)
	}
	if f.Source, err = cmd.Flags().GetBool("log-source"); err != nil {
		return f, fmt.Errorf("read log-source flag: %w", err)
	}
	return f, nil
}

// Setup installs and returns the process-wide logger.
func Setup(level string, json, source bool) Logger {
	Init(&Config{
		Level:      ParseLevel(level),
		JSON:       json,
		AddSource:  source,
		TimeFormat: "15:04:05",
	})
	return GetDefault()
}
