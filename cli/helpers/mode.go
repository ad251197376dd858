package helpers

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// Mode selects how command results and errors are rendered.
type Mode string

const (
	ModeJSON Mode = "json"
	ModeText Mode = "text"
)

const (
	FormatFlag = "format"
	FormatAuto = "auto"
)

func isRunningInCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "BUILDKITE", "JENKINS_URL"} {
		if os.Getenv(v) != "" {
			return true
		}
	}
	return false
}

func isInteractive() bool {
	if isRunningInCI() || os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ParseMode resolves a --format value. "auto" picks text on an interactive terminal.
func ParseMode(format string) (Mode, error) {
	switch format {
	case string(ModeJSON):
		return ModeJSON, nil
	case string(ModeText):
		return ModeText, nil
	case FormatAuto, "":
		if isInteractive() {
			return ModeText, nil
		}
		return ModeJSON, nil
	default:
		return ModeJSON, fmt.Errorf("invalid --format %q: must be one of [auto json text]", format)
	}
}

// DetectMode reads the --format flag, defaulting to JSON when it is unusable.
func DetectMode(cmd *cobra.Command) Mode {
	format, err := cmd.Flags().GetString(FormatFlag)
	if err != nil {
		return ModeJSON
	}
	mode, err := ParseMode(format)
	if err != nil {
		return ModeJSON
	}
	return mode
}
