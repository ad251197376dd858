package helpers

import (
	"context"
	"errors"

	"github.com/utakatik/utakatik/engine/core"
)

// Error codes reported by the CLI.
const (
	CodeCanceled         = "OPERATION_CANCELED"
	CodeTimeout          = "OPERATION_TIMEOUT"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeModelUnavailable = "MODEL_UNAVAILABLE"
	CodeUpstream         = "UPSTREAM_ERROR"
	CodePersistence      = "PERSISTENCE_ERROR"
	CodeMissingFlag      = "MISSING_FLAG"
	CodeCommandFailed    = "COMMAND_FAILED"
)

// CategorizeError maps engine errors onto CLI error codes; nil means uncategorized.
func CategorizeError(err error) *CliError {
	var cliErr *CliError
	var upstream *core.UpstreamError
	switch {
	case errors.As(err, &cliErr):
		return cliErr
	case errors.Is(err, context.Canceled):
		return NewCliError(CodeCanceled, "Operation was canceled")
	case errors.Is(err, core.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return NewCliError(CodeTimeout, "Operation timed out", err.Error())
	case errors.Is(err, core.ErrInvalidInput):
		return NewCliError(CodeInvalidInput, "Invalid input", err.Error())
	case errors.Is(err, core.ErrModelUnavailable):
		return NewCliError(CodeModelUnavailable, "Embedding model unavailable", err.Error())
	case errors.As(err, &upstream):
		return NewCliError(CodeUpstream, "Upstream service failed", err.Error()).
			WithContext("service", upstream.Service).
			WithContext("status", upstream.Status)
	case errors.Is(err, core.ErrPersistence):
		return NewCliError(CodePersistence, "Index store failed", err.Error())
	default:
		return nil
	}
}
