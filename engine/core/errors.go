package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrModelUnavailable reports that the embedding model could not be loaded or executed.
	ErrModelUnavailable = errors.New("embedding model unavailable")
	// ErrInvalidInput reports a request rejected before any work was done.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPersistence reports a write the index store did not accept.
	ErrPersistence = errors.New("persistence failed")
	// ErrUpstream reports a non-success status from a remote dependency.
	ErrUpstream = errors.New("upstream error")
	// ErrUpstreamTimeout reports a remote call that exceeded its time bound.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrDimensionMismatch reports vectors of different lengths being compared or stored.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// UpstreamError carries the status and body of a failed remote call verbatim.
type UpstreamError struct {
	Service string
	Status  int
	Body    string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Service, e.Status)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return ErrUpstream
}

// NewUpstreamError builds an UpstreamError for service.
func NewUpstreamError(service string, status int, body string) *UpstreamError {
	return &UpstreamError{Service: service, Status: status, Body: body}
}

// DimensionError wraps ErrDimensionMismatch with both lengths.
func DimensionError(want, got int) error {
	return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, want, got)
}

// IsTimeout reports deadline and network timeout errors.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrUpstreamTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// AsTimeout converts timeout errors into ErrUpstreamTimeout and leaves others untouched.
func AsTimeout(op string, err error) error {
	if err == nil || errors.Is(err, ErrUpstreamTimeout) {
		return err
	}
	if IsTimeout(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrUpstreamTimeout, err)
	}
	return err
}

// IsRetryable reports whether err may succeed when attempted again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamTimeout)
}

// StatusForError maps the error taxonomy onto HTTP status codes.
func StatusForError(err error) int {
	var upstream *UpstreamError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &upstream):
		if upstream.Status >= 400 && upstream.Status <= 599 {
			return upstream.Status
		}
		return http.StatusBadGateway
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// CodeForError returns a stable machine-readable code for err.
func CodeForError(err error) string {
	switch {
	case errors.Is(err, ErrUpstream):
		return "upstream_error"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, ErrUpstreamTimeout):
		return "upstream_timeout"
	case errors.Is(err, ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	default:
		return "internal_error"
	}
}
