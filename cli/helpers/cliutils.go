package helpers

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// CliError represents a CLI-specific error with enhanced context
type CliError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   string         `json:"details,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *CliError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewCliError creates a new CLI error with context
func NewCliError(code, message string, details ...string) *CliError {
	err := &CliError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]any),
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

// WithContext adds context to the error
func (e *CliError) WithContext(key string, value any) *CliError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

var (
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Italic(true)
	labelStyle  = lipgloss.NewStyle().Bold(true)
)

// FormatError renders err for the given mode.
func FormatError(err error, mode Mode) string {
	if err == nil {
		return ""
	}
	code, message, details := "", err.Error(), ""
	if cliErr, ok := err.(*CliError); ok {
		code, message, details = cliErr.Code, cliErr.Message, cliErr.Details
	}
	if mode == ModeJSON {
		body := map[string]any{"error": message, "details": details}
		if code != "" {
			body["code"] = code
		}
		out, mErr := json.Marshal(body)
		if mErr != nil {
			return `{"error":"JSON marshaling failed","details":""}`
		}
		return string(out)
	}
	result := errorStyle.Render("✗ " + message)
	if details != "" {
		result += "\n" + detailStyle.Render("Details: "+details)
	}
	return result
}

// OutputError writes err to w in the appropriate format.
func OutputError(w io.Writer, err error, mode Mode) {
	if err == nil {
		return
	}
	fmt.Fprintln(w, FormatError(err, mode))
}

// Field is one labelled line of text output.
type Field struct {
	Label string
	Value any
}

// WriteResult prints data as indented JSON, or fields as labelled lines in text mode.
func WriteResult(w io.Writer, mode Mode, data any, fields ...Field) error {
	if mode == ModeJSON || len(fields) == 0 {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	for _, f := range fields {
		if _, err := fmt.Fprintf(w, "%s %v\n", labelStyle.Render(f.Label+":"), f.Value); err != nil {
			return err
		}
	}
	return nil
}
