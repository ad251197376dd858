package core

import (
	"errors"
	"maps"
	"net/http"
)

// Problem captures the information returned in an RFC 7807 error response.
type Problem struct {
	Type     string
	Title    string
	Status   int
	Detail   string
	Instance string
	Extras   map[string]any
}

// NormalizeProblem fills canonical defaults.
func NormalizeProblem(problem *Problem) *Problem {
	if problem == nil {
		problem = &Problem{}
	}
	if problem.Status == 0 {
		problem.Status = http.StatusInternalServerError
	}
	if problem.Title == "" {
		problem.Title = http.StatusText(problem.Status)
	}
	if problem.Type == "" {
		problem.Type = "about:blank"
	}
	return problem
}

// ProblemFromError derives a problem document from the error taxonomy.
// Upstream bodies pass through verbatim as the detail.
func ProblemFromError(err error) *Problem {
	status := StatusForError(err)
	detail := ""
	var upstream *UpstreamError
	switch {
	case errors.As(err, &upstream):
		detail = upstream.Body
	case err != nil && status < http.StatusInternalServerError:
		detail = err.Error()
	case err != nil:
		detail = http.StatusText(status)
		if errors.Is(err, ErrModelUnavailable) || errors.Is(err, ErrUpstreamTimeout) {
			detail = err.Error()
		}
	}
	return &Problem{
		Status: status,
		Detail: detail,
		Extras: map[string]any{"code": CodeForError(err)},
	}
}

// BuildProblemBody assembles the serialized representation of the problem.
func BuildProblemBody(problem *Problem) map[string]any {
	body := map[string]any{
		"status": problem.Status,
		"error":  problem.Title,
	}
	if problem.Detail != "" {
		body["details"] = problem.Detail
	}
	if problem.Type != "" {
		body["type"] = problem.Type
	}
	if problem.Instance != "" {
		body["instance"] = problem.Instance
	}
	extras := make(map[string]any, len(problem.Extras))
	for key, value := range problem.Extras {
		if key == "code" || !isReservedProblemKey(key) {
			extras[key] = value
		}
	}
	maps.Copy(body, extras)
	return body
}

func isReservedProblemKey(key string) bool {
	switch key {
	case "status", "error", "details", "code", "type", "instance":
		return true
	default:
		return false
	}
}
