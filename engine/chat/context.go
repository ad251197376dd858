package chat

import (
	"fmt"
	"strings"

	"github.com/utakatik/utakatik/engine/corpus"
)

const (
	contextPreamble = "You are a helpful DIY shopping assistant. Answer the user's question using ONLY the " +
		"products in the CONTEXT below. If unsure, say so briefly.\n\nCONTEXT:\n"
	contextRules = "\n\nRules:\n- Prefer concise answers.\n" +
		"- Show relevant product names with markdown links when possible.\n" +
		"- Do not invent products or links.\n"
	// EmptyContext instructs the model when retrieval found nothing.
	EmptyContext = "No product context available. Give a brief, generic suggestion and ask the user to " +
		"try a different query."
)

// BuildContext renders matches as the system turn. It is never empty.
func BuildContext(matches []corpus.Match) string {
	if len(matches) == 0 {
		return EmptyContext
	}
	entries := make([]string, 0, len(matches))
	for i := range matches {
		entries = append(entries, formatMatch(i+1, &matches[i]))
	}
	return contextPreamble + strings.Join(entries, "\n\n") + contextRules
}

func formatMatch(n int, m *corpus.Match) string {
	lines := []string{fmt.Sprintf("#%d: %s", n, m.Name)}
	if m.Description != "" {
		lines = append(lines, "- "+m.Description)
	}
	if m.URL != "" {
		lines = append(lines, "- Link: "+m.URL)
	}
	return strings.Join(lines, "\n")
}
