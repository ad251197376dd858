package completion

import (
	"context"
	"errors"
	"strings"
)

const (
	// DefaultSystemPrompt opens every relayed conversation.
	DefaultSystemPrompt = "You are a helpful assistant."
	// NoResponse replaces a reply the upstream did not provide.
	NoResponse = "No response"
)

// Completer is the part of Client the relay and chat engine depend on.
type Completer interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Stream(ctx context.Context, req *Request, sink Sink) error
}

// Relay forwards a conversation to the completion service without retrieval.
type Relay struct {
	client       Completer
	systemPrompt string
}

func NewRelay(client Completer, systemPrompt string) (*Relay, error) {
	if client == nil {
		return nil, errors.New("relay: completion client is required")
	}
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Relay{client: client, systemPrompt: systemPrompt}, nil
}

// Relay sends turns behind the system prompt. When stream is true each delta
// goes to sink and the returned text is empty; otherwise the whole reply is
// returned, defaulting to NoResponse.
func (r *Relay) Relay(ctx context.Context, turns []Message, stream bool, sink Sink) (string, error) {
	messages := make([]Message, 0, len(turns)+1)
	messages = append(messages, Message{Role: RoleSystem, Content: r.systemPrompt})
	messages = append(messages, turns...)
	req := &Request{Messages: messages, Stream: stream}
	if stream {
		if sink == nil {
			return "", errors.New("relay: sink is required when streaming")
		}
		return "", r.client.Stream(ctx, req, sink)
	}
	resp, err := r.client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	text, ok := resp.Text()
	if !ok || text == "" {
		return NoResponse, nil
	}
	return text, nil
}
