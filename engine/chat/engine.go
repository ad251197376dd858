// Package chat answers shopping questions grounded in the products most
// similar to the user's last message.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/utakatik/utakatik/engine/completion"
	"github.com/utakatik/utakatik/engine/corpus"
	"github.com/utakatik/utakatik/engine/embedding"
	"github.com/utakatik/utakatik/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultTopK          = 6
	DefaultMinSimilarity = 0.25
	DefaultFallbackQuery = "Help me find products"
	DefaultTemperature   = 0.3
)

var tracer = otel.Tracer("utakatik.chat")

// Config tunes retrieval and generation.
type Config struct {
	TopK          int
	MinSimilarity float64
	FallbackQuery string
	Temperature   float64
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.TopK <= 0 {
		out.TopK = DefaultTopK
	}
	if out.MinSimilarity < 0 {
		out.MinSimilarity = DefaultMinSimilarity
	}
	if strings.TrimSpace(out.FallbackQuery) == "" {
		out.FallbackQuery = DefaultFallbackQuery
	}
	return out
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{
		TopK:          DefaultTopK,
		MinSimilarity: DefaultMinSimilarity,
		FallbackQuery: DefaultFallbackQuery,
		Temperature:   DefaultTemperature,
	}
}

// Answer is a grounded reply plus the products it was grounded on.
type Answer struct {
	Reply   string         `json:"reply"`
	Matches []corpus.Match `json:"sources"`
}

// Engine runs retrieval-augmented answering.
type Engine struct {
	embedder  embedding.Embedder
	store     corpus.Store
	completer completion.Completer
	cfg       Config
}

func NewEngine(
	emb embedding.Embedder,
	store corpus.Store,
	completer completion.Completer,
	cfg Config,
) (*Engine, error) {
	if emb == nil {
		return nil, errors.New("chat: embedder is required")
	}
	if store == nil {
		return nil, errors.New("chat: store is required")
	}
	if completer == nil {
		return nil, errors.New("chat: completion client is required")
	}
	return &Engine{embedder: emb, store: store, completer: completer, cfg: cfg.withDefaults()}, nil
}

// QueryText picks the text to embed: the last user turn, or the fallback query.
func (e *Engine) QueryText(turns []completion.Message) string {
	if text, ok := completion.LastUserTurn(turns); ok && strings.TrimSpace(text) != "" {
		return text
	}
	return e.cfg.FallbackQuery
}

// Answer embeds the query, retrieves similar products, and asks the model to
// answer from them. Retrieval failures degrade to an ungrounded answer;
// embedding and completion failures are returned.
func (e *Engine) Answer(ctx context.Context, turns []completion.Message) (ans *Answer, err error) {
	ctx, span := tracer.Start(ctx, "chat.Answer")
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		recordAnswer(ctx, time.Since(start), ans, err)
	}()
	log := logger.FromContext(ctx)

	vec, err := e.embedder.Embed(ctx, e.QueryText(turns))
	if err != nil {
		return nil, fmt.Errorf("chat: embed query: %w", err)
	}
	matches := e.retrieve(ctx, vec)
	span.SetAttributes(attribute.Int("chat.matches", len(matches)))

	messages := make([]completion.Message, 0, len(turns)+1)
	messages = append(messages, completion.Message{Role: completion.RoleSystem, Content: BuildContext(matches)})
	messages = append(messages, turns...)
	temperature := e.cfg.Temperature
	resp, err := e.completer.Complete(ctx, &completion.Request{
		Messages:    messages,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, err
	}
	reply, ok := resp.Text()
	if !ok || reply == "" {
		log.Debug("Completion returned no content")
		reply = completion.NoResponse
	}
	return &Answer{Reply: reply, Matches: matches}, nil
}

func (e *Engine) retrieve(ctx context.Context, vec embedding.Vector) []corpus.Match {
	matches, err := e.store.FindSimilar(ctx, vec, e.cfg.TopK, e.cfg.MinSimilarity)
	if err != nil {
		logger.FromContext(ctx).Warn("Similarity search failed, answering without context", "error", err)
		return []corpus.Match{}
	}
	if matches == nil {
		return []corpus.Match{}
	}
	return matches
}
