package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/utakatik/utakatik/engine/chat"
	"github.com/utakatik/utakatik/engine/completion"
	"github.com/utakatik/utakatik/engine/core"
	"github.com/utakatik/utakatik/engine/corpus"
	"github.com/utakatik/utakatik/engine/indexer"
	"github.com/utakatik/utakatik/engine/infra/server/middleware/ratelimit"
	"github.com/utakatik/utakatik/pkg/config"
)

type fakeAnswerer struct {
	turns []completion.Message
	ans   *chat.Answer
	err   error
}

func (f *fakeAnswerer) Answer(_ context.Context, turns []completion.Message) (*chat.Answer, error) {
	f.turns = turns
	return f.ans, f.err
}

type fakeRelay struct {
	turns  []completion.Message
	stream bool
	deltas []string
	reply  string
	err    error
}

func (f *fakeRelay) Relay(_ context.Context, turns []completion.Message, stream bool, sink completion.Sink) (string, error) {
	f.turns, f.stream = turns, stream
	if !stream {
		return f.reply, f.err
	}
	for _, d := range f.deltas {
		if err := sink(d); err != nil {
			return "", err
		}
	}
	return "", f.err
}

type fakeReindexer struct {
	limit  int
	report *indexer.Report
	err    error
}

func (f *fakeReindexer) Reindex(_ context.Context, limit int) (*indexer.Report, error) {
	f.limit = limit
	return f.report, f.err
}

type fakeIndexer struct {
	calls int
	err   error
}

func (f *fakeIndexer) IndexOne(_ context.Context, id, name, _ string) error {
	f.calls++
	if id == "" || name == "" {
		return fmt.Errorf("%w: id and name required", core.ErrInvalidInput)
	}
	return f.err
}

type fixture struct {
	answerer  *fakeAnswerer
	relay     *fakeRelay
	reindexer *fakeReindexer
	indexer   *fakeIndexer
	handler   http.Handler
}

func newFixture(t *testing.T, mutate ...func(*Dependencies)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{
		answerer:  &fakeAnswerer{ans: &chat.Answer{Reply: "ok", Matches: []corpus.Match{}}},
		relay:     &fakeRelay{},
		reindexer: &fakeReindexer{report: &indexer.Report{}},
		indexer:   &fakeIndexer{},
	}
	deps := Dependencies{Answerer: f.answerer, Relay: f.relay, Reindexer: f.reindexer, Indexer: f.indexer}
	for _, fn := range mutate {
		fn(&deps)
	}
	cfg := config.Default().Server
	srv, err := NewServer(t.Context(), &cfg, deps)
	require.NoError(t, err)
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestServer_MethodNotAllowed(t *testing.T) {
	t.Run("Should reject non-POST calls on every operation", func(t *testing.T) {
		f := newFixture(t)
		for _, path := range []string{"/api/chat", "/api/ask", "/api/reindex", "/api/embed-one"} {
			for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
				w := f.do(method, path, "")
				assert.Equal(t, http.StatusMethodNotAllowed, w.Code, "%s %s", method, path)
				assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
			}
		}
		assert.Zero(t, f.indexer.calls)
	})
}

func TestServer_Chat(t *testing.T) {
	t.Run("Should return the reply and sources", func(t *testing.T) {
		f := newFixture(t)
		f.answerer.ans = &chat.Answer{Reply: "Use the drill.", Matches: []corpus.Match{{
			ID: "drill", Name: "Drill", Description: "18V", URL: "https://shop/drill",
			ImageURL: "https://img/drill", Similarity: 0.91,
		}}}
		w := f.do(http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"drill?"}]}`)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "Use the drill.", body["reply"])
		sources := body["sources"].([]any)
		require.Len(t, sources, 1)
		assert.Equal(t, map[string]any{
			"id": "drill", "name": "Drill", "url": "https://shop/drill", "similarity": 0.91, "image_url": "https://img/drill",
		}, sources[0])
		assert.Equal(t, []completion.Message{{Role: completion.RoleUser, Content: "drill?"}}, f.answerer.turns)
		assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	})

	t.Run("Should return an empty sources list rather than null", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(http.MethodPost, "/api/chat", `{}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"reply":"ok","sources":[]}`, w.Body.String())
	})

	t.Run("Should pass upstream status and body through", func(t *testing.T) {
		f := newFixture(t)
		f.answerer.err = core.NewUpstreamError("openrouter", http.StatusTooManyRequests, "slow down")
		w := f.do(http.MethodPost, "/api/chat", `{"messages":[]}`)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "slow down", decode(t, w)["details"])
	})

	t.Run("Should reject malformed JSON", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(http.MethodPost, "/api/chat", `{"messages":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Should rate limit when configured", func(t *testing.T) {
		limiter, err := ratelimit.NewManager(&ratelimit.Config{Limit: 1, Period: time.Minute, Prefix: "t:"}, nil)
		require.NoError(t, err)
		f := newFixture(t, func(d *Dependencies) { d.RateLimiter = limiter })
		assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/chat", `{}`).Code)
		assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodPost, "/api/chat", `{}`).Code)
		assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/reindex", "").Code)
	})
}

func TestServer_Ask(t *testing.T) {
	t.Run("Should stream deltas as plain text by default", func(t *testing.T) {
		f := newFixture(t)
		f.relay.deltas = []string{"Hel", "lo"}
		w := f.do(http.MethodPost, "/api/ask", `{"question":"hi"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Hello", w.Body.String())
		assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
		assert.True(t, f.relay.stream)
		assert.Equal(t, []completion.Message{{Role: completion.RoleUser, Content: "hi"}}, f.relay.turns)
	})

	t.Run("Should return the whole reply when streaming is off", func(t *testing.T) {
		f := newFixture(t)
		f.relay.reply = "Hello"
		w := f.do(http.MethodPost, "/api/ask", `{"messages":[{"role":"user","content":"hi"}],"stream":false}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"reply":"Hello"}`, w.Body.String())
		assert.False(t, f.relay.stream)
	})

	t.Run("Should report upstream failures before any output", func(t *testing.T) {
		f := newFixture(t)
		f.relay.err = core.NewUpstreamError("hf-router", http.StatusUnauthorized, "bad token")
		w := f.do(http.MethodPost, "/api/ask", `{"question":"hi"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "bad token", decode(t, w)["details"])
	})

	t.Run("Should require a question", func(t *testing.T) {
		f := newFixture(t)
		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/ask", `{}`).Code)
	})
}

func TestServer_Reindex(t *testing.T) {
	t.Run("Should return updated and total counts", func(t *testing.T) {
		f := newFixture(t)
		f.reindexer.report = &indexer.Report{Updated: 2, Total: 3, Outcomes: []indexer.Outcome{
			{ID: "a", Status: indexer.StatusUpdated},
			{ID: "b", Status: indexer.StatusPersistFailed, Err: core.ErrPersistence},
			{ID: "c", Status: indexer.StatusUpdated},
		}}
		w := f.do(http.MethodPost, "/api/reindex", `{"limit":10}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"updated":2,"total":3,"failed":["b"]}`, w.Body.String())
		assert.Equal(t, 10, f.reindexer.limit)
	})

	t.Run("Should accept the limit as a query parameter", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(http.MethodPost, "/api/reindex?limit=25", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"updated":0,"total":0}`, w.Body.String())
		assert.Equal(t, 25, f.reindexer.limit)
	})

	t.Run("Should fail when the backlog cannot be read", func(t *testing.T) {
		f := newFixture(t)
		f.reindexer.err = errors.New("connection refused")
		assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodPost, "/api/reindex", "").Code)
	})
}

func TestServer_EmbedOne(t *testing.T) {
	t.Run("Should acknowledge a stored vector", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(http.MethodPost, "/api/embed-one", `{"id":"drill","name":"Drill","description":"18V"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	})

	t.Run("Should reject a missing name", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(http.MethodPost, "/api/embed-one", `{"id":"drill"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "id and name required", decode(t, w)["details"])
	})

	t.Run("Should surface persistence failures", func(t *testing.T) {
		f := newFixture(t)
		f.indexer.err = fmt.Errorf("%w: write rejected", core.ErrPersistence)
		w := f.do(http.MethodPost, "/api/embed-one", `{"id":"drill","name":"Drill"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestServer_Health(t *testing.T) {
	t.Run("Should report failing checks", func(t *testing.T) {
		f := newFixture(t, func(d *Dependencies) {
			d.HealthChecks = []HealthCheck{
				{Name: "store", Check: func(context.Context) error { return nil }},
				{Name: "redis", Check: func(context.Context) error { return errors.New("down") }},
			}
		})
		w := f.do(http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.JSONEq(t, `{"status":"degraded","checks":{"store":"ok","redis":"down"}}`, w.Body.String())
	})
}
