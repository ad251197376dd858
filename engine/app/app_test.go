package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/utakatik/utakatik/engine/completion"
	"github.com/utakatik/utakatik/engine/corpus"
	"github.com/utakatik/utakatik/pkg/config"
)

// featureServer answers feature extraction with a token matrix whose mean
// points along the first axis for drills and along the second otherwise.
func featureServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Inputs string `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		rows := [][]float32{{0, 2, 0}, {0, 4, 0}}
		if strings.Contains(strings.ToLower(body.Inputs), "drill") {
			rows = [][]float32{{3, 0, 0}, {1, 0, 0}}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(rows))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func completionServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"` + reply + `"}}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Monitoring.Enabled = false
	cfg.Embedder.Provider = ProviderHTTP
	cfg.Embedder.BaseURL = featureServer(t).URL
	cfg.Embedder.Dimension = 3
	cfg.Store.Driver = DriverMemory
	cfg.Completion.BaseURL = completionServer(t, "grounded").URL
	cfg.Relay.BaseURL = completionServer(t, "relayed").URL
	return cfg
}

func TestBuild(t *testing.T) {
	t.Run("Should wire a working assistant over the memory store", func(t *testing.T) {
		ctx := context.Background()
		a, err := Build(ctx, testConfig(t))
		require.NoError(t, err)
		t.Cleanup(func() { _ = a.Close(ctx) })

		require.NotNil(t, a.Writer)
		require.NoError(t, a.Writer.UpsertItems(ctx, []corpus.Item{
			{ID: "p1", Name: "Cordless Drill", Description: "18V", AffiliateURL: "https://a.example/p1"},
			{ID: "p2", Name: "Garden Hose"},
		}))
		report, err := a.Reindexer.Reindex(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Updated)

		ans, err := a.Chat.Answer(ctx, []completion.Message{{Role: completion.RoleUser, Content: "need a drill"}})
		require.NoError(t, err)
		assert.Equal(t, "grounded", ans.Reply)
		require.Len(t, ans.Matches, 1)
		assert.Equal(t, "p1", ans.Matches[0].ID)

		text, err := a.Relay.Relay(ctx, []completion.Message{{Role: completion.RoleUser, Content: "hi"}}, false, nil)
		require.NoError(t, err)
		assert.Equal(t, "relayed", text)
	})

	t.Run("Should expose a store health check", func(t *testing.T) {
		ctx := context.Background()
		a, err := Build(ctx, testConfig(t))
		require.NoError(t, err)
		t.Cleanup(func() { _ = a.Close(ctx) })
		checks := a.HealthChecks()
		require.Len(t, checks, 1)
		assert.Equal(t, "store", checks[0].Name)
		assert.NoError(t, checks[0].Check(ctx))
	})

	t.Run("Should reject an unknown store driver", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Store.Driver = "cassandra"
		_, err := Build(context.Background(), cfg)
		assert.ErrorContains(t, err, "unknown store driver")
	})

	t.Run("Should release opened resources when a later step fails", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig(t)
		cfg.Cache.RedisURL = config.SensitiveString("redis://" + mr.Addr())
		cfg.Store.Driver = "cassandra"
		var (
			a   *App
			err error
		)
		require.NotPanics(t, func() { a, err = Build(context.Background(), cfg) })
		assert.Nil(t, a)
		assert.ErrorContains(t, err, "unknown store driver")
		assert.Eventually(t, func() bool { return mr.CurrentConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Should reject an unknown embedder provider", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Embedder.Provider = "onnx"
		_, err := Build(context.Background(), cfg)
		assert.ErrorContains(t, err, "unknown embedder provider")
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("Should be absent when disabled", func(t *testing.T) {
		a := &App{Config: config.Default()}
		m, err := a.RateLimiter()
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("Should use the in-process store without redis", func(t *testing.T) {
		cfg := config.Default()
		cfg.RateLimit.Enabled = true
		a := &App{Config: cfg}
		m, err := a.RateLimiter()
		require.NoError(t, err)
		assert.NotNil(t, m)
	})
}

func TestMigrate(t *testing.T) {
	t.Run("Should create the sqlite schema", func(t *testing.T) {
		sc := &config.StoreConfig{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "idx.db")}
		require.NoError(t, Migrate(context.Background(), sc, 3))
		st, err := OpenStore(context.Background(), sc, 3)
		require.NoError(t, err)
		defer st.Close()
		items, err := st.ItemsMissingVector(context.Background(), 0)
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("Should refuse drivers without a schema", func(t *testing.T) {
		err := Migrate(context.Background(), &config.StoreConfig{Driver: DriverMemory}, 3)
		assert.ErrorContains(t, err, "no migrations")
	})
}
