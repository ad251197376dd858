package hfapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/utakatik/utakatik/engine/core"
)

func TestParseFeatures(t *testing.T) {
	t.Run("Should accept batched token matrices", func(t *testing.T) {
		rows, err := ParseFeatures([]byte(`[[[1,2],[3,4]]]`))
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{1, 2}, {3, 4}}, rows)
	})

	t.Run("Should accept token matrices", func(t *testing.T) {
		rows, err := ParseFeatures([]byte(`[[1,2],[3,4],[5,6]]`))
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})

	t.Run("Should treat a pooled vector as one row", func(t *testing.T) {
		rows, err := ParseFeatures([]byte(`[0.1,0.2,0.3]`))
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{0.1, 0.2, 0.3}}, rows)
	})

	t.Run("Should reject unknown shapes", func(t *testing.T) {
		_, err := ParseFeatures([]byte(`{"error":"x"}`))
		assert.Error(t, err)
	})
}

func TestExtractor_Extract(t *testing.T) {
	t.Run("Should post the text and decode token rows", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/sentence-transformers/all-MiniLM-L6-v2/pipeline/feature-extraction", r.URL.Path)
			assert.Equal(t, "Bearer hf-key", r.Header.Get("Authorization"))
			var body request
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "cordless drill", body.Inputs)
			assert.True(t, body.Options.WaitForModel)
			_, _ = w.Write([]byte(`[[0.5,0.5],[1,0]]`))
		}))
		t.Cleanup(srv.Close)
		ext, err := New(Config{BaseURL: srv.URL, Model: "sentence-transformers/all-MiniLM-L6-v2", APIKey: "hf-key"})
		require.NoError(t, err)
		rows, err := ext.Extract(t.Context(), "cordless drill")
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{0.5, 0.5}, {1, 0}}, rows)
	})

	t.Run("Should surface non-2xx responses verbatim", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"Model is currently loading"}`))
		}))
		t.Cleanup(srv.Close)
		ext, err := New(Config{BaseURL: srv.URL, Model: "m"})
		require.NoError(t, err)
		_, err = ext.Extract(t.Context(), "drill")
		var up *core.UpstreamError
		require.ErrorAs(t, err, &up)
		assert.Equal(t, http.StatusServiceUnavailable, up.Status)
		assert.Contains(t, up.Body, "currently loading")
	})

	t.Run("Should report slow endpoints as timeouts", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
			<-release
		}))
		t.Cleanup(func() {
			close(release)
			srv.Close()
		})
		ext, err := New(Config{BaseURL: srv.URL, Model: "m", Timeout: 50 * time.Millisecond})
		require.NoError(t, err)
		_, err = ext.Extract(t.Context(), "drill")
		assert.ErrorIs(t, err, core.ErrUpstreamTimeout)
	})

	t.Run("Should require a model", func(t *testing.T) {
		_, err := New(Config{BaseURL: "http://localhost"})
		assert.Error(t, err)
	})
}
