package postgrest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/utakatik/utakatik/engine/core"
	"github.com/utakatik/utakatik/engine/corpus"
	"github.com/utakatik/utakatik/engine/embedding"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	store, err := New(Config{URL: srv.URL, APIKey: "service-role"}, 2)
	require.NoError(t, err)
	return store
}

func TestNew(t *testing.T) {
	t.Run("Should require a url", func(t *testing.T) {
		_, err := New(Config{}, 2)
		assert.Error(t, err)
	})
}

func TestStore_FindSimilar(t *testing.T) {
	t.Run("Should call the match function and keep only rows above the threshold", func(t *testing.T) {
		var got matchParams
		store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/rest/v1/rpc/match_affiliate_products", r.URL.Path)
			assert.Equal(t, "service-role", r.Header.Get("apikey"))
			assert.Equal(t, "Bearer service-role", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[
				{"id":"saw","name":"Saw","description":null,"image_url":null,"affiliate_url":"https://shop/saw","similarity":0.5},
				{"id":"drill","name":"Drill","description":"18V","image_url":"https://img/drill","affiliate_url":"https://shop/drill","similarity":0.9},
				{"id":"glue","name":"Glue","similarity":0.25}
			]`))
		})

		matches, err := store.FindSimilar(t.Context(), embedding.Vector{1, 0}, 6, 0.25)
		require.NoError(t, err)
		assert.Equal(t, 6, got.MatchCount)
		assert.InDelta(t, 0.25, got.MinSimilarity, 1e-9)
		assert.Equal(t, embedding.Vector{1, 0}, got.QueryEmbedding)
		require.Len(t, matches, 2)
		assert.Equal(t, "drill", matches[0].ID)
		assert.Equal(t, "https://shop/drill", matches[0].URL)
		assert.Equal(t, "saw", matches[1].ID)
		assert.Empty(t, matches[1].Description)
	})

	t.Run("Should surface gateway failures as upstream errors", func(t *testing.T) {
		store := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"message":"down"}`))
		})
		_, err := store.FindSimilar(t.Context(), embedding.Vector{1, 0}, 6, 0.25)
		var upstream *core.UpstreamError
		require.ErrorAs(t, err, &upstream)
		assert.Equal(t, http.StatusServiceUnavailable, upstream.Status)
	})
}

func TestStore_ItemsMissingVector(t *testing.T) {
	t.Run("Should filter on a null embedding with the limit", func(t *testing.T) {
		store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/rest/v1/affiliate_products", r.URL.Path)
			assert.Equal(t, "is.null", r.URL.Query().Get("embedding"))
			assert.Equal(t, "5000", r.URL.Query().Get("limit"))
			assert.Equal(t, itemColumns, r.URL.Query().Get("select"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id":"bolt","name":"Bolt","description":"M8"}]`))
		})
		items, err := store.ItemsMissingVector(t.Context(), 5000)
		require.NoError(t, err)
		assert.Equal(t, []corpus.Item{{ID: "bolt", Name: "Bolt", Description: "M8"}}, items)
	})
}

func TestStore_NumericKeys(t *testing.T) {
	t.Run("Should read integer ids and category ids as their digits", func(t *testing.T) {
		store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if r.Method == http.MethodPost {
				_, _ = w.Write([]byte(`[{"id":9007199254740993,"name":"Drill","category_id":7,"similarity":0.8}]`))
				return
			}
			_, _ = w.Write([]byte(`[{"id":42,"name":"Bolt","category_id":7},{"id":"a1b2","name":"Tape","category_id":null}]`))
		})

		items, err := store.ItemsMissingVector(t.Context(), 10)
		require.NoError(t, err)
		assert.Equal(t, []corpus.Item{
			{ID: "42", Name: "Bolt", CategoryID: "7"},
			{ID: "a1b2", Name: "Tape"},
		}, items)

		matches, err := store.FindSimilar(t.Context(), embedding.Vector{1, 0}, 6, 0.25)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "9007199254740993", matches[0].ID)
	})

	t.Run("Should patch a numeric id unquoted", func(t *testing.T) {
		store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "eq.42", r.URL.Query().Get("id"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id":42}]`))
		})
		require.NoError(t, store.UpdateVector(t.Context(), "42", embedding.Vector{0, 1}))
	})

	t.Run("Should reject ids that are neither strings nor numbers", func(t *testing.T) {
		store := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id":true,"name":"Odd"}]`))
		})
		_, err := store.ItemsMissingVector(t.Context(), 10)
		assert.Error(t, err)
	})
}

func TestStore_UpdateVector(t *testing.T) {
	t.Run("Should patch the row by id", func(t *testing.T) {
		store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPatch, r.Method)
			assert.Equal(t, "eq.bolt", r.URL.Query().Get("id"))
			var body map[string][]float32
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, []float32{0, 1}, body["embedding"])
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id":"bolt"}]`))
		})
		require.NoError(t, store.UpdateVector(t.Context(), "bolt", embedding.Vector{0, 1}))
	})

	t.Run("Should treat a rejected patch as a persistence error", func(t *testing.T) {
		store := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
		err := store.UpdateVector(t.Context(), "bolt", embedding.Vector{0, 1})
		assert.ErrorIs(t, err, core.ErrPersistence)
	})

	t.Run("Should treat an unmatched id as a persistence error", func(t *testing.T) {
		store := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[]`))
		})
		err := store.UpdateVector(t.Context(), "ghost", embedding.Vector{0, 1})
		assert.ErrorIs(t, err, core.ErrPersistence)
	})
}

func TestStore_UpsertItems(t *testing.T) {
	t.Run("Should merge duplicates on id", func(t *testing.T) {
		store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "id", r.URL.Query().Get("on_conflict"))
			assert.Contains(t, r.Header.Get("Prefer"), "resolution=merge-duplicates")
			var body []map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Len(t, body, 2)
			assert.Nil(t, body[0]["embedding"])
			w.WriteHeader(http.StatusCreated)
		})
		err := store.UpsertItems(t.Context(), []corpus.Item{
			{ID: "bolt", Name: "Bolt"},
			{ID: "saw", Name: "Saw", Embedding: embedding.Vector{1, 0}},
		})
		require.NoError(t, err)
	})
}
