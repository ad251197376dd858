package sqlitestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/utakatik/utakatik/engine/core"
	"github.com/utakatik/utakatik/engine/corpus"
	"github.com/utakatik/utakatik/engine/embedding"
)

func openTestStore(t *testing.T, dim int) *Store {
	t.Helper()
	store, err := Open(t.Context(), Config{Path: filepath.Join(t.TempDir(), "corpus.db"), Migrate: true}, dim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_FindSimilar(t *testing.T) {
	t.Run("Should rank vectorized items above the threshold", func(t *testing.T) {
		store := openTestStore(t, 2)
		require.NoError(t, store.UpsertItems(t.Context(), []corpus.Item{
			{ID: "drill", Name: "Drill", AffiliateURL: "https://shop/drill", Embedding: embedding.Vector{1, 0}},
			{ID: "saw", Name: "Saw", Embedding: embedding.Vector{0.6, 0.8}},
			{ID: "glue", Name: "Glue", Embedding: embedding.Vector{0, 1}},
			{ID: "tape", Name: "Tape"},
		}))

		matches, err := store.FindSimilar(t.Context(), embedding.Vector{1, 0}, 6, 0.25)
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "drill", matches[0].ID)
		assert.Equal(t, "https://shop/drill", matches[0].URL)
		assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
		assert.Equal(t, "saw", matches[1].ID)
		assert.InDelta(t, 0.6, matches[1].Similarity, 1e-6)
	})

	t.Run("Should cap results at topK", func(t *testing.T) {
		store := openTestStore(t, 2)
		require.NoError(t, store.UpsertItems(t.Context(), []corpus.Item{
			{ID: "a", Name: "A", Embedding: embedding.Vector{1, 0}},
			{ID: "b", Name: "B", Embedding: embedding.Vector{1, 0}},
			{ID: "c", Name: "C", Embedding: embedding.Vector{1, 0}},
		}))
		matches, err := store.FindSimilar(t.Context(), embedding.Vector{1, 0}, 2, 0)
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, []string{"a", "b"}, []string{matches[0].ID, matches[1].ID})
	})

	t.Run("Should reject a query of the wrong dimension", func(t *testing.T) {
		store := openTestStore(t, 2)
		_, err := store.FindSimilar(t.Context(), embedding.Vector{1, 0, 0}, 6, 0.25)
		assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	})
}

func TestStore_Backlog(t *testing.T) {
	t.Run("Should drain the backlog as vectors are written", func(t *testing.T) {
		store := openTestStore(t, 2)
		require.NoError(t, store.UpsertItems(t.Context(), []corpus.Item{
			{ID: "bolt", Name: "Bolt", Description: "M8"},
			{ID: "anchor", Name: "Anchor"},
		}))

		items, err := store.ItemsMissingVector(t.Context(), 0)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "anchor", items[0].ID)
		assert.Equal(t, "M8", items[1].Description)

		require.NoError(t, store.UpdateVector(t.Context(), "anchor", embedding.Vector{0, 1}))
		items, err = store.ItemsMissingVector(t.Context(), 1)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "bolt", items[0].ID)
	})

	t.Run("Should put a rewritten item back in the backlog", func(t *testing.T) {
		store := openTestStore(t, 2)
		require.NoError(t, store.UpsertItems(t.Context(), []corpus.Item{
			{ID: "bolt", Name: "Bolt", Embedding: embedding.Vector{1, 0}},
		}))
		require.NoError(t, store.UpsertItems(t.Context(), []corpus.Item{{ID: "bolt", Name: "Bolt M10"}}))
		items, err := store.ItemsMissingVector(t.Context(), 0)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "Bolt M10", items[0].Name)
	})

	t.Run("Should fail to update an unknown item", func(t *testing.T) {
		store := openTestStore(t, 2)
		err := store.UpdateVector(t.Context(), "ghost", embedding.Vector{1, 0})
		assert.ErrorIs(t, err, core.ErrPersistence)
	})
}
