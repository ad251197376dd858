package importcmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/utakatik/utakatik/engine/core"
	"github.com/utakatik/utakatik/engine/corpus"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "products.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestReadProducts(t *testing.T) {
	t.Run("Should parse products", func(t *testing.T) {
		path := writeFile(t, `[{"id":"p1","name":"Drill","affiliate_url":"https://a.example/p1"},{"id":"p2","name":"Hose"}]`)
		items, err := ReadProducts(path)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "https://a.example/p1", items[0].AffiliateURL)
		assert.Nil(t, items[0].Embedding)
	})

	t.Run("Should reject products without a name", func(t *testing.T) {
		_, err := ReadProducts(writeFile(t, `[{"id":"p1"}]`))
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})

	t.Run("Should reject malformed files", func(t *testing.T) {
		_, err := ReadProducts(writeFile(t, `{"id":`))
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})
}

type recordingIndexer struct {
	ids  []string
	fail map[string]error
}

func (r *recordingIndexer) IndexOne(_ context.Context, id, _, _ string) error {
	r.ids = append(r.ids, id)
	return r.fail[id]
}

func TestIndexImported(t *testing.T) {
	t.Run("Should index exactly the imported items", func(t *testing.T) {
		idx := &recordingIndexer{}
		indexed, failed := IndexImported(t.Context(), idx, []corpus.Item{
			{ID: "z9", Name: "Saw"},
			{ID: "b2", Name: "Bolt"},
		})
		assert.Equal(t, 2, indexed)
		assert.Empty(t, failed)
		assert.Equal(t, []string{"z9", "b2"}, idx.ids)
	})

	t.Run("Should continue past a failed item and report it", func(t *testing.T) {
		idx := &recordingIndexer{fail: map[string]error{"b2": errors.New("model unavailable")}}
		indexed, failed := IndexImported(t.Context(), idx, []corpus.Item{
			{ID: "b2", Name: "Bolt"},
			{ID: "z9", Name: "Saw"},
		})
		assert.Equal(t, 1, indexed)
		assert.Equal(t, []Failure{{ID: "b2", Error: "model unavailable"}}, failed)
		assert.Equal(t, []string{"b2", "z9"}, idx.ids)
	})
}
