// Package corpus defines the product index consumed by indexing and retrieval.
package corpus

import (
	"cmp"
	"context"
	"math"
	"slices"

	"github.com/utakatik/utakatik/engine/core"
	"github.com/utakatik/utakatik/engine/embedding"
)

// Item is a product record. Embedding is nil until the item is indexed.
type Item struct {
	ID           string
	Name         string
	Description  string
	ImageURL     string
	AffiliateURL string
	CategoryID   string
	Embedding    embedding.Vector
}

// Match is a similarity hit with a display snapshot of the item.
type Match struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	URL         string  `json:"url,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
	Similarity  float64 `json:"similarity"`
}

// Store persists item vectors and answers similarity queries.
type Store interface {
	// FindSimilar returns at most topK matches with similarity above minSimilarity, most similar first.
	FindSimilar(ctx context.Context, query embedding.Vector, topK int, minSimilarity float64) ([]Match, error)
	// ItemsMissingVector returns up to limit items whose vector is null.
	ItemsMissingVector(ctx context.Context, limit int) ([]Item, error)
	// UpdateVector replaces the vector of one item. Concurrent writers follow last-write-wins.
	UpdateVector(ctx context.Context, id string, vec embedding.Vector) error
	Close() error
}

// Writer loads items into a store. Items written without a vector join the backlog.
type Writer interface {
	UpsertItems(ctx context.Context, items []Item) error
}

// CheckDimension rejects vectors whose length differs from dimension.
func CheckDimension(v embedding.Vector, dimension int) error {
	if len(v) != dimension {
		return core.DimensionError(dimension, len(v))
	}
	return nil
}

// Cosine returns the cosine similarity of a and b clamped to [0,1].
func Cosine(a, b embedding.Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, core.DimensionError(len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return ClampSimilarity(dot / (math.Sqrt(na) * math.Sqrt(nb))), nil
}

// ClampSimilarity bounds a cosine score to [0,1].
func ClampSimilarity(s float64) float64 {
	switch {
	case math.IsNaN(s) || s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}

// SortMatches orders by similarity descending, then by ID for stable output.
func SortMatches(matches []Match) {
	slices.SortStableFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// MatchFromItem builds the display snapshot for item.
func MatchFromItem(item *Item, similarity float64) Match {
	return Match{
		ID:          item.ID,
		Name:        item.Name,
		Description: item.Description,
		URL:         item.AffiliateURL,
		ImageURL:    item.ImageURL,
		Similarity:  similarity,
	}
}
