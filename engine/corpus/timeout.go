package corpus

import (
	"context"
	"time"

	"github.com/utakatik/utakatik/engine/core"
	"github.com/utakatik/utakatik/engine/embedding"
)

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

// WithTimeout bounds every call to next. Expired calls fail with core.ErrUpstreamTimeout.
func WithTimeout(next Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return next
	}
	return &timeoutStore{next: next, timeout: timeout}
}

func (t *timeoutStore) FindSimilar(
	ctx context.Context,
	query embedding.Vector,
	topK int,
	minSimilarity float64,
) ([]Match, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	matches, err := t.next.FindSimilar(ctx, query, topK, minSimilarity)
	return matches, core.AsTimeout("index store", err)
}

func (t *timeoutStore) ItemsMissingVector(ctx context.Context, limit int) ([]Item, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	items, err := t.next.ItemsMissingVector(ctx, limit)
	return items, core.AsTimeout("index store", err)
}

func (t *timeoutStore) UpdateVector(ctx context.Context, id string, vec embedding.Vector) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return core.AsTimeout("index store", t.next.UpdateVector(ctx, id, vec))
}

func (t *timeoutStore) Close() error {
	return t.next.Close()
}
