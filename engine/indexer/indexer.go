// Package indexer keeps the corpus embedded: a batch reindexer that drains the
// null-vector backlog and an on-demand indexer for single items.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/utakatik/utakatik/engine/core"
	"github.com/utakatik/utakatik/engine/corpus"
	"github.com/utakatik/utakatik/engine/embedding"
	"github.com/utakatik/utakatik/pkg/logger"
)

// DefaultBatchLimit bounds one reindex invocation.
const DefaultBatchLimit = 5000

type Status string

const (
	StatusUpdated       Status = "updated"
	StatusEmbedFailed   Status = "embed_failed"
	StatusPersistFailed Status = "persist_failed"
)

// Outcome records what happened to one backlog item.
type Outcome struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Err    error  `json:"-"`
}

// Report summarizes a reindex run. Updated and Total are derived from Outcomes.
type Report struct {
	Outcomes []Outcome     `json:"-"`
	Updated  int           `json:"updated"`
	Total    int           `json:"total"`
	Duration time.Duration `json:"-"`
}

// Failed returns the outcomes that did not update.
func (r *Report) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Status != StatusUpdated {
			failed = append(failed, o)
		}
	}
	return failed
}

func newReport(outcomes []Outcome) *Report {
	report := &Report{Outcomes: outcomes, Total: len(outcomes)}
	for _, o := range outcomes {
		if o.Status == StatusUpdated {
			report.Updated++
		}
	}
	return report
}

// Reindexer embeds every item in the backlog, one at a time.
type Reindexer struct {
	embedder   embedding.Embedder
	store      corpus.Store
	batchLimit int
}

func NewReindexer(emb embedding.Embedder, store corpus.Store, batchLimit int) (*Reindexer, error) {
	if emb == nil {
		return nil, errors.New("indexer: embedder is required")
	}
	if store == nil {
		return nil, errors.New("indexer: store is required")
	}
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	return &Reindexer{embedder: emb, store: store, batchLimit: batchLimit}, nil
}

// BatchLimit is the most items a single run will consider.
func (r *Reindexer) BatchLimit() int {
	return r.batchLimit
}

// Reindex processes up to limit backlog items. Per-item failures are recorded
// in the report; only an unreadable backlog is returned as an error.
func (r *Reindexer) Reindex(ctx context.Context, limit int) (*Report, error) {
	log := logger.FromContext(ctx)
	if limit <= 0 || limit > r.batchLimit {
		limit = r.batchLimit
	}
	start := time.Now()
	items, err := r.store.ItemsMissingVector(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("indexer: read backlog: %w", err)
	}
	outcomes := make([]Outcome, 0, len(items))
	for i := range items {
		outcome := r.indexItem(ctx, &items[i])
		if outcome.Err != nil {
			log.Warn("Skipping item", "id", outcome.ID, "status", outcome.Status, "error", outcome.Err)
		}
		outcomes = append(outcomes, outcome)
	}
	report := newReport(outcomes)
	report.Duration = time.Since(start)
	recordRun(ctx, report)
	log.Info("Reindex finished", "updated", report.Updated, "total", report.Total, "duration", report.Duration)
	return report, nil
}

func (r *Reindexer) indexItem(ctx context.Context, item *corpus.Item) Outcome {
	vec, err := r.embedder.Embed(ctx, embedding.BuildInput(item.Name, item.Description))
	if err != nil {
		return Outcome{ID: item.ID, Status: StatusEmbedFailed, Err: err}
	}
	if err := r.store.UpdateVector(ctx, item.ID, vec); err != nil {
		return Outcome{ID: item.ID, Status: StatusPersistFailed, Err: err}
	}
	return Outcome{ID: item.ID, Status: StatusUpdated}
}

// Indexer embeds and stores one item on demand.
type Indexer struct {
	embedder embedding.Embedder
	store    corpus.Store
}

func NewIndexer(emb embedding.Embedder, store corpus.Store) (*Indexer, error) {
	if emb == nil {
		return nil, errors.New("indexer: embedder is required")
	}
	if store == nil {
		return nil, errors.New("indexer: store is required")
	}
	return &Indexer{embedder: emb, store: store}, nil
}

// IndexOne validates its input before any embedding work and reports the
// single outcome to the caller.
func (x *Indexer) IndexOne(ctx context.Context, id, name, description string) error {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: id and name required", core.ErrInvalidInput)
	}
	vec, err := x.embedder.Embed(ctx, embedding.BuildInput(name, description))
	if err != nil {
		return fmt.Errorf("indexer: embed %q: %w", id, err)
	}
	if err := x.store.UpdateVector(ctx, id, vec); err != nil {
		return fmt.Errorf("indexer: store %q: %w", id, err)
	}
	logger.FromContext(ctx).Debug("Indexed item", "id", id)
	return nil
}
