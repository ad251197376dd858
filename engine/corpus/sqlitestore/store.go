// Package sqlitestore keeps the product index in a local SQLite file.
// Vectors are packed float32 BLOBs and similarity is an exact scan.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/utakatik/utakatik/engine/core"
	"github.com/utakatik/utakatik/engine/corpus"
	"github.com/utakatik/utakatik/engine/embedding"

	// Register modernc SQLite driver with database/sql.
	_ "modernc.org/sqlite"
)

const table = "affiliate_products"

var itemColumns = []string{
	"id",
	"name",
	"COALESCE(description, '')",
	"COALESCE(image_url, '')",
	"COALESCE(affiliate_url, '')",
	"COALESCE(category_id, '')",
}

// Config describes the database file.
type Config struct {
	Path        string
	BusyTimeout time.Duration
	Migrate     bool
}

// Store implements corpus.Store on SQLite.
type Store struct {
	db        *sql.DB
	dimension int
}

// Open opens (and optionally migrates) the database at cfg.Path.
func Open(ctx context.Context, cfg Config, dimension int) (*Store, error) {
	db, err := sql.Open("sqlite", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}
	// a single writer avoids SQLITE_BUSY under concurrent updates
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", cfg.Path, err)
	}
	if cfg.Migrate {
		if err := ApplyMigrations(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &Store{db: db, dimension: dimension}, nil
}

func buildDSN(cfg Config) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + cfg.Path + "?" + q.Encode()
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) FindSimilar(
	ctx context.Context,
	query embedding.Vector,
	topK int,
	minSimilarity float64,
) ([]corpus.Match, error) {
	if err := corpus.CheckDimension(query, s.dimension); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}
	q, args, err := squirrel.Select(append(append([]string{}, itemColumns...), "embedding")...).
		From(table).
		Where("embedding IS NOT NULL").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build similarity query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: similarity query: %w", err)
	}
	defer rows.Close()
	matches := make([]corpus.Match, 0, topK)
	for rows.Next() {
		var (
			item corpus.Item
			raw  []byte
		)
		if err := rows.Scan(
			&item.ID, &item.Name, &item.Description, &item.ImageURL, &item.AffiliateURL, &item.CategoryID, &raw,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan item: %w", err)
		}
		vec, err := embedding.DecodeVector(raw)
		if err != nil {
			return nil, fmt.Errorf("sqlite: item %q: %w", item.ID, err)
		}
		if err := corpus.CheckDimension(vec, s.dimension); err != nil {
			return nil, fmt.Errorf("sqlite: item %q: %w", item.ID, err)
		}
		score, err := corpus.Cosine(query, vec)
		if err != nil {
			return nil, err
		}
		if score <= minSimilarity {
			continue
		}
		matches = append(matches, corpus.MatchFromItem(&item, score))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate items: %w", err)
	}
	corpus.SortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *Store) ItemsMissingVector(ctx context.Context, limit int) ([]corpus.Item, error) {
	builder := squirrel.Select(itemColumns...).
		From(table).
		Where("embedding IS NULL").
		OrderBy("id ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	q, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build backlog query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: backlog query: %w", err)
	}
	defer rows.Close()
	var items []corpus.Item
	for rows.Next() {
		var item corpus.Item
		if err := rows.Scan(
			&item.ID, &item.Name, &item.Description, &item.ImageURL, &item.AffiliateURL, &item.CategoryID,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate backlog: %w", err)
	}
	return items, nil
}

func (s *Store) UpdateVector(ctx context.Context, id string, vec embedding.Vector) error {
	if err := corpus.CheckDimension(vec, s.dimension); err != nil {
		return err
	}
	q, args, err := squirrel.Update(table).
		Set("embedding", embedding.EncodeVector(vec)).
		Set("updated_at", squirrel.Expr("CURRENT_TIMESTAMP")).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: build update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%w: update %q: %w", core.ErrPersistence, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update %q: %w", core.ErrPersistence, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: item %q not found", core.ErrPersistence, id)
	}
	return nil
}

// UpsertItems inserts or replaces items in one transaction.
func (s *Store) UpsertItems(ctx context.Context, items []corpus.Item) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("sqlite: commit: %w", commitErr)
		}
	}()
	for i := range items {
		item := items[i]
		var blob any
		if item.Embedding != nil {
			if err := corpus.CheckDimension(item.Embedding, s.dimension); err != nil {
				return fmt.Errorf("sqlite: item %q: %w", item.ID, err)
			}
			blob = embedding.EncodeVector(item.Embedding)
		}
		q, args, buildErr := squirrel.Insert(table).
			Columns("id", "name", "description", "image_url", "affiliate_url", "category_id", "embedding").
			Values(item.ID, item.Name, item.Description, item.ImageURL, item.AffiliateURL, item.CategoryID, blob).
			Suffix(`ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				image_url = excluded.image_url,
				affiliate_url = excluded.affiliate_url,
				category_id = excluded.category_id,
				embedding = excluded.embedding,
				updated_at = CURRENT_TIMESTAMP`).
			ToSql()
		if buildErr != nil {
			return fmt.Errorf("sqlite: build upsert: %w", buildErr)
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("%w: upsert %q: %w", core.ErrPersistence, item.ID, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
