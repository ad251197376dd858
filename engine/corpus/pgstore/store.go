// Package pgstore keeps the product index in Postgres with pgvector.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/utakatik/utakatik/engine/core"
	"github.com/utakatik/utakatik/engine/corpus"
	"github.com/utakatik/utakatik/engine/embedding"
)

const table = "affiliate_products"

var itemColumns = []string{
	"id",
	"name",
	"COALESCE(description, '') AS description",
	"COALESCE(image_url, '') AS image_url",
	"COALESCE(affiliate_url, '') AS affiliate_url",
	"COALESCE(category_id, '') AS category_id",
}

// DB is the subset of pgx used by the store (pgxpool or pgxmock).
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store implements corpus.Store on Postgres.
type Store struct {
	db        DB
	dimension int
	close     func()
}

type itemRow struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	Description  string `db:"description"`
	ImageURL     string `db:"image_url"`
	AffiliateURL string `db:"affiliate_url"`
	CategoryID   string `db:"category_id"`
}

type matchRow struct {
	itemRow
	Similarity float64 `db:"similarity"`
}

// New wraps an existing connection.
func New(db DB, dimension int) *Store {
	return &Store{db: db, dimension: dimension, close: func() {}}
}

// Open connects a pool to dsn.
func Open(ctx context.Context, dsn string, maxConns int32, dimension int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	s := &Store{db: pool, dimension: dimension, close: pool.Close}
	if err := s.CheckSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// CheckSchema fails when the embedding column was created for another dimension.
// A missing table or an unsized column passes.
func (s *Store) CheckSchema(ctx context.Context) error {
	var dims []int32
	if err := pgxscan.Select(ctx, s.db, &dims, columnDimensionQuery, table); err != nil {
		return fmt.Errorf("pgstore: inspect schema: %w", err)
	}
	if len(dims) == 0 || dims[0] <= 0 || int(dims[0]) == s.dimension {
		return nil
	}
	return fmt.Errorf("%w: %s.embedding holds %d dimensions, embedder produces %d",
		core.ErrDimensionMismatch, table, dims[0], s.dimension)
}

const columnDimensionQuery = `SELECT atttypmod FROM pg_attribute
WHERE attrelid = to_regclass($1) AND attname = 'embedding' AND NOT attisdropped`

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
	vec := pgvector.NewVector(query)
	sql, args, err := squirrel.Select(itemColumns...).
		Column("1 - (embedding <=> ?) AS similarity", vec).
		From(table).
		Where("embedding IS NOT NULL").
		Where("(embedding <=> ?) <> 'NaN'::float8", vec).
		Where("1 - (embedding <=> ?) > ?", vec, minSimilarity).
		OrderByClause("embedding <=> ? ASC", vec).
		OrderBy("id ASC").
		Limit(uint64(topK)).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgstore: build similarity query: %w", err)
	}
	var rows []matchRow
	if err := pgxscan.Select(ctx, s.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("pgstore: similarity query: %w", err)
	}
	matches := make([]corpus.Match, 0, len(rows))
	for i := range rows {
		if math.IsNaN(rows[i].Similarity) {
			continue
		}
		item := rows[i].toItem()
		matches = append(matches, corpus.MatchFromItem(&item, corpus.ClampSimilarity(rows[i].Similarity)))
	}
	return matches, nil
}

func (s *Store) ItemsMissingVector(ctx context.Context, limit int) ([]corpus.Item, error) {
	builder := squirrel.Select(itemColumns...).
		From(table).
		Where("embedding IS NULL").
		OrderBy("id ASC").
		PlaceholderFormat(squirrel.Dollar)
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgstore: build backlog query: %w", err)
	}
	var rows []itemRow
	if err := pgxscan.Select(ctx, s.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("pgstore: backlog query: %w", err)
	}
	items := make([]corpus.Item, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].toItem())
	}
	return items, nil
}

func (s *Store) UpdateVector(ctx context.Context, id string, vec embedding.Vector) error {
	if err := corpus.CheckDimension(vec, s.dimension); err != nil {
		return err
	}
	sql, args, err := squirrel.Update(table).
		Set("embedding", pgvector.NewVector(vec)).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("pgstore: build update: %w", err)
	}
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return core.AsTimeout("pgstore", err)
		}
		return fmt.Errorf("%w: update %q: %w", core.ErrPersistence, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %q not found", core.ErrPersistence, id)
	}
	return nil
}

// UpsertItems inserts or replaces items. Rewritten items lose their vector unless one is supplied.
func (s *Store) UpsertItems(ctx context.Context, items []corpus.Item) error {
	for i := range items {
		item := &items[i]
		var vec any
		if item.Embedding != nil {
			if err := corpus.CheckDimension(item.Embedding, s.dimension); err != nil {
				return fmt.Errorf("pgstore: item %q: %w", item.ID, err)
			}
			vec = pgvector.NewVector(item.Embedding)
		}
		sql, args, err := squirrel.Insert(table).
			Columns("id", "name", "description", "image_url", "affiliate_url", "category_id", "embedding").
			Values(item.ID, item.Name, item.Description, item.ImageURL, item.AffiliateURL, item.CategoryID, vec).
			Suffix(upsertSuffix).
			PlaceholderFormat(squirrel.Dollar).
			ToSql()
		if err != nil {
			return fmt.Errorf("pgstore: build upsert: %w", err)
		}
		if _, err := s.db.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("%w: upsert %q: %w", core.ErrPersistence, item.ID, err)
		}
	}
	return nil
}

const upsertSuffix = `ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	description = EXCLUDED.description,
	image_url = EXCLUDED.image_url,
	affiliate_url = EXCLUDED.affiliate_url,
	category_id = EXCLUDED.category_id,
	embedding = EXCLUDED.embedding,
	updated_at = NOW()`

func (s *Store) Close() error {
	s.close()
	return nil
}

func (r *itemRow) toItem() corpus.Item {
	return corpus.Item{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		ImageURL:     r.ImageURL,
		AffiliateURL: r.AffiliateURL,
		CategoryID:   r.CategoryID,
	}
}
