package pgstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/pressly/goose/v3"
	"github.com/utakatik/utakatik/engine/core"

	// Register pgx stdlib driver for database/sql usage in migrations.
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed schema.sql.tmpl
var schemaSource string

var schemaTemplate = template.Must(template.New("schema").Parse(schemaSource))

const dropSchema = `DROP FUNCTION IF EXISTS match_affiliate_products(vector, INT, FLOAT);
DROP TABLE IF EXISTS affiliate_products;`

// RenderSchema returns the DDL for an index whose vectors have the given dimension.
func RenderSchema(dimension int) (string, error) {
	if dimension <= 0 {
		return "", fmt.Errorf("%w: vector dimension must be positive, got %d", core.ErrInvalidInput, dimension)
	}
	var b strings.Builder
	if err := schemaTemplate.Execute(&b, struct{ Dimension int }{dimension}); err != nil {
		return "", fmt.Errorf("render schema: %w", err)
	}
	return b.String(), nil
}

// ApplyMigrations creates the product table and the match function sized for dimension.
func ApplyMigrations(ctx context.Context, dsn string, dimension int) error {
	schema, err := RenderSchema(dimension)
	if err != nil {
		return err
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db for migrations: %w", err)
	}
	defer db.Close()
	provider, err := goose.NewProvider(goose.DialectPostgres, db, nil,
		goose.WithGoMigrations(goose.NewGoMigration(1, execInTx(schema), execInTx(dropSchema))),
	)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func execInTx(statements string) *goose.GoFunc {
	return &goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, statements)
		return err
	}}
}
