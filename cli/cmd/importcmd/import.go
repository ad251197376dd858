package importcmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/utakatik/utakatik/cli/cmd"
	"github.com/utakatik/utakatik/cli/helpers"
	"github.com/utakatik/utakatik/engine/core"
	"github.com/utakatik/utakatik/engine/corpus"
)

// Product is one record of an import file.
type Product struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	ImageURL     string `json:"image_url"`
	AffiliateURL string `json:"affiliate_url"`
	CategoryID   string `json:"category_id"`
}

// NewImportCommand upserts products from a JSON file. Imported products lose
// their vectors and are picked up by the next reindex.
func NewImportCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "import",
		Short: "Load products from a JSON array file",
		RunE:  executeImport,
	}
	c.Flags().String("file", "", "Path to a JSON array of products")
	c.Flags().Bool("reindex", false, "Embed the imported products right away")
	return c
}

func executeImport(cobraCmd *cobra.Command, args []string) error {
	if err := cmd.ValidateRequiredFlags(cobraCmd, []string{"file"}); err != nil {
		return cmd.HandleCommonErrors(cobraCmd.ErrOrStderr(), err, helpers.DetectMode(cobraCmd))
	}
	return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, handleImport, args)
}

func handleImport(ctx context.Context, cobraCmd *cobra.Command, executor *cmd.CommandExecutor, _ []string) error {
	path, _ := cobraCmd.Flags().GetString("file")
	items, err := ReadProducts(path)
	if err != nil {
		return err
	}
	a := executor.App()
	if a.Writer == nil {
		return errors.New("configured store does not accept writes")
	}
	if err := a.Writer.UpsertItems(ctx, items); err != nil {
		return err
	}
	out := map[string]any{"imported": len(items)}
	fields := []helpers.Field{{Label: "Imported", Value: len(items)}}
	if reindex, _ := cobraCmd.Flags().GetBool("reindex"); reindex {
		indexed, failed := IndexImported(ctx, a.Indexer, items)
		out["indexed"] = indexed
		out["failed"] = failed
		fields = append(fields,
			helpers.Field{Label: "Indexed", Value: indexed},
			helpers.Field{Label: "Failed", Value: len(failed)},
		)
	}
	return executor.Write(cobraCmd.OutOrStdout(), out, fields...)
}

// ItemIndexer embeds and stores a single item.
type ItemIndexer interface {
	IndexOne(ctx context.Context, id, name, description string) error
}

// Failure is an imported item that could not be indexed.
type Failure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// IndexImported embeds exactly the given items. A failed item does not stop the rest.
func IndexImported(ctx context.Context, idx ItemIndexer, items []corpus.Item) (int, []Failure) {
	indexed := 0
	failed := []Failure{}
	for i := range items {
		item := &items[i]
		if err := idx.IndexOne(ctx, item.ID, item.Name, item.Description); err != nil {
			failed = append(failed, Failure{ID: item.ID, Error: err.Error()})
			continue
		}
		indexed++
	}
	return indexed, failed
}

// ReadProducts parses and validates an import file.
func ReadProducts(path string) ([]corpus.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var products []Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", core.ErrInvalidInput, path, err)
	}
	items := make([]corpus.Item, 0, len(products))
	for i := range products {
		p := &products[i]
		if p.ID == "" || p.Name == "" {
			return nil, fmt.Errorf("%w: product %d needs an id and a name", core.ErrInvalidInput, i)
		}
		items = append(items, corpus.Item{
			ID:           p.ID,
			Name:         p.Name,
			Description:  p.Description,
			ImageURL:     p.ImageURL,
			AffiliateURL: p.AffiliateURL,
			CategoryID:   p.CategoryID,
		})
	}
	return items, nil
}
