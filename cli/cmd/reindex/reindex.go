package reindex

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/utakatik/utakatik/cli/cmd"
	"github.com/utakatik/utakatik/cli/helpers"
	"github.com/utakatik/utakatik/engine/indexer"
)

type failure struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type result struct {
	Updated int       `json:"updated"`
	Total   int       `json:"total"`
	Failed  []failure `json:"failed,omitempty"`
}

// NewReindexCommand embeds every product still missing a vector.
func NewReindexCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "reindex",
		Short: "Embed products that have no vector yet",
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, handleReindex, args)
		},
	}
	c.Flags().Int("limit", 0, "Maximum products to process (0 uses the configured batch limit)")
	return c
}

func handleReindex(ctx context.Context, cobraCmd *cobra.Command, executor *cmd.CommandExecutor, _ []string) error {
	limit, err := cobraCmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	report, err := executor.App().Reindexer.Reindex(ctx, limit)
	if err != nil {
		return err
	}
	res := toResult(report)
	return executor.Write(cobraCmd.OutOrStdout(), res,
		helpers.Field{Label: "Updated", Value: res.Updated},
		helpers.Field{Label: "Total", Value: res.Total},
		helpers.Field{Label: "Failed", Value: len(res.Failed)},
		helpers.Field{Label: "Duration", Value: report.Duration.Round(time.Millisecond)},
	)
}

func toResult(report *indexer.Report) result {
	res := result{Updated: report.Updated, Total: report.Total}
	for _, o := range report.Failed() {
		f := failure{ID: o.ID, Status: string(o.Status)}
		if o.Err != nil {
			f.Error = o.Err.Error()
		}
		res.Failed = append(res.Failed, f)
	}
	return res
}
