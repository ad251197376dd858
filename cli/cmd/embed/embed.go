package embed

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/utakatik/utakatik/cli/cmd"
	"github.com/utakatik/utakatik/cli/helpers"
	"github.com/utakatik/utakatik/engine/embedding"
)

const defaultPreview = 8

type result struct {
	Model     string    `json:"model"`
	Dimension int       `json:"dimension"`
	Norm      float64   `json:"norm"`
	Preview   []float32 `json:"preview"`
	Vector    []float32 `json:"vector,omitempty"`
}

// NewEmbedCommand prints the embedding of a piece of text.
func NewEmbedCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "embed <text>",
		Short: "Embed text with the configured model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, handleEmbed, args)
		},
	}
	c.Flags().Int("preview", defaultPreview, "Number of leading components to show")
	c.Flags().Bool("full", false, "Include the full vector in the output")
	return c
}

func handleEmbed(ctx context.Context, cobraCmd *cobra.Command, executor *cmd.CommandExecutor, args []string) error {
	emb := executor.App().Embedder
	vec, err := emb.Embed(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	preview, _ := cobraCmd.Flags().GetInt("preview")
	full, _ := cobraCmd.Flags().GetBool("full")
	res := summarize(emb.ModelID(), vec, preview, full)
	return executor.Write(cobraCmd.OutOrStdout(), res,
		helpers.Field{Label: "Model", Value: res.Model},
		helpers.Field{Label: "Dimension", Value: res.Dimension},
		helpers.Field{Label: "Norm", Value: res.Norm},
		helpers.Field{Label: "Preview", Value: res.Preview},
	)
}

func summarize(model string, vec embedding.Vector, preview int, full bool) result {
	if preview < 0 || preview > len(vec) {
		preview = len(vec)
	}
	res := result{
		Model:     model,
		Dimension: len(vec),
		Norm:      embedding.Norm(vec),
		Preview:   vec[:preview],
	}
	if full {
		res.Vector = vec
	}
	return res
}
