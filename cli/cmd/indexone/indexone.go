package indexone

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/utakatik/utakatik/cli/cmd"
	"github.com/utakatik/utakatik/cli/helpers"
)

// NewIndexOneCommand embeds a single product and stores its vector.
func NewIndexOneCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "index-one",
		Short: "Embed one product by id",
		RunE:  executeIndexOne,
	}
	c.Flags().String("id", "", "Product id")
	c.Flags().String("name", "", "Product name")
	c.Flags().String("description", "", "Product description")
	return c
}

func executeIndexOne(cobraCmd *cobra.Command, args []string) error {
	if err := cmd.ValidateRequiredFlags(cobraCmd, []string{"id", "name"}); err != nil {
		return cmd.HandleCommonErrors(cobraCmd.ErrOrStderr(), err, helpers.DetectMode(cobraCmd))
	}
	return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, handleIndexOne, args)
}

func handleIndexOne(ctx context.Context, cobraCmd *cobra.Command, executor *cmd.CommandExecutor, _ []string) error {
	id, _ := cobraCmd.Flags().GetString("id")
	name, _ := cobraCmd.Flags().GetString("name")
	description, _ := cobraCmd.Flags().GetString("description")
	if err := executor.App().Indexer.IndexOne(ctx, id, name, description); err != nil {
		return err
	}
	return executor.Write(cobraCmd.OutOrStdout(), map[string]any{"ok": true, "id": id},
		helpers.Field{Label: "Indexed", Value: id},
	)
}
