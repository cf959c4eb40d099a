package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
)

// SearchCmd runs a retrieval query against one tenant.
func SearchCmd() *cobra.Command {
	var (
		topK   int
		format string
	)
	cmd := &cobra.Command{
		Use:     "search <tenant> <query>",
		Short:   "Retrieve the most relevant chunks for a question",
		Example: `  tutorrag search bio101 "what does the mitochondria do" --top-k 3`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := resolveFormat(cmd.OutOrStdout(), format)
			if err != nil {
				return err
			}
			query := strings.Join(args[1:], " ")
			return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				results, err := app.Retriever.Search(ctx, args[0], query, topK)
				if err != nil {
					return err
				}
				return writeResults(cmd.OutOrStdout(), format, results)
			})
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (defaults to the configured value)")
	cmd.Flags().Float64("min-score", 0, "Relevance threshold in [-1, 1]")
	cmd.Flags().StringVarP(&format, "format", "f", formatAuto, "Output format (table, json); table on terminals, json otherwise")
	return cmd
}
