package cli

import (
	"context"
	"fmt"

	"github.com/compozy/tutorrag/engine/knowledge/vectordb"
	"github.com/spf13/cobra"
)

type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
	SchemaStatements() []string
}

// SchemaCmd creates the pgvector extension, table and indexes.
func SchemaCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Ensure the vector store schema exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				store, ok := app.Store.(schemaEnsurer)
				if !ok {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s store needs no schema\n", app.Config.VectorStore.Provider)
					return err
				}
				if dryRun {
					for _, stmt := range store.SchemaStatements() {
						if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s;\n", stmt); err != nil {
							return err
						}
					}
					return nil
				}
				if err := store.EnsureSchema(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the DDL instead of executing it")
	return cmd
}

var _ schemaEnsurer = (*vectordb.PGStore)(nil)
