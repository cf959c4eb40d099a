package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/compozy/tutorrag/engine/knowledge/ingest"
	"github.com/spf13/cobra"
)

// IngestCmd ingests one material file or a whole tenant directory.
func IngestCmd() *cobra.Command {
	var (
		all    bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "ingest <tenant> [file]",
		Short: "Chunk, embed and store tenant materials",
		Example: `  tutorrag ingest bio101 week1/cells.md
  tutorrag ingest bio101 --all`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := resolveFormat(cmd.OutOrStdout(), format)
			if err != nil {
				return err
			}
			if all == (len(args) == 2) {
				return errors.New("pass either a file or --all")
			}
			return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				tenant := args[0]
				if all {
					report, err := app.Pipeline.IngestAll(ctx, tenant)
					if err != nil {
						return err
					}
					if err := writeReport(cmd.OutOrStdout(), format, report); err != nil {
						return err
					}
					if len(report.Failed) > 0 {
						return fmt.Errorf("%d file(s) failed to ingest", len(report.Failed))
					}
					return nil
				}
				res, err := app.Pipeline.IngestFile(ctx, tenant, args[1])
				if err != nil {
					return err
				}
				return writeReport(cmd.OutOrStdout(), format, &ingest.Report{
					Tenant:    tenant,
					Succeeded: []ingest.FileResult{*res},
				})
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Ingest every supported file of the tenant")
	cmd.Flags().StringVarP(&format, "format", "f", formatAuto, "Output format (table, json); table on terminals, json otherwise")
	cmd.Flags().Int("workers", 0, "Concurrent embedding batches per file")
	cmd.Flags().Int("chunk-size", 0, "Chunk size in tokens")
	cmd.Flags().Int("chunk-overlap", 0, "Overlap between chunks in tokens")
	cmd.Flags().String("strategy", "", "Chunking strategy (auto, token_window, markdown, recursive)")
	return cmd
}

// RemoveCmd drops a file, or every chunk of a tenant, from the store.
func RemoveCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "remove <tenant> [file]",
		Short: "Remove ingested materials",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 2) {
				return errors.New("pass either a file or --all")
			}
			return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				if all {
					return app.Pipeline.RemoveTenant(ctx, args[0])
				}
				return app.Pipeline.RemoveFile(ctx, args[0], args[1])
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Remove every stored chunk and the file index of the tenant")
	return cmd
}
