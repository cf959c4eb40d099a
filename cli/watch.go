package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/compozy/tutorrag/engine/knowledge/ingest"
	"github.com/spf13/cobra"
)

// WatchCmd keeps a tenant's stored chunks in step with its material files.
func WatchCmd() *cobra.Command {
	var (
		debounce time.Duration
		initial  bool
	)
	cmd := &cobra.Command{
		Use:   "watch <tenant>",
		Short: "Re-ingest tenant materials as they change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			tenant := args[0]
			return withApp(ctx, func(ctx context.Context, app *App) error {
				if initial {
					report, err := app.Pipeline.IngestAll(ctx, tenant)
					if err != nil {
						return err
					}
					if err := writeReport(cmd.OutOrStdout(), formatTable, report); err != nil {
						return err
					}
				}
				out := cmd.OutOrStdout()
				return app.Pipeline.Watch(ctx, tenant, ingest.WatchOptions{
					Debounce: debounce,
					OnChange: func(c ingest.Change) {
						switch {
						case c.Err != nil:
							fmt.Fprintf(out, "failed   %s: %v\n", c.File, c.Err)
						case c.Removed:
							fmt.Fprintf(out, "removed  %s\n", c.File)
						case c.Result != nil:
							fmt.Fprintf(out, "ingested %s (%d chunks)\n", c.File, c.Result.Chunks)
						}
					},
				})
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "Quiet period before changed files are synced")
	cmd.Flags().BoolVar(&initial, "initial", true, "Ingest every file once before watching")
	return cmd
}
