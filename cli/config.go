package cli

import (
	"fmt"

	"github.com/compozy/tutorrag/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ConfigCmd groups configuration inspection commands.
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := config.Redacted(config.FromContext(cmd.Context()))
			if err != nil {
				return err
			}
			switch format {
			case formatJSON:
				return writeJSON(cmd.OutOrStdout(), out)
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(out); err != nil {
					return fmt.Errorf("failed to encode configuration: %w", err)
				}
				return enc.Close()
			default:
				return fmt.Errorf("unsupported format: %s", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format (yaml, json)")
	return cmd
}
