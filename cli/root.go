package cli

import (
	"context"
	"fmt"

	"github.com/compozy/tutorrag/pkg/config"
	"github.com/compozy/tutorrag/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RootCmd builds the tutorrag command tree.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tutorrag",
		Short:         "Ingest course materials and retrieve them for tutoring",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.String("config", "tutorrag.yaml", "Path to the configuration file")
	flags.String("env-file", ".env", "Path to the environment file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error, disabled)")
	flags.Bool("log-json", false, "Emit logs as JSON")
	flags.Bool("log-source", false, "Include source locations in logs")
	flags.String("materials-root", "", "Directory holding one sub-directory per tenant")
	flags.String("vector-store", "", "Vector store provider (pgvector, filesystem, memory)")
	flags.String("db-conn-string", "", "PostgreSQL connection string for pgvector")
	flags.String("cache", "", "Retrieval cache (memory, redis)")

	root.AddCommand(
		IngestCmd(),
		RemoveCmd(),
		SearchCmd(),
		SchemaCmd(),
		ServeCmd(),
		WatchCmd(),
		ConfigCmd(),
	)
	return root
}

// SetupGlobalConfig loads .env, the YAML file, environment and explicitly
// set flags, then attaches the config and logger to the command context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	level, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.SetupLogger(level, logJSON, logSource)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logger.ContextWithLogger(ctx, log)
	ctx = config.ContextWithConfig(ctx, cfg)
	cmd.SetContext(ctx)
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return nil, fmt.Errorf("failed to get env-file flag: %w", err)
	}
	if envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return nil, err
		}
	}
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	sources := []config.Source{}
	if configFile != "" {
		sources = append(sources, config.NewYAMLProvider(configFile))
	}
	sources = append(sources, config.NewCLIProvider(changedFlags(cmd)))
	cfg, err := config.NewService().Load(cmd.Context(), sources...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// changedFlags collects the flags the user set that map onto configuration.
func changedFlags(cmd *cobra.Command) map[string]any {
	out := make(map[string]any)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if _, ok := config.CLIFlagPaths[f.Name]; ok {
			out[f.Name] = f.Value.String()
		}
	})
	return out
}
