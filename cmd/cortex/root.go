package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/cortex"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "cortex",
		Short:         "Plan and act with a model-predictive executive",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "configuration file (defaults apply when empty)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(
		newPlanCmd(opts),
		newReplCmd(opts),
		newServeCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the configuration and builds the logger writing to cmd's
// error stream.
func (o *rootOptions) load(cmd *cobra.Command) (*cortex.Config, *slog.Logger, error) {
	cfg, err := cortex.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	logger, err := cfg.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, fmt.Errorf("configure logging: %w", err)
	}
	return cfg, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cortex %s\n", Version)
		},
	}
}
