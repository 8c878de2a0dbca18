package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hexatlas/hexgrid/internal/config"
	"github.com/hexatlas/hexgrid/internal/logging"
)

// Version is injected at build time.
var Version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "hexgrid",
		Short:         "Hexagonal grid server over the H3 index",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "config/server.yaml", "config file path")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCommand(opts),
		newCoverCommand(opts),
		newNeighborsCommand(),
		newCellCommand(),
	)
	return cmd
}

// load reads the config and builds the logger it describes.
func (o *rootOptions) load() (*config.Config, *zap.Logger, zap.AtomicLevel, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, zap.AtomicLevel{}, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	log, level, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, level, err
	}
	return cfg, log, level, nil
}
