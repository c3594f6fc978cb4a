package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/nasdf/tapir/config"
	"github.com/nasdf/tapir/logger"
	"github.com/nasdf/tapir/storage"
	"github.com/nasdf/tapir/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type cli struct {
	configPath string
	storePath  string
	logLevel   string

	config config.Config
	log    *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	rootCmd := &cobra.Command{
		Use:           "tapir",
		Short:         "Tapir CLI",
		Long:          "Tapir tracks documents and writes their changes to a content addressed document store.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&c.storePath, "store", "s", "", "store directory (overrides storage.path)")
	rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level (overrides logging.level)")

	rootCmd.AddCommand(
		newSchemaCmd(c),
		newDumpCmd(c),
		newFindCmd(c),
		newGetCmd(c),
		newExportCmd(c),
		newConfigCmd(c),
	)
	return rootCmd
}

func (c *cli) setup() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.storePath != "" {
		cfg.Storage.Path = c.storePath
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	c.config = cfg
	c.log = logger.New(cfg.Logging.Level, cfg.Logging.Format)
	return nil
}

// openStore opens the store in the configured directory.
func (c *cli) openStore(ctx context.Context) (*store.Store, error) {
	if c.config.Storage.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	absPath, err := filepath.Abs(c.config.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid store path: %w", err)
	}
	st, err := storage.NewDirectory(absPath)
	if err != nil {
		return nil, err
	}
	logger.For(c.log, logger.ComponentCLI).Debugw("opening store", "path", absPath)
	return store.Open(ctx, st, store.WithLogger(c.log))
}
