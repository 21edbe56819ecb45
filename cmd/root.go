package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/TFMV/flasharc/internal/catalog"
	"github.com/TFMV/flasharc/internal/config"
	"github.com/TFMV/flasharc/internal/storage"
)

var (
	cfg    = config.Default()
	logger = log.NewNopLogger()
)

// RootCmd is the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "flasharc",
	Short: "FlashArc zero-copy manifest archives",
	Long: `FlashArc records directory trees as zero-copy archives.
Archives are read in place, straight from a memory map, and validated
before use unless they are explicitly trusted.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("store") {
			loaded.StoreDir, _ = cmd.Flags().GetString("store")
		}
		if cmd.Flags().Changed("log-level") {
			loaded.LogLevel, _ = cmd.Flags().GetString("log-level")
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		logger = newLogger(cfg.LogLevel)
		return nil
	},
}

func newLogger(lvl string) log.Logger {
	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	l = log.With(l, "ts", log.DefaultTimestampUTC)
	var opt level.Option
	switch strings.ToLower(lvl) {
	case "debug":
		opt = level.AllowDebug()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		opt = level.AllowInfo()
	}
	return level.NewFilter(l, opt)
}

// openRepository opens the configured archive store.
func openRepository() (*storage.Repository, error) {
	opts := storage.RepositoryOptions{
		Archive: storage.Options{
			CompressionLevel: cfg.CompressionLevel,
			CacheSize:        cfg.CacheSize,
			Mmap:             cfg.Mmap,
			Logger:           logger,
		},
		Catalog:        cfg.Catalog,
		CatalogOptions: catalog.DefaultOptions(),
	}
	repo, err := storage.OpenRepository(cfg.StoreDir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", cfg.StoreDir, err)
	}
	return repo, nil
}

// Execute executes the root command.
func Execute() error {
	return RootCmd.Execute()
}

// ExecuteWithContext executes the root command with the given context.
func ExecuteWithContext(ctx context.Context) error {
	RootCmd.SetContext(ctx)
	return RootCmd.Execute()
}

func init() {
	RootCmd.PersistentFlags().String("config", "", "Config file (default "+config.DefaultFile+")")
	RootCmd.PersistentFlags().String("store", "", "Archive store directory")
	RootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
}
