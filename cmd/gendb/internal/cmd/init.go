package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"gendb/pkg/config"
	"gendb/pkg/store"
)

// initConfig loads the file named by --config (defaults when it does not
// exist) and applies command line overrides.
func initConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if data, _ := cmd.Flags().GetString("data"); data != "" {
		cfg.DB.Path = data
	}
	return cfg, nil
}

// initLogger configures the global slog.Logger (JSON or text).
func initLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Logger.Level))); err != nil {
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{AddSource: true, Level: level}

	var handler slog.Handler
	if cfg.Logger.JSON {
		handler = slog.NewJSONHandler(os.Stderr, hopts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, hopts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// openStore opens the configured store. One-shot commands run without
// background maintenance.
func openStore(cmd *cobra.Command, maintenance bool) (*store.Store, config.Config, error) {
	cfg, err := initConfig(cmd)
	if err != nil {
		return nil, cfg, err
	}
	logger := initLogger(cfg)

	opts, err := store.OptionsFromConfig(cfg.DB)
	if err != nil {
		return nil, cfg, err
	}
	opts.Logger = logger
	opts.Maintenance.Enabled = opts.Maintenance.Enabled && maintenance

	st, err := store.New(cfg.DB.Path, opts)
	return st, cfg, err
}
