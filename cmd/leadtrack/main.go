package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"leadtrack-engine/internal/config"
	"leadtrack-engine/internal/logging"
)

var (
	// Global flags
	dataDirFlag string
	configFlag  string
	logLevel    string
	jsonOut     bool

	cfg     config.Config
	cfgPath string
	// cfgWarnings are logged once the logger exists.
	cfgWarnings []string
	dataDir     string
	logger      *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "leadtrack",
	Short: "Local sales lead tracker",
	Long: `leadtrack imports lead spreadsheets into a local SQLite database,
tracks every field change, and reports follow-ups and pipeline analytics.

Run "leadtrack serve" to start the dashboard API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}

		dataDir = dataDirFlag
		if dataDir == "" {
			dataDir = os.Getenv(config.EnvDataDir)
		}
		if dataDir == "" {
			dataDir = "."
		}
		p, err := config.Resolve(configFlag, dataDir)
		if err != nil {
			return fmt.Errorf("config bootstrap failed: %w", err)
		}
		c, err := config.Load(p)
		if err != nil {
			return fmt.Errorf("config load failed (%s): %w", p, err)
		}
		if logLevel != "" {
			c.App.LogLevel = logLevel
		}
		if err := config.Validate(c); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		c, vr := config.NormalizeAndValidate(c)
		cfg, cfgPath, cfgWarnings = c, p, vr.Warnings
		if dataDirFlag == "" && cfg.App.DataDir != "" {
			dataDir = cfg.App.DataDir
		}

		logger, err = logging.New(cfg.App.LogLevel, cfg.App.Dev)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		zap.ReplaceGlobals(logger)
		for _, w := range cfgWarnings {
			logger.Warn("config", zap.String("warning", w))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "data directory (default $"+config.EnvDataDir+" or .)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default <data-dir>/config.yml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print JSON instead of tables")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
