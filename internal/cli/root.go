// Package cli holds the pulselight commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ewilliams-labs/pulselight/internal/core/services"
	"github.com/ewilliams-labs/pulselight/internal/platform/config"
	"github.com/ewilliams-labs/pulselight/internal/platform/logger"
)

var (
	envFile    string
	logLevel   string
	logConsole bool

	cfg *config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "pulselight",
	Short:         "Keeps smart lights in sync with the song playing on Spotify.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(envFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		log, err = logger.New(logger.Config{
			Level:      cfg.LogLevel,
			OutputPath: cfg.LogFile,
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     14,
			Compress:   true,
			Console:    logConsole,
		})
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logConsole, "console", false, "human readable log output")
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// engineConfig maps the environment onto engine tuning.
func engineConfig(c *config.Config) services.EngineConfig {
	ec := services.DefaultEngineConfig()
	ec.TickInterval = c.TickInterval
	ec.BarConfidence = c.BarConfidence
	ec.BrightnessMin = c.BrightnessMin
	ec.BrightnessMax = c.BrightnessMax
	ec.ClipSigma = c.LoudnessClipSigma
	ec.MergeMinDuration = c.MergeMinDuration
	ec.MergeRecursive = c.MergeRecursive
	return ec
}
