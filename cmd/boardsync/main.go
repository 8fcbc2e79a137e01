package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sdlcboard/api/internal/config"
)

var (
	// Global flags
	verbose    bool
	configPath string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "boardsync",
	Short: "Sync server and tools for the SDLC workflow board",
	Long: `boardsync keeps the shared SDLC workflow board in one place.

The serve command runs the HTTP API the board page talks to; the other
commands work on the configured store directly.

Configuration comes from the YAML file named by --config or BOARD_CONFIG,
with environment variables taking precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// commands that open a store report config errors themselves
		level := "info"
		if cfg, err := loadConfig(); err == nil {
			level = cfg.LogLevel
		}
		var err error
		logger, err = newLogger(level, verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: $BOARD_CONFIG)")

	mergeCmd.Flags().StringVar(&mergeInto, "into", "./sdlc-workflow.json", "Board file to merge into")
	mergeCmd.Flags().StringVar(&mergeFrom, "from", "", "Board file holding the incoming phases (required)")
	mergeCmd.Flags().StringVar(&mergeUser, "user", "", "Email recorded in the change history")
	_ = mergeCmd.MarkFlagRequired("from")

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "html", "Export format: html or pdf")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default: stdout)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportCmd)
}

func newLogger(level string, debug bool) (*zap.Logger, error) {
	parsed := zapcore.InfoLevel
	if value := strings.TrimSpace(level); value != "" {
		var err error
		if parsed, err = zapcore.ParseLevel(value); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
	}
	if debug {
		parsed = zapcore.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// loadConfig reads the config file given with --config, falling back to
// BOARD_CONFIG.
func loadConfig() (config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
