package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/eliasyaoyc/fastjob/internal/config"
)

// UsageError marks a failure in how the command was invoked (bad flags,
// invalid config) rather than a runtime failure. main maps it to exit
// code 64 per spec.md §6.
type UsageError struct{ Err error }

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// resolveConfig loads configuration per the --config-path / --log-level
// flags shared by every subcommand, then validates it.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config-path")
	logLevel, _ := cmd.Flags().GetString("log-level")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, &UsageError{Err: fmt.Errorf("load config: %w", err)}
	}

	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, &UsageError{Err: fmt.Errorf("invalid config: %w", err)}
	}

	return cfg, nil
}

// parseLogLevel maps a config log-level string onto a zap level,
// defaulting to info on an empty or unrecognized value.
func parseLogLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
