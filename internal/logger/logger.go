// Package logger provides the control plane's structured logging, built on
// top of go.uber.org/zap. A single process-wide instance is set up by
// Initialize, which each command calls at startup, and components reach it
// through ComponentLogger for dependency injection — never imported ad hoc
// into business logic that needs to stay testable.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the global logger instance. Safe to use before Initialize:
	// it starts out as a no-op sink so early package-init code never panics.
	Logger *zap.SugaredLogger
	// JSONOutput records whether the process is logging structured JSON.
	JSONOutput bool
)

func init() {
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger. jsonOutput selects machine-readable
// JSON (for production/aggregated log shipping) over the human-readable
// console encoder (for local `fastjobd serve` runs).
func Initialize(level zapcore.Level, jsonOutput bool) error {
	JSONOutput = jsonOutput

	var zapLogger *zap.Logger
	var err error

	if jsonOutput {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		zapLogger, err = cfg.Build()
	} else {
		zapLogger = zap.New(
			zapcore.NewCore(
				newConsoleEncoder(),
				zapcore.AddSync(os.Stdout),
				level,
			),
		)
	}
	if err != nil {
		return err
	}

	Logger = zapLogger.Sugar()
	return nil
}

// Cleanup flushes any buffered log entries. Errors from Sync are often
// ignorable for stdout/stderr (EINVAL on some platforms) but are still
// returned for callers that want to know.
func Cleanup() error {
	if Logger != nil {
		return Logger.Sync()
	}
	return nil
}

// ComponentLogger returns a named logger for a specific component, the
// preferred way to get a logger for dependency injection.
//
//	type Dispatcher struct {
//	    log *zap.SugaredLogger
//	}
//
//	func NewDispatcher() *Dispatcher {
//	    return &Dispatcher{log: logger.ComponentLogger("dispatch")}
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
