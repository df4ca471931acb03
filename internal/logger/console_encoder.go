package logger

import (
	"go.uber.org/zap/zapcore"
)

// newConsoleEncoder builds a compact, human-readable encoder for local runs:
// ISO-8601 timestamps, colored upper-case level names, no caller field.
// JSON output (used in production) goes through zap's stock production
// encoder instead — this one is purely for operators watching a terminal.
func newConsoleEncoder() zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	return zapcore.NewConsoleEncoder(cfg)
}
