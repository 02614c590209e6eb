// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Placeholders for log lines emitted outside any request or sweep span.
const (
	SystemTraceID = "system"
	SystemSpanID  = "system"
)

// Options selects where and how verbosely the service logs.
type Options struct {
	Service string
	Env     string
	// Level is a zap level name; empty means info.
	Level string
	// File, when set, receives a copy of stdout.
	File string
}

// New builds a JSON logger writing to stdout with service and env on every line.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("logging: level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stdout"}
	if opts.File != "" {
		if err := touch(opts.File); err != nil {
			return nil, fmt.Errorf("logging: prepare %s: %w", opts.File, err)
		}
		zc.OutputPaths = append(zc.OutputPaths, opts.File)
		zc.ErrorOutputPaths = append(zc.ErrorOutputPaths, opts.File)
	}
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.MessageKey = "msg"
	zc.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	zc.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	zc.InitialFields = map[string]any{
		"service": opts.Service,
		"env":     opts.Env,
	}
	return zc.Build()
}

// WithTrace pins trace_id and span_id on logger. Empty ids become "unknown".
func WithTrace(logger *zap.Logger, traceID, spanID string) *zap.Logger {
	if logger == nil {
		logger = zap.L()
	}
	return logger.With(
		zap.String("trace_id", orUnknown(traceID)),
		zap.String("span_id", orUnknown(spanID)),
	)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
