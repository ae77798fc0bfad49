// Package logging builds the process logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger from the configured level. Development mode
// switches to console encoding with full stack traces.
func New(level string, development bool) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return cfg.Build()
}

// NewOrNop returns a logger, falling back to a no-op one when the
// configuration is unusable. Daemons log the fallback reason themselves.
func NewOrNop(level string, development bool) *zap.Logger {
	log, err := New(level, development)
	if err != nil {
		return zap.NewNop()
	}
	return log
}
