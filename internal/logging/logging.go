// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a sugared logger for the environment ("dev" or "prod") at the
// given level. Development output is human readable; production output is
// JSON.
func New(environment, level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	var cfg zap.Config
	if environment == "prod" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return logger.Sugar(), nil
}

// Install builds a logger with New and makes it the global zap logger used by
// zap.S() and zap.L(). The returned func restores the previous globals and
// flushes buffered entries.
func Install(environment, level string) (*zap.SugaredLogger, func(), error) {
	logger, err := New(environment, level)
	if err != nil {
		return nil, func() {}, err
	}
	restore := zap.ReplaceGlobals(logger.Desugar())
	return logger, func() {
		_ = logger.Sync()
		restore()
	}, nil
}
