// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field keys shared by every component.
const (
	KeyRunID  = "run_id"
	KeyMode   = "mode"
	KeySource = "source"
	KeyItem   = "item"
	KeyStage  = "stage"
	KeyURL    = "url"
)

// New builds a zap.Logger configured for development or production. Both
// encode the timestamp under "ts".
func New(development bool, opts ...zap.Option) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build(opts...)
	if err != nil {
		kind := "prod"
		if development {
			kind = "dev"
		}
		return nil, fmt.Errorf("build %s logger: %w", kind, err)
	}
	return logger, nil
}

// ForRun scopes logger to one pipeline run.
func ForRun(logger *zap.Logger, runID, mode string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(zap.String(KeyRunID, runID), zap.String(KeyMode, mode))
}
