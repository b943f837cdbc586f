// Package logging builds the structured logger from the logging
// configuration.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/georgepadayatti/sealtrust/config"
)

// New returns a zap logger for cfg. Text format selects the console
// encoder; output is stderr, stdout or a file path.
func New(cfg *config.LoggingConfig) (*zap.Logger, error) {
	c := config.LoggingConfig{}
	if cfg != nil {
		c = *cfg
	}
	c.SetDefaults()

	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}

	var zc zap.Config
	switch c.Format {
	case "json":
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "text":
		zc = zap.NewDevelopmentConfig()
		zc.Development = false
		zc.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("invalid log format %q", c.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	zc.OutputPaths = []string{c.Output}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}

// Must is like New but falls back to a no-op logger on error.
func Must(cfg *config.LoggingConfig) *zap.Logger {
	logger, err := New(cfg)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
