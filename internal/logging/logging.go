// Package logging builds the service logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON logger for staging and production and a console logger
// otherwise. An empty level means info.
func New(environment, level string) (*zap.Logger, error) {
	lvl := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if strings.TrimSpace(level) != "" {
		parsed, err := zap.ParseAtomicLevel(strings.ToLower(strings.TrimSpace(level)))
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		lvl = parsed
	}

	var cfg zap.Config
	switch environment {
	case "production", "staging":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = lvl

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.With(zap.String("env", environment)), nil
}
