// Package logging builds the zap loggers used across the harvester.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the encoder and minimum level.
type Config struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// New builds a console logger with colour levels in development and a JSON
// logger otherwise. An empty Level keeps the preset's default.
func New(cfg Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.DisableStacktrace = false
	}
	zcfg.EncoderConfig.TimeKey = "ts"

	if lvl := strings.TrimSpace(cfg.Level); lvl != "" {
		level, err := zap.ParseAtomicLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zcfg.Level = level
	}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named("harvest"), nil
}
