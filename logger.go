package main

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. "debug" selects the development
// encoder with human readable timestamps, every other level logs JSON with
// unix millis.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	var config zap.Config
	var encoderConf zapcore.EncoderConfig

	if lvl == zapcore.DebugLevel {
		config = zap.NewDevelopmentConfig()
		encoderConf = zap.NewDevelopmentEncoderConfig()

		// Use a human readable time
		encoderConf.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewProductionConfig()
		encoderConf = zap.NewProductionEncoderConfig()

		// Use unix timestamp millis for production
		encoderConf.EncodeTime = zapcore.EpochMillisTimeEncoder
	}

	config.EncoderConfig = encoderConf
	config.Level = zap.NewAtomicLevelAt(lvl)

	return config.Build()
}
