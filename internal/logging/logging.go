// Package logging builds the process logger from LOG_LEVEL and LOG_FORMAT.
package logging

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func level(name string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New returns a sugared logger. format "console" selects the human readable
// encoder; anything else logs JSON.
func New(logLevel string, format string) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("2006-01-02 15:04:05 MST"))
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(level(logLevel))
	cfg.EncoderConfig.TimeKey = "ts"

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar().Named("warungpos"), nil
}
