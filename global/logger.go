package global

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a SugaredLogger writing to the given outputs (e.g.
// "stderr", or a file path) at the given level. name, when non-empty, is
// prefixed to every logged line via a named sub-logger.
func NewLogger(name string, level zapcore.Level, outputs []string, tag string) *zap.SugaredLogger {
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("global.NewLogger: %v", err))
	}
	sugared := logger.Sugar()
	if name != "" {
		sugared = sugared.Named(name)
	}
	if tag != "" {
		sugared = sugared.With("tag", tag)
	}
	return sugared
}
