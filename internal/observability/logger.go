package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the production JSON logger used by serve. LOG_LEVEL overrides INFO.
func NewLogger() (*zap.Logger, error) {
	return NewLoggerAt(zap.InfoLevel)
}

// NewLoggerAt builds the production logger with fallback as the level when LOG_LEVEL is unset.
// One-shot CLI commands use WARN so their stdout stays readable.
func NewLoggerAt(fallback zapcore.Level) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = parseLogLevel(os.Getenv("LOG_LEVEL"), fallback)

	return config.Build()
}

func parseLogLevel(s string, fallback zapcore.Level) zap.AtomicLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "INFO":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "WARN":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "ERROR":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(fallback)
	}
}
