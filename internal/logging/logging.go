package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the command logger. "dev" selects zap's development config
// (console, debug level); anything else selects JSON production output.
func New(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "dev", "development":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	return cfg.Build()
}

// Must is New for command mains, falling back to a production logger.
func Must(mode string) *zap.Logger {
	l, err := New(mode)
	if err != nil {
		return zap.Must(zap.NewProduction())
	}
	return l
}
