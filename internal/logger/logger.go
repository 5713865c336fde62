package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jack/shortlink-resolver/internal/config"
)

// New builds the process logger: JSON in production, colored console
// output everywhere else.
func New(cfg *config.AppConfig) (*zap.Logger, error) {
	var loggerConfig zap.Config
	if cfg.IsProduction() {
		loggerConfig = zap.NewProductionConfig()
	} else {
		loggerConfig = zap.NewDevelopmentConfig()
		loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger.With(zap.String("env", cfg.Env)), nil
}
