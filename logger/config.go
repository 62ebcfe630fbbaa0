package logger

import (
	"context"

	"seeker/config"
)

// ConfigAdapter adapts config.Config to implement LoggerConfig
type ConfigAdapter struct {
	config *config.Config
}

// NewConfigAdapter creates a new ConfigAdapter
func NewConfigAdapter(cfg *config.Config) LoggerConfig {
	return &ConfigAdapter{config: cfg}
}

// GetMinLogLevel returns the level configured through SEEKER_LOG_LEVEL
func (c *ConfigAdapter) GetMinLogLevel() Level {
	return ParseLevel(c.config.LogLevel)
}

// ShouldMaskAPIKeys returns whether API keys should be masked in logs
func (c *ConfigAdapter) ShouldMaskAPIKeys() bool {
	return true
}

// NewFromConfig creates a new logger using the server config
func NewFromConfig(ctx context.Context, cfg *config.Config) Logger {
	return New(ctx, NewConfigAdapter(cfg))
}

// ContextLoggerFromConfig creates a logger and stores it in context for easy access
func ContextLoggerFromConfig(ctx context.Context, cfg *config.Config) (context.Context, Logger) {
	logger := NewFromConfig(ctx, cfg)
	newCtx := context.WithValue(ctx, loggerContextKey, logger)
	return newCtx, logger
}
