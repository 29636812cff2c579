package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"chatstream/internal/constants"
	apperrors "chatstream/internal/errors"
	"chatstream/internal/models"
	"chatstream/internal/security"
)

var (
	ErrMissingDBPath = apperrors.NewConfigError("database.path", "missing database path")
)

// LoadConfig reads the JSON configuration at path, applies defaults and
// environment overrides, and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyDefaults(&config)
	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(c *models.Config) {
	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.MaxWebhookBodyBytes <= 0 {
		c.Server.MaxWebhookBodyBytes = constants.DefaultMaxWebhookBodyBytes
	}

	if c.Fanout.SubscriberBufferSize <= 0 {
		c.Fanout.SubscriberBufferSize = constants.DefaultSubscriberBufferSize
	}
	if c.Fanout.KeepAliveIntervalSec <= 0 {
		c.Fanout.KeepAliveIntervalSec = constants.DefaultKeepAliveIntervalSec
	}
	if c.Fanout.WriteTimeoutSec <= 0 {
		c.Fanout.WriteTimeoutSec = constants.DefaultWriteTimeoutSec
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "chatstream"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 1.0
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	if port := os.Getenv("CHATSTREAM_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if path := os.Getenv("CHATSTREAM_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if level := os.Getenv("CHATSTREAM_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if endpoint := os.Getenv("CHATSTREAM_OTLP_ENDPOINT"); endpoint != "" {
		c.Tracing.OTLPEndpoint = endpoint
		c.Tracing.Enabled = true
	}
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Server.Port > 65535 {
		return apperrors.NewConfigError("server.port", fmt.Sprintf("invalid server port: %d", c.Server.Port))
	}
	if c.Tracing.SampleRate > 1.0 {
		return apperrors.NewConfigError("tracing.sample_rate", fmt.Sprintf("tracing sample rate must be in (0, 1], got %v", c.Tracing.SampleRate))
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return apperrors.NewConfigError("log_level", fmt.Sprintf("invalid log level: %s", c.LogLevel))
	}
	return nil
}
