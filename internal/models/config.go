package models

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Fanout   FanoutConfig   `json:"fanout"`
	Retry    RetryConfig    `json:"retry"`
	Tracing  TracingConfig  `json:"tracing"`
	LogLevel string         `json:"log_level"`
}

// ServerConfig holds HTTP server related configurations
type ServerConfig struct {
	Port                int   `json:"port"`
	ReadTimeoutSec      int   `json:"readTimeoutSec"`
	WriteTimeoutSec     int   `json:"writeTimeoutSec"`
	IdleTimeoutSec      int   `json:"idleTimeoutSec"`
	MaxWebhookBodyBytes int64 `json:"maxWebhookBodyBytes"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// FanoutConfig holds realtime broadcast related configurations
type FanoutConfig struct {
	SubscriberBufferSize int `json:"subscriberBufferSize"`
	KeepAliveIntervalSec int `json:"keepAliveIntervalSec"`
	WriteTimeoutSec      int `json:"writeTimeoutSec"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry related configurations
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}
