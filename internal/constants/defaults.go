package constants

// Default server configuration values
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	ServerErrorChannelSize       = 1
)

// Default retry and backoff values
const (
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultMaxAttempts           = 5
	DefaultDatabaseRetryAttempts = 3
)

// Default fanout configuration values
const (
	DefaultSubscriberBufferSize = 64
	DefaultKeepAliveIntervalSec = 25
	DefaultWriteTimeoutSec      = 10
)

// Request limits
const (
	DefaultMaxWebhookBodyBytes = 1 << 20 // 1 MiB
	MaxExternalIDLength        = 256
	MaxMessageBodyLength       = 65536
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
	DefaultMessageIDLength = 8
)

// Encryption constants
const (
	EncryptionSalt       = "chatstream-db-salt-v1"
	EncryptionLookupSalt = "chatstream-lookup-salt-v1"
)
