package config

import "time"

// Application constants
const (
	AppName    = "cardauth"
	AppVersion = "1.0.0"
	AppDirName = "cardauth"

	// EnvPrefix namespaces environment overrides, e.g. CARDAUTH_CARD_APP_KEY.
	EnvPrefix = "CARDAUTH"

	// Placeholder credentials shipped in sample configuration files.
	PlaceholderAppKey    = "your_app_key_here"
	PlaceholderAppSecret = "your_app_secret_here"

	// Card API
	DefaultBaseURL           = "https://api.paojiaoyun.com"
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultRequestTimeout    = 10 * time.Second
	DefaultMaxAttempts       = 3

	// Retry backoff bounds of the card client. Backoff after attempt n is
	// min(RetryBaseBackoff<<(n-1), RetryMaxBackoff).
	RetryBaseBackoff = time.Second
	RetryMaxBackoff  = 5 * time.Second

	// WriteTimeoutMargin is the headroom kept above the card retry envelope
	// so a slow login still gets its response written.
	WriteTimeoutMargin = 5 * time.Second

	// Storage file names inside the storage directory
	DefaultStateFile  = "cardauth.json"
	DefaultSQLiteFile = "cardauth.db"
	DefaultLogFile    = "cardauth.log"

	// Local control API
	DefaultServerAddr = "127.0.0.1:8765"
	APIBasePath       = "/api"
	HealthEndpoint    = "/api/health"
	MetricsEndpoint   = "/metrics"
	WebSocketEndpoint = "/ws"
)
