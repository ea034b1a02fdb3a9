package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"cardauth/internal/i18n"
)

// Config represents the complete application configuration
type Config struct {
	Card      CardConfig      `yaml:"card" envconfig:"CARD"`
	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Locale    string          `yaml:"locale" envconfig:"LOCALE" validate:"required"`
}

// CardConfig contains the card API credentials and client behaviour
type CardConfig struct {
	AppKey            string        `yaml:"app_key" envconfig:"APP_KEY"`
	AppSecret         string        `yaml:"app_secret" envconfig:"APP_SECRET"`
	BaseURL           string        `yaml:"base_url" envconfig:"BASE_URL" validate:"required,url"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL" validate:"min=1s"`
	RequestTimeout    time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" validate:"min=100ms"`
	MaxAttempts       int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS" validate:"min=1,max=10"`
	UserAgent         string        `yaml:"user_agent" envconfig:"USER_AGENT"`
}

// StorageConfig selects where session state is kept
type StorageConfig struct {
	Driver     string `yaml:"driver" envconfig:"DRIVER" validate:"oneof=file sqlite memory"`
	Dir        string `yaml:"dir" envconfig:"DIR"`
	FileName   string `yaml:"file_name" envconfig:"FILE_NAME" validate:"required"`
	SQLiteFile string `yaml:"sqlite_file" envconfig:"SQLITE_FILE" validate:"required"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"min=1s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"min=1s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	LoginRPS        float64       `yaml:"login_rps" envconfig:"LOGIN_RPS" validate:"gt=0"`
	LoginBurst      int           `yaml:"login_burst" envconfig:"LOGIN_BURST" validate:"min=1"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig toggles OpenTelemetry providers
type TelemetryConfig struct {
	EnableMetrics bool   `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	EnableTracing bool   `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	TraceExporter string `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=none stdout"`
	ServiceName   string `yaml:"service_name" envconfig:"SERVICE_NAME"`
}

// WebSocketConfig contains notification socket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// CredentialStatus is the result of checking the card credentials
type CredentialStatus struct {
	Valid bool
	// MessageID is an i18n message id describing the result.
	MessageID string
}

// Status checks the credentials the way the card service expects them:
// both must be present and not the placeholder values shipped in samples.
func (c CardConfig) Status() CredentialStatus {
	if strings.TrimSpace(c.AppKey) == "" || c.AppKey == PlaceholderAppKey {
		return CredentialStatus{Valid: false, MessageID: i18n.MsgMissingAppKey}
	}
	if strings.TrimSpace(c.AppSecret) == "" || c.AppSecret == PlaceholderAppSecret {
		return CredentialStatus{Valid: false, MessageID: i18n.MsgMissingAppSecret}
	}
	return CredentialStatus{Valid: true, MessageID: i18n.MsgConfigOK}
}

// Configured reports whether the credentials are usable.
func (c CardConfig) Configured() bool {
	return c.Status().Valid
}

// RetryEnvelope is the longest a single card API call can take: every
// attempt running into RequestTimeout plus the backoff between attempts.
func (c CardConfig) RetryEnvelope() time.Duration {
	attempts := max(c.MaxAttempts, 1)
	total := time.Duration(attempts) * c.RequestTimeout
	step := RetryBaseBackoff
	for n := 1; n < attempts; n++ {
		total += min(step, RetryMaxBackoff)
		if step < RetryMaxBackoff {
			step <<= 1
		}
	}
	return total
}

// HTTPWriteTimeout is the write timeout of the local control server. It is
// never shorter than the card retry envelope plus WriteTimeoutMargin, since
// login and logout handlers block on the card API.
func (c *Config) HTTPWriteTimeout() time.Duration {
	return max(c.Server.WriteTimeout, c.Card.RetryEnvelope()+WriteTimeoutMargin)
}

// Load builds the configuration from defaults, the YAML file at path (when
// path is non-empty or a default config file exists) and CARDAUTH_*
// environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile overlays the YAML file at filePath onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid yaml in %s: %w", filePath, err)
	}
	return nil
}

// findConfigFile returns the first config file in the usual locations
func findConfigFile() string {
	locations := []string{
		"cardauth.yaml",
		"configs/cardauth.yaml",
	}
	if dir, err := os.UserConfigDir(); err == nil {
		locations = append(locations, filepath.Join(dir, AppDirName, "config.yaml"))
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

var validate = validator.New()

// Validate checks field constraints. Missing credentials are not an error
// here; they leave the card API unconfigured.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Card: CardConfig{
			BaseURL:           DefaultBaseURL,
			HeartbeatInterval: DefaultHeartbeatInterval,
			RequestTimeout:    DefaultRequestTimeout,
			MaxAttempts:       DefaultMaxAttempts,
			UserAgent:         AppName + "/" + AppVersion,
		},
		Storage: StorageConfig{
			Driver:     "file",
			FileName:   DefaultStateFile,
			SQLiteFile: DefaultSQLiteFile,
		},
		Server: ServerConfig{
			Addr:            DefaultServerAddr,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 10 * time.Second,
			LoginRPS:        1,
			LoginBurst:      5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "console",
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: true,
			EnableTracing: false,
			TraceExporter: "none",
			ServiceName:   AppName,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
		Locale: "en",
	}
}
