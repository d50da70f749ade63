// Package config holds the server configuration: defaults, file and
// environment layering, and validation.
package config

import (
	"fmt"
	"time"

	"huddle/internal/logging"
)

// Config is the complete server configuration.
type Config struct {
	Database   DatabaseConfig   `koanf:"database"`
	HTTP       HTTPConfig       `koanf:"http"`
	WebSocket  WebSocketConfig  `koanf:"websocket"`
	Auth       AuthConfig       `koanf:"auth"`
	Delivery   DeliveryConfig   `koanf:"delivery"`
	Unread     UnreadConfig     `koanf:"unread"`
	Bus        BusConfig        `koanf:"bus"`
	Files      FilesConfig      `koanf:"files"`
	Logging    logging.Config   `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// DatabaseConfig configures the SQLite message store.
type DatabaseConfig struct {
	Path           string        `koanf:"path"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxConnections int           `koanf:"max_connections"`
}

// HTTPConfig configures the listener and the REST surface.
type HTTPConfig struct {
	Host               string        `koanf:"host"`
	Port               int           `koanf:"port"`
	ReadTimeout        time.Duration `koanf:"read_timeout"`
	WriteTimeout       time.Duration `koanf:"write_timeout"`
	ShutdownTimeout    time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins        []string      `koanf:"cors_origins"`
	RateLimitPerMinute int           `koanf:"rate_limit_per_minute"`
}

// WebSocketConfig configures connection heartbeat and buffering.
// ReadTimeout is how long a connection may stay silent (no frame, no pong)
// before it is considered half-open.
type WebSocketConfig struct {
	PingInterval    time.Duration `koanf:"ping_interval"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	BufferSize      int           `koanf:"buffer_size"`
	MaxMessageBytes int64         `koanf:"max_message_bytes"`
	SweepInterval   time.Duration `koanf:"sweep_interval"`
}

// AuthConfig configures handshake token verification.
type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	Issuer    string        `koanf:"issuer"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

// DeliveryConfig configures the router.
type DeliveryConfig struct {
	PersistTimeout      time.Duration `koanf:"persist_timeout"`
	HistoryDefaultLimit int           `koanf:"history_default_limit"`
	HistoryMaxLimit     int           `koanf:"history_max_limit"`
	RateLimitPerMinute  int           `koanf:"rate_limit_per_minute"`
	BreakerFailures     uint32        `koanf:"breaker_failures"`
	BreakerTimeout      time.Duration `koanf:"breaker_timeout"`
}

// UnreadConfig selects the unread marker store.
type UnreadConfig struct {
	Driver string `koanf:"driver"` // memory or badger
	Path   string `koanf:"path"`
}

// BusConfig selects the fan-out bus.
type BusConfig struct {
	Driver       string `koanf:"driver"` // local or nats
	URL          string `koanf:"url"`
	Subject      string `koanf:"subject"`
	Embedded     bool   `koanf:"embedded"`
	EmbeddedHost string `koanf:"embedded_host"`
	EmbeddedPort int    `koanf:"embedded_port"`
}

// FilesConfig configures group file uploads.
type FilesConfig struct {
	Dir            string `koanf:"dir"`
	MaxUploadBytes int64  `koanf:"max_upload_bytes"`
	PublicPrefix   string `koanf:"public_prefix"`
}

// SupervisorConfig tunes the service supervisor.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// DevJWTSecret is the default signing secret. Startup warns when it is in use.
const DevJWTSecret = "huddle-development-secret-change-me"

// DefaultConfig returns a configuration that runs a single node out of the box.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:           "./huddle.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: HTTPConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       30 * time.Second,
			ShutdownTimeout:    30 * time.Second,
			CORSOrigins:        []string{"*"},
			RateLimitPerMinute: 600,
		},
		WebSocket: WebSocketConfig{
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			BufferSize:      100,
			MaxMessageBytes: 128 * 1024,
			SweepInterval:   15 * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret: DevJWTSecret,
			Issuer:    "huddle",
			TokenTTL:  24 * time.Hour,
		},
		Delivery: DeliveryConfig{
			PersistTimeout:      5 * time.Second,
			HistoryDefaultLimit: 50,
			HistoryMaxLimit:     200,
			RateLimitPerMinute:  100,
			BreakerFailures:     5,
			BreakerTimeout:      30 * time.Second,
		},
		Unread: UnreadConfig{
			Driver: "memory",
			Path:   "./data/unread",
		},
		Bus: BusConfig{
			Driver:       "local",
			URL:          "nats://127.0.0.1:4222",
			Subject:      "huddle.deliveries",
			EmbeddedHost: "127.0.0.1",
			EmbeddedPort: 4222,
		},
		Files: FilesConfig{
			Dir:            "./data/files",
			MaxUploadBytes: 10 << 20,
			PublicPrefix:   "/files",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.RateLimitPerMinute < 0 {
		return fmt.Errorf("HTTP rate limit cannot be negative")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}
	if c.WebSocket.SweepInterval <= 0 {
		return fmt.Errorf("WebSocket sweep interval must be positive")
	}

	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth JWT secret must be at least 16 characters")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token TTL must be positive")
	}

	if c.Delivery.PersistTimeout <= 0 {
		return fmt.Errorf("delivery persist timeout must be positive")
	}
	if c.Delivery.HistoryDefaultLimit <= 0 || c.Delivery.HistoryMaxLimit < c.Delivery.HistoryDefaultLimit {
		return fmt.Errorf("delivery history limits must satisfy 0 < default <= max")
	}
	if c.Delivery.RateLimitPerMinute <= 0 {
		return fmt.Errorf("delivery rate limit must be positive")
	}
	if c.Delivery.BreakerFailures == 0 {
		return fmt.Errorf("delivery breaker failures must be positive")
	}

	switch c.Unread.Driver {
	case "memory":
	case "badger":
		if c.Unread.Path == "" {
			return fmt.Errorf("unread path is required for the badger driver")
		}
	default:
		return fmt.Errorf("unknown unread driver %q", c.Unread.Driver)
	}

	switch c.Bus.Driver {
	case "local":
	case "nats":
		if c.Bus.Subject == "" {
			return fmt.Errorf("bus subject is required for the nats driver")
		}
		if !c.Bus.Embedded && c.Bus.URL == "" {
			return fmt.Errorf("bus url is required unless the embedded server is enabled")
		}
	default:
		return fmt.Errorf("unknown bus driver %q", c.Bus.Driver)
	}

	if c.Files.Dir == "" {
		return fmt.Errorf("files dir cannot be empty")
	}
	if c.Files.MaxUploadBytes <= 0 {
		return fmt.Errorf("files max upload size must be positive")
	}

	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
