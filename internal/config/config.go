package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Gateway     GatewayConfig
	Relay       RelayConfig
	Store       StoreConfig
	Uploads     UploadsConfig
	Log         LogConfig
}

type ServerConfig struct {
	Addr            string        `env:"SERVER_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type DatabaseConfig struct {
	Driver          string        `env:"DB_DRIVER" envDefault:"postgres"`
	DSN             string        `env:"DB_DSN"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type JWTConfig struct {
	Secret string        `env:"JWT_SECRET"`
	TTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`
	Issuer string        `env:"JWT_ISSUER" envDefault:"go-chat-relay"`
}

type GatewayConfig struct {
	VerifyJoin       bool          `env:"GATEWAY_VERIFY_JOIN" envDefault:"true"`
	HandshakeTimeout time.Duration `env:"GATEWAY_HANDSHAKE_TIMEOUT" envDefault:"5s"`
	SendBuffer       int           `env:"GATEWAY_SEND_BUFFER" envDefault:"256"`
	AllowedOrigins   []string      `env:"GATEWAY_ALLOWED_ORIGINS" envSeparator:","`
}

type RelayConfig struct {
	PublishTimeout time.Duration `env:"RELAY_PUBLISH_TIMEOUT" envDefault:"3s"`
	MinBackoff     time.Duration `env:"RELAY_MIN_BACKOFF" envDefault:"500ms"`
	MaxBackoff     time.Duration `env:"RELAY_MAX_BACKOFF" envDefault:"30s"`
}

type StoreConfig struct {
	Timeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
}

// UploadsConfig splits where files are served locally (Route, a path) from
// the URL handed to clients (PublicURL, which may point at a CDN).
type UploadsConfig struct {
	Dir       string `env:"UPLOADS_DIR" envDefault:"./public/uploads"`
	Route     string `env:"UPLOADS_ROUTE" envDefault:"/uploads"`
	PublicURL string `env:"UPLOADS_PUBLIC_URL"`
}

// PublicBase is PublicURL, or Route when no public URL is configured.
func (u UploadsConfig) PublicBase() string {
	if u.PublicURL != "" {
		return u.PublicURL
	}
	return u.Route
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFrom parses an explicit environment; used by tests.
func loadFrom(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("DB_DSN must be set for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver)
	}
	if c.Gateway.SendBuffer <= 0 {
		return fmt.Errorf("GATEWAY_SEND_BUFFER must be positive")
	}
	if !strings.HasPrefix(c.Uploads.Route, "/") || strings.Contains(c.Uploads.Route, "://") {
		return fmt.Errorf("UPLOADS_ROUTE must be a path such as /uploads")
	}
	if c.Relay.MinBackoff <= 0 || c.Relay.MaxBackoff < c.Relay.MinBackoff {
		return fmt.Errorf("relay backoff bounds are invalid")
	}
	return nil
}
