// Package config loads and validates the gateway configuration from a
// YAML file with environment overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/callgate/callgate/internal/db"
	"github.com/callgate/callgate/internal/logging"
)

// Duration unmarshals from either a Go duration string ("30s", "5m")
// or a bare number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if n, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database db.Settings    `yaml:"database"`
	Routes   RoutesConfig   `yaml:"routes"`
	Session  SessionConfig  `yaml:"session"`
	Locale   LocaleConfig   `yaml:"locale"`
	Logging  logging.Config `yaml:"logging"`
	Trace    TraceConfig    `yaml:"trace"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string          `yaml:"addr"`
	ReadTimeout     Duration        `yaml:"read_timeout"`
	WriteTimeout    Duration        `yaml:"write_timeout"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"`
	EnableGzip      bool            `yaml:"enable_gzip"`
	CORSOrigins     []string        `yaml:"cors_origins"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig throttles requests per client.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerSecond int  `yaml:"requests_per_second"`
	Burst             int  `yaml:"burst"`
}

// RoutesConfig controls route table loading and refresh behavior.
type RoutesConfig struct {
	// IndexProcedure is the stored procedure returning the route
	// definition document.
	IndexProcedure string `yaml:"index_procedure"`
	// RefreshEntry is the reserved path segment that forces a reload.
	RefreshEntry string `yaml:"refresh_entry"`
	// RefreshSchedule is an optional cron expression for periodic
	// background reloads. Empty disables scheduled refresh.
	RefreshSchedule string `yaml:"refresh_schedule"`
	// Static maps route keys to parameter lists directly, bypassing
	// the index procedure. Intended for tests and small deployments.
	Static map[string][]string `yaml:"static"`
}

// SessionConfig selects and tunes the web session backend.
type SessionConfig struct {
	// Backend is "memory" or "redis".
	Backend    string      `yaml:"backend"`
	CookieName string      `yaml:"cookie_name"`
	TTL        Duration    `yaml:"ttl"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig holds redis connection settings for the session backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LocaleConfig maps message bundles to their translation files.
type LocaleConfig struct {
	// Bundle is the bundle name procedures reference in error markers.
	Bundle string `yaml:"bundle"`
	// Files maps bundle names to YAML message files (language → key →
	// text inside each file).
	Files map[string]string `yaml:"files"`
}

// TraceConfig controls per-dispatch trace records.
type TraceConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads the configuration file, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when a field is absent from
// the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
			EnableGzip:      true,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 50,
				Burst:             100,
			},
		},
		Database: db.Settings{
			Driver:          "postgres",
			MaxOpenConns:    16,
			MaxIdleConns:    4,
			ConnMaxLifetime: 1800,
			AcquireTimeout:  30,
		},
		Routes: RoutesConfig{
			IndexProcedure: "web_entry_index",
			RefreshEntry:   "refreshRoutes",
		},
		Session: SessionConfig{
			Backend:    "memory",
			CookieName: "callgate_session",
			TTL:        Duration(30 * time.Minute),
		},
		Locale: LocaleConfig{
			Bundle: "messages",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// applyEnv overrides file values with environment variables where set.
func (c *Config) applyEnv() {
	if v := os.Getenv("CALLGATE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CALLGATE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("CALLGATE_REDIS_ADDR"); v != "" {
		c.Session.Backend = "redis"
		c.Session.Redis.Addr = v
	}
	if v := os.Getenv("CALLGATE_REDIS_PASSWORD"); v != "" {
		c.Session.Redis.Password = v
	}
	if v := os.Getenv("CALLGATE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server: addr is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database: dsn is required (set database.dsn or CALLGATE_DSN)")
	}
	if len(c.Routes.Static) == 0 && c.Routes.IndexProcedure == "" {
		return fmt.Errorf("routes: index_procedure is required unless static routes are given")
	}
	switch strings.ToLower(c.Session.Backend) {
	case "memory":
	case "redis":
		if c.Session.Redis.Addr == "" {
			return fmt.Errorf("session: redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("session: unknown backend %q", c.Session.Backend)
	}
	return nil
}
