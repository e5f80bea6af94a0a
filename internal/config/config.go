// Package config provides configuration management for the ModuForge host
// process.
//
// Configuration is loaded from:
// 1. forge.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, LOG_LEVEL)
// 3. Default values
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Runtime     RuntimeConfig     `mapstructure:"runtime"`
	History     HistoryConfig     `mapstructure:"history"`
	Schema      SchemaConfig      `mapstructure:"schema"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Worker      WorkerConfig      `mapstructure:"worker"`
}

// RuntimeConfig contains dispatch loop tunables.
type RuntimeConfig struct {
	QueueSize                int           `mapstructure:"queue_size"`
	MiddlewareTimeout        time.Duration `mapstructure:"middleware_timeout"`
	MaxMiddlewareDepth       int           `mapstructure:"max_middleware_depth"`
	ApplyTimeout             time.Duration `mapstructure:"apply_timeout"`
	MaxAppendsPerTransaction int           `mapstructure:"max_appends_per_transaction"`
}

// HistoryConfig contains undo/redo settings.
type HistoryConfig struct {
	Limit int `mapstructure:"limit"`
}

// SchemaConfig points at the document schema the host serves.
type SchemaConfig struct {
	// Path to a schema YAML document; empty selects the built-in demo
	// schema.
	Path string `mapstructure:"path"`
}

// PersistenceConfig selects the event-store bridge's commit mode.
type PersistenceConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Mode is one of memory, async, sync.
	Mode         string        `mapstructure:"mode"`
	GroupWindow  time.Duration `mapstructure:"group_window"`
	RiverWorkers int           `mapstructure:"river_workers"`
	AutoMigrate  bool          `mapstructure:"auto_migrate"`
}

// DatabaseConfig contains PostgreSQL connection settings for the durable
// persistence modes.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// DSN returns the PostgreSQL connection string. DATABASE_URL wins over the
// individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// ServerConfig contains the admin HTTP surface's settings.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// JWTSecret gates the mutating admin endpoints; empty disables auth
	// (development only).
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// WorkerConfig contains worker pool sizing.
type WorkerConfig struct {
	DispatchPoolSize int `mapstructure:"dispatch_pool_size"`
	BridgePoolSize   int `mapstructure:"bridge_pool_size"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("forge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/moduforge")

	// No prefix: standard names like DATABASE_URL, LOG_LEVEL.
	// Nested keys map as runtime.queue_size -> RUNTIME_QUEUE_SIZE.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	switch c.Persistence.Mode {
	case "memory", "async", "sync":
	default:
		return fmt.Errorf("persistence.mode must be one of memory, async, sync; got %q", c.Persistence.Mode)
	}
	if c.Persistence.Enabled && c.Persistence.Mode != "memory" && c.Database.URL == "" && c.Database.Host == "" {
		return fmt.Errorf("durable persistence requires database settings")
	}
	if c.Runtime.QueueSize < 0 {
		return fmt.Errorf("runtime.queue_size must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Runtime
	v.SetDefault("runtime.queue_size", 1000)
	v.SetDefault("runtime.middleware_timeout", "1s")
	v.SetDefault("runtime.max_middleware_depth", 4)
	v.SetDefault("runtime.apply_timeout", "5s")
	v.SetDefault("runtime.max_appends_per_transaction", 16)

	// History
	v.SetDefault("history.limit", 100)

	// Persistence
	v.SetDefault("persistence.enabled", false)
	v.SetDefault("persistence.mode", "memory")
	v.SetDefault("persistence.group_window", "50ms")
	v.SetDefault("persistence.river_workers", 4)
	v.SetDefault("persistence.auto_migrate", false)

	// Database
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "moduforge")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "moduforge")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")

	// Server
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Worker
	v.SetDefault("worker.dispatch_pool_size", 100)
	v.SetDefault("worker.bridge_pool_size", 50)
}
