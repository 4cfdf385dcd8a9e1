// ABOUTME: Configuration loading and parsing for relay-gateway
// ABOUTME: YAML files with ${VAR} expansion, .env loading, RELAY_* overrides, and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Database drivers
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// Cache drivers
const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
)

// Config represents the complete relay-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Auth      AuthConfig      `yaml:"auth"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Messages  MessagesConfig  `yaml:"messages"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" env:"RELAY_HTTP_ADDR"`
}

// DatabaseConfig selects and configures the message store
type DatabaseConfig struct {
	Driver        string `yaml:"driver" env:"RELAY_DB_DRIVER"`
	Path          string `yaml:"path" env:"RELAY_DB_PATH"`
	MongoURI      string `yaml:"mongo_uri" env:"RELAY_MONGO_URI"`
	MongoDatabase string `yaml:"mongo_database" env:"RELAY_MONGO_DATABASE"`
}

// CacheConfig selects the cache backend and its entry lifetimes
type CacheConfig struct {
	Driver     string `yaml:"driver" env:"RELAY_CACHE_DRIVER"`
	RedisURL   string `yaml:"redis_url" env:"RELAY_REDIS_URL"`
	MaxEntries int    `yaml:"max_entries" env:"RELAY_CACHE_MAX_ENTRIES"`

	UserListTTL     time.Duration `yaml:"-"`
	ConversationTTL time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	UserListTTLRaw     string `yaml:"user_list_ttl" env:"RELAY_USER_LIST_TTL"`
	ConversationTTLRaw string `yaml:"conversation_ttl" env:"RELAY_CONVERSATION_TTL"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret" env:"RELAY_JWT_SECRET"`
	CookieSecure bool   `yaml:"cookie_secure" env:"RELAY_COOKIE_SECURE"`

	TokenTTL    time.Duration `yaml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" env:"RELAY_TOKEN_TTL"`
}

// RealtimeConfig holds websocket settings
type RealtimeConfig struct {
	// RequireToken rejects sockets that carry no valid access token.
	RequireToken   bool     `yaml:"require_token" env:"RELAY_REQUIRE_TOKEN"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"RELAY_ALLOWED_ORIGINS" envSeparator:","`
	SendBuffer     int      `yaml:"send_buffer"`

	PingInterval    time.Duration `yaml:"-"`
	PingIntervalRaw string        `yaml:"ping_interval"`
}

// MessagesConfig holds message policy limits
type MessagesConfig struct {
	MaxTextLength int   `yaml:"max_text_length"`
	MaxImageBytes int64 `yaml:"max_image_bytes"`

	DeleteWindow    time.Duration `yaml:"-"`
	DeleteWindowRaw string        `yaml:"delete_window"`
}

// UploadsConfig controls where uploaded images are written and served from
type UploadsConfig struct {
	Dir     string `yaml:"dir" env:"RELAY_UPLOADS_DIR"`
	BaseURL string `yaml:"base_url" env:"RELAY_UPLOADS_BASE_URL"`
}

// RateLimitConfig is the per-client token bucket on /api/. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" env:"RELAY_LOG_LEVEL"`
	Format string `yaml:"format" env:"RELAY_LOG_FORMAT"`
}

// Default returns a Config with every optional field filled in.
// Load unmarshals on top of it, so absent YAML keys keep these values.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: "localhost:8080"},
		Database: DatabaseConfig{Driver: DriverSQLite, MongoDatabase: "relay"},
		Cache: CacheConfig{
			Driver:             CacheMemory,
			MaxEntries:         10_000,
			UserListTTLRaw:     "300s",
			ConversationTTLRaw: "120s",
		},
		Auth: AuthConfig{TokenTTLRaw: "8h"},
		Realtime: RealtimeConfig{
			SendBuffer:      128,
			PingIntervalRaw: "30s",
		},
		Messages: MessagesConfig{
			MaxTextLength:   8000,
			MaxImageBytes:   5 << 20,
			DeleteWindowRaw: "1h",
		},
		Uploads:   UploadsConfig{Dir: "uploads", BaseURL: "/uploads"},
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file beside the config (or in the working directory) is loaded first
// without overriding variables already set. Environment variables in the format
// ${VAR_NAME} are expanded, then RELAY_* variables override file values.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(filepath.Dir(path)); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads dir/.env, falling back to ./.env. Missing files are not an
// error and variables already present in the environment win.
func LoadDotEnv(dir string) error {
	for _, candidate := range []string{filepath.Join(dir, ".env"), ".env"} {
		err := godotenv.Load(candidate)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", candidate, err)
		}
	}
	return nil
}

// envVarPattern matches ${VAR_NAME}
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverMongo:
		if c.Database.MongoURI == "" {
			return fmt.Errorf("database.mongo_uri is required for the mongo driver")
		}
		if c.Database.MongoDatabase == "" {
			return fmt.Errorf("database.mongo_database is required for the mongo driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver %q is not one of sqlite, mongo, memory", c.Database.Driver)
	}

	switch c.Cache.Driver {
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required for the redis driver")
		}
	case CacheMemory:
	default:
		return fmt.Errorf("cache.driver %q is not one of redis, memory", c.Cache.Driver)
	}

	if c.Cache.UserListTTL <= 0 || c.Cache.ConversationTTL <= 0 {
		return fmt.Errorf("cache ttls must be positive")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	if c.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive")
	}
	if c.Realtime.PingInterval <= 0 {
		return fmt.Errorf("realtime.ping_interval must be positive")
	}

	if c.Messages.MaxTextLength <= 0 {
		return fmt.Errorf("messages.max_text_length must be positive")
	}
	if c.Messages.MaxImageBytes <= 0 {
		return fmt.Errorf("messages.max_image_bytes must be positive")
	}
	if c.Messages.DeleteWindow <= 0 {
		return fmt.Errorf("messages.delete_window must be positive")
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit values must not be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		return fmt.Errorf("ratelimit.burst is required when requests_per_second is set")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"cache.user_list_ttl", cfg.Cache.UserListTTLRaw, &cfg.Cache.UserListTTL},
		{"cache.conversation_ttl", cfg.Cache.ConversationTTLRaw, &cfg.Cache.ConversationTTL},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"realtime.ping_interval", cfg.Realtime.PingIntervalRaw, &cfg.Realtime.PingInterval},
		{"messages.delete_window", cfg.Messages.DeleteWindowRaw, &cfg.Messages.DeleteWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
