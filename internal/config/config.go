package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type AppConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	StoreDriver string `yaml:"store_driver"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
	RedisURL    string `yaml:"redis_url"`

	SessionTTL       time.Duration `yaml:"session_ttl"`
	SessionCacheSize int           `yaml:"session_cache_size"`
	SessionCacheTTL  time.Duration `yaml:"session_cache_ttl"`
	CookieSecure     bool          `yaml:"cookie_secure"`

	PresenceIdleTimeout          time.Duration `yaml:"presence_idle_timeout"`
	PresenceSweepInterval        time.Duration `yaml:"presence_sweep_interval"`
	PresenceBroadcastOnHeartbeat bool          `yaml:"presence_broadcast_on_heartbeat"`

	WSSendBuffer   int           `yaml:"ws_send_buffer"`
	WSPingInterval time.Duration `yaml:"ws_ping_interval"`

	AllowedOrigins []string `yaml:"allowed_origins"`
	MessagesDir    string   `yaml:"messages_dir"`
}

func defaults() *AppConfig {
	return &AppConfig{
		HTTPAddr:              ":8000",
		StoreDriver:           DriverSQLite,
		SQLitePath:            "data/chess_game.db",
		SessionTTL:            7 * 24 * time.Hour,
		SessionCacheSize:      4096,
		SessionCacheTTL:       15 * time.Minute,
		PresenceIdleTimeout:   2 * time.Minute,
		PresenceSweepInterval: 30 * time.Second,
		WSSendBuffer:          64,
		WSPingInterval:        30 * time.Second,
	}
}

// Load reads .env (best effort), an optional YAML file named by CHESS_CONFIG_FILE,
// then environment overrides.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CHESS_CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("HTTP_ADDR", &c.HTTPAddr)
	str("STORE_DRIVER", &c.StoreDriver)
	str("DATABASE_URL", &c.DatabaseURL)
	str("SQLITE_PATH", &c.SQLitePath)
	str("REDIS_URL", &c.RedisURL)
	str("MESSAGES_DIR", &c.MessagesDir)
	c.StoreDriver = strings.ToLower(c.StoreDriver)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SESSION_TTL", &c.SessionTTL},
		{"SESSION_CACHE_TTL", &c.SessionCacheTTL},
		{"PRESENCE_IDLE_TIMEOUT", &c.PresenceIdleTimeout},
		{"PRESENCE_SWEEP_INTERVAL", &c.PresenceSweepInterval},
		{"WS_PING_INTERVAL", &c.WSPingInterval},
	}
	for _, d := range durations {
		v := strings.TrimSpace(getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SESSION_CACHE_SIZE", &c.SessionCacheSize},
		{"WS_SEND_BUFFER", &c.WSSendBuffer},
	}
	for _, n := range ints {
		v := strings.TrimSpace(getenv(n.key))
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("%s must be a positive integer", n.key)
		}
		*n.dst = parsed
	}

	if v := strings.TrimSpace(getenv("PRESENCE_BROADCAST_ON_HEARTBEAT")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.PresenceBroadcastOnHeartbeat = b
		}
	}
	if v := strings.TrimSpace(getenv("COOKIE_SECURE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.CookieSecure = b
		}
	}
	if v := strings.TrimSpace(getenv("ALLOWED_ORIGINS")); v != "" {
		c.AllowedOrigins = c.AllowedOrigins[:0]
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, s)
			}
		}
	}
	return nil
}

// parseDuration accepts Go durations ("90s", "168h") or plain seconds.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, errors.New("must be positive")
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("HTTP_ADDR is required")
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("SQLITE_PATH is required for sqlite store")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required for postgres store")
		}
	case DriverRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return errors.New("REDIS_URL is required for redis store")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.SessionCacheSize <= 0 {
		return errors.New("SESSION_CACHE_SIZE must be positive")
	}
	if c.WSSendBuffer <= 0 {
		return errors.New("WS_SEND_BUFFER must be positive")
	}
	return nil
}
