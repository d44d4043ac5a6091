// Package server provides configuration loading that layers defaults, a .env
// file, environment variables and command-line flags.
package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// StoreConfig selects and addresses the key-value backend.
type StoreConfig struct {
	Backend       string
	RedisURL      string
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
	SQLitePath    string
}

// RedisAddr joins host and port.
func (s StoreConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", s.RedisHost, s.RedisPort)
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string
	Development bool
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	RateLimit       RateLimitConfig
	SendBufferSize  int
	Store           StoreConfig
	Log             LogConfig
	SanitizeText    bool
	HistoryLimit    int
	ShutdownTimeout time.Duration
}

// Configuration keys double as environment variable names.
const (
	keyPort            = "SERVER_PORT"
	keyAllowedOrigins  = "ALLOWED_ORIGINS"
	keyMaxMessageSize  = "MAX_MESSAGE_SIZE"
	keyRateBurst       = "RATE_LIMIT_BURST"
	keyRateRefill      = "RATE_LIMIT_REFILL_INTERVAL"
	keySendBuffer      = "SEND_BUFFER_SIZE"
	keyStoreBackend    = "STORE_BACKEND"
	keyRedisURL        = "REDIS_URL"
	keyRedisHost       = "REDIS_HOST"
	keyRedisPort       = "REDIS_PORT"
	keyRedisPassword   = "REDIS_PASSWORD"
	keyRedisDB         = "REDIS_DB"
	keySQLitePath      = "SQLITE_PATH"
	keyLogLevel        = "LOG_LEVEL"
	keyLogDevelopment  = "LOG_DEVELOPMENT"
	keySanitizeText    = "SANITIZE_TEXT"
	keyHistoryLimit    = "HISTORY_LIMIT"
	keyShutdownTimeout = "SHUTDOWN_TIMEOUT"
)

// DefaultConfig returns the built-in settings used when nothing overrides them.
func DefaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
			"http://localhost:5173",
		},
		MaxMessageSize: 1 << 20,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		SendBufferSize: 256,
		Store: StoreConfig{
			Backend:    "redis",
			RedisHost:  "localhost",
			RedisPort:  6379,
			SQLitePath: "zodiacchat.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		SanitizeText:    false,
		HistoryLimit:    50,
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadConfig resolves the configuration from, in increasing precedence,
// defaults, a .env file in the working directory, the environment and args.
// A missing .env file is not an error.
func LoadConfig(args []string) (Config, error) {
	_ = godotenv.Load()

	def := DefaultConfig()
	v := viper.New()
	v.SetDefault(keyPort, def.Port)
	v.SetDefault(keyAllowedOrigins, strings.Join(def.AllowedOrigins, ","))
	v.SetDefault(keyMaxMessageSize, def.MaxMessageSize)
	v.SetDefault(keyRateBurst, def.RateLimit.Burst)
	v.SetDefault(keyRateRefill, def.RateLimit.RefillInterval.String())
	v.SetDefault(keySendBuffer, def.SendBufferSize)
	v.SetDefault(keyStoreBackend, def.Store.Backend)
	v.SetDefault(keyRedisURL, "")
	v.SetDefault(keyRedisHost, def.Store.RedisHost)
	v.SetDefault(keyRedisPort, def.Store.RedisPort)
	v.SetDefault(keyRedisPassword, "")
	v.SetDefault(keyRedisDB, 0)
	v.SetDefault(keySQLitePath, def.Store.SQLitePath)
	v.SetDefault(keyLogLevel, def.Log.Level)
	v.SetDefault(keyLogDevelopment, def.Log.Development)
	v.SetDefault(keySanitizeText, def.SanitizeText)
	v.SetDefault(keyHistoryLimit, def.HistoryLimit)
	v.SetDefault(keyShutdownTimeout, def.ShutdownTimeout.String())
	v.AutomaticEnv()

	fs := pflag.NewFlagSet("zodiacchat", pflag.ContinueOnError)
	flags := map[string]string{
		"port":            keyPort,
		"allowed-origins": keyAllowedOrigins,
		"store":           keyStoreBackend,
		"redis-url":       keyRedisURL,
		"sqlite-path":     keySQLitePath,
		"log-level":       keyLogLevel,
	}
	fs.String("port", def.Port, "listen address, e.g. :8080")
	fs.String("allowed-origins", "", "comma-separated WebSocket origins, * allows any")
	fs.String("store", def.Store.Backend, "key-value backend: redis or sqlite")
	fs.String("redis-url", "", "redis connection URL, overrides host/port")
	fs.String("sqlite-path", def.Store.SQLitePath, "sqlite database file, :memory: for ephemeral")
	fs.String("log-level", def.Log.Level, "debug, info, warn or error")
	fs.Bool("dev", false, "human-readable development logging")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	for name, key := range flags {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return Config{}, err
		}
	}
	if err := v.BindPFlag(keyLogDevelopment, fs.Lookup("dev")); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:           v.GetString(keyPort),
		AllowedOrigins: parseOrigins(v.GetString(keyAllowedOrigins)),
		MaxMessageSize: v.GetInt64(keyMaxMessageSize),
		RateLimit: RateLimitConfig{
			Burst:          v.GetInt(keyRateBurst),
			RefillInterval: parseDuration(v.GetString(keyRateRefill), def.RateLimit.RefillInterval),
		},
		SendBufferSize: v.GetInt(keySendBuffer),
		Store: StoreConfig{
			Backend:       strings.ToLower(strings.TrimSpace(v.GetString(keyStoreBackend))),
			RedisURL:      v.GetString(keyRedisURL),
			RedisHost:     v.GetString(keyRedisHost),
			RedisPort:     v.GetInt(keyRedisPort),
			RedisPassword: v.GetString(keyRedisPassword),
			RedisDB:       v.GetInt(keyRedisDB),
			SQLitePath:    v.GetString(keySQLitePath),
		},
		Log: LogConfig{
			Level:       v.GetString(keyLogLevel),
			Development: v.GetBool(keyLogDevelopment),
		},
		SanitizeText:    v.GetBool(keySanitizeText),
		HistoryLimit:    v.GetInt(keyHistoryLimit),
		ShutdownTimeout: parseDuration(v.GetString(keyShutdownTimeout), def.ShutdownTimeout),
	}

	cfg = SanitizeConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SanitizeConfig replaces unset or out-of-range values with defaults.
func SanitizeConfig(cfg Config) Config {
	def := DefaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = def.Store.Backend
	}
	if cfg.Store.RedisHost == "" {
		cfg.Store.RedisHost = def.Store.RedisHost
	}
	if cfg.Store.RedisPort <= 0 {
		cfg.Store.RedisPort = def.Store.RedisPort
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = def.Store.SQLitePath
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.AllowedOrigins = origins

	return cfg
}

// Validate rejects settings that cannot be defaulted.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case "redis", "sqlite":
	default:
		return fmt.Errorf("config: %s must be redis or sqlite, got %q", keyStoreBackend, c.Store.Backend)
	}
	if len(c.AllowedOrigins) == 0 {
		return errors.New("config: " + keyAllowedOrigins + " is empty; no browser could connect")
	}
	return nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseDuration accepts either whole seconds ("5") or a Go duration ("250ms").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
