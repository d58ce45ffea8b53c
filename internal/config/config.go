package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	ErrMissingAPIBaseURL  = errors.New("CHAT_API_BASE_URL is required")
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required")
	ErrMissingMasterKey   = errors.New("at least one master key is required")
	ErrInvalidClientID    = errors.New("CLIENT_ID must not be empty")
)

type Config struct {
	ClientID string

	API     APIConfig
	HTTP    HTTPConfig
	Redis   RedisConfig
	DB      DBConfig
	Rate    RateConfig
	Crypto  CryptoConfig
	Log     LogConfig
	Session SessionConfig
}

type APIConfig struct {
	BaseURL     string
	Path        string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

type HTTPConfig struct {
	ListenAddr      string
	HealthPath      string
	MetricsPath     string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	PendingTTL time.Duration
}

type DBConfig struct {
	Driver        string
	DSN           string
	AutoMigrate   bool
	MigrationsDir string
}

type RateConfig struct {
	Limit  int64
	Window time.Duration
}

type CryptoConfig struct {
	CurrentKeyID string
	Keys         map[string][]byte
}

type LogConfig struct {
	Level string
}

// SessionConfig seeds the daemon's signed-in user; both are optional.
type SessionConfig struct {
	UserID      string
	AccessToken string
	ProviderID  string
}

// Load reads a .env file when present, then the process environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ClientID: mustEnv("CLIENT_ID", hostnameOr("chatd")),
		API: APIConfig{
			BaseURL:     mustEnv("CHAT_API_BASE_URL", ""),
			Path:        mustEnv("CHAT_API_PATH", "/chat"),
			Timeout:     mustDuration("CHAT_API_TIMEOUT", 60*time.Second),
			MaxRetries:  mustInt("CHAT_API_MAX_RETRIES", 1),
			BackoffBase: mustDuration("CHAT_API_BACKOFF_BASE", 400*time.Millisecond),
		},
		HTTP: HTTPConfig{
			ListenAddr:      mustEnv("HTTP_LISTEN_ADDR", ":8080"),
			HealthPath:      mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath:     mustEnv("METRICS_PATH", "/metrics"),
			ReadTimeout:     mustDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			ShutdownTimeout: mustDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:       mustEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:   mustEnv("REDIS_PASSWORD", ""),
			DB:         mustInt("REDIS_DB", 0),
			PendingTTL: mustDuration("PENDING_ACTION_TTL", 30*time.Minute),
		},
		DB: DBConfig{
			Driver:        strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:           mustEnv("DB_DSN", "chatflow.db"),
			AutoMigrate:   mustBool("AUTO_MIGRATE", true),
			MigrationsDir: mustEnv("MIGRATIONS_DIR", "migrations"),
		},
		Rate: RateConfig{
			Limit:  int64(mustInt("SEND_RATE_LIMIT", 60)),
			Window: mustDuration("SEND_RATE_WINDOW", time.Hour),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
		Session: SessionConfig{
			UserID:      mustEnv("SESSION_USER_ID", ""),
			AccessToken: mustEnv("SESSION_ACCESS_TOKEN", ""),
			ProviderID:  mustEnv("DEFAULT_PROVIDER_ID", ""),
		},
	}

	if cfg.API.BaseURL == "" {
		return nil, ErrMissingAPIBaseURL
	}
	if cfg.DB.DSN == "" {
		return nil, ErrMissingDatabaseDSN
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, ErrInvalidClientID
	}
	switch cfg.DB.Driver {
	case "postgres", "pgx", "sqlite", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DB.Driver)
	}

	cc, err := loadCryptoConfig()
	if err != nil {
		return nil, err
	}
	cfg.Crypto = cc

	return cfg, nil
}

func loadCryptoConfig() (CryptoConfig, error) {
	keysB64 := map[string]string{}

	if raw := mustEnv("MASTER_KEYS_JSON", ""); raw != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return CryptoConfig{}, fmt.Errorf("parse MASTER_KEYS_JSON: %w", err)
		}
		for id, val := range parsed {
			if strings.TrimSpace(id) == "" || strings.TrimSpace(val) == "" {
				continue
			}
			keysB64[id] = val
		}
	}

	for _, e := range os.Environ() {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) != 2 {
			continue
		}
		k, v := parts[0], parts[1]
		if !strings.HasPrefix(k, "MASTER_KEY_") || !strings.HasSuffix(k, "_B64") {
			continue
		}
		if k == "MASTER_KEY_B64" {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, "MASTER_KEY_"), "_B64")
		if id == "" || v == "" {
			continue
		}
		keysB64[id] = v
	}

	current := mustEnv("MASTER_KEY_CURRENT_ID", "")
	if singleton := mustEnv("MASTER_KEY_B64", ""); singleton != "" {
		if current == "" {
			current = "default"
		}
		keysB64[current] = singleton
	}

	if len(keysB64) == 0 {
		return CryptoConfig{}, ErrMissingMasterKey
	}

	keys := make(map[string][]byte, len(keysB64))
	for id, b64 := range keysB64 {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return CryptoConfig{}, fmt.Errorf("decode master key %q: %w", id, err)
		}
		if len(raw) != 32 {
			return CryptoConfig{}, fmt.Errorf("master key %q must be 32 bytes after base64 decode", id)
		}
		keys[id] = raw
	}

	// without an explicit id the lexically last key is current, so a newly
	// added key like "2026-02" takes over from "2025-11"
	if current == "" {
		ids := slices.Sorted(maps.Keys(keys))
		current = ids[len(ids)-1]
	}
	if _, ok := keys[current]; !ok {
		return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID=%q does not exist in provided keys", current)
	}

	return CryptoConfig{
		CurrentKeyID: current,
		Keys:         keys,
	}, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func hostnameOr(def string) string {
	h, err := os.Hostname()
	if err != nil || strings.TrimSpace(h) == "" {
		return def
	}
	return h
}
