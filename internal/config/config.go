package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	DatabaseDriver string
	DatabaseURL    string
	SQLitePath     string

	JWTSecret  string
	EncryptKey string

	CORSOrigins []string
	LogLevel    string
	LogJSON     bool

	DedupWindow time.Duration
	RingTimeout time.Duration
	SendBuffer  int

	PushGatewayURL       string
	PushAccessToken      string
	PushWorkers          int
	PushQueueSize        int
	PushRatePerSecond    int
	PushAlwaysCategories []string

	HTTPRateLimitPerMinute int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "realtime core")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_HOST", "0.0.0.0")
	v.SetDefault("HTTP_PORT", 8000)

	v.SetDefault("DATABASE_DRIVER", "postgres")
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_USER", "postgres")
	v.SetDefault("POSTGRES_PASSWORD", "postgres")
	v.SetDefault("POSTGRES_DB", "social")
	v.SetDefault("SQLITE_PATH", "file:realtime.db?_pragma=busy_timeout(5000)")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", false)

	v.SetDefault("DEDUP_WINDOW", "8s")
	v.SetDefault("RING_TIMEOUT", "45s")
	v.SetDefault("SEND_BUFFER", 64)

	v.SetDefault("PUSH_GATEWAY_URL", "https://exp.host/--/api/v2/push/send")
	v.SetDefault("PUSH_WORKERS", 4)
	v.SetDefault("PUSH_QUEUE_SIZE", 1024)
	v.SetDefault("PUSH_RATE_PER_SECOND", 50)
	v.SetDefault("PUSH_ALWAYS_CATEGORIES", "")

	v.SetDefault("HTTP_RATE_LIMIT_PER_MINUTE", 300)
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(v.GetString("POSTGRES_USER"), v.GetString("POSTGRES_PASSWORD")),
		Host:     fmt.Sprintf("%s:%s", v.GetString("POSTGRES_HOST"), v.GetString("POSTGRES_PORT")),
		Path:     v.GetString("POSTGRES_DB"),
		RawQuery: "sslmode=disable",
	}

	cfg := &Config{
		AppName: v.GetString("APP_NAME"),
		Env:     v.GetString("APP_ENV"),
		Host:    v.GetString("HTTP_HOST"),
		Port:    v.GetInt("HTTP_PORT"),

		DatabaseDriver: strings.ToLower(v.GetString("DATABASE_DRIVER")),
		DatabaseURL:    u.String(),
		SQLitePath:     v.GetString("SQLITE_PATH"),

		JWTSecret:  v.GetString("JWT_SECRET"),
		EncryptKey: v.GetString("ENCRYPTION_KEY"),

		CORSOrigins: splitList(v.GetString("CORS_ORIGINS")),
		LogLevel:    v.GetString("LOG_LEVEL"),
		LogJSON:     v.GetBool("LOG_JSON"),

		DedupWindow: v.GetDuration("DEDUP_WINDOW"),
		RingTimeout: v.GetDuration("RING_TIMEOUT"),
		SendBuffer:  v.GetInt("SEND_BUFFER"),

		PushGatewayURL:       v.GetString("PUSH_GATEWAY_URL"),
		PushAccessToken:      v.GetString("PUSH_ACCESS_TOKEN"),
		PushWorkers:          v.GetInt("PUSH_WORKERS"),
		PushQueueSize:        v.GetInt("PUSH_QUEUE_SIZE"),
		PushRatePerSecond:    v.GetInt("PUSH_RATE_PER_SECOND"),
		PushAlwaysCategories: splitList(v.GetString("PUSH_ALWAYS_CATEGORIES")),

		HTTPRateLimitPerMinute: v.GetInt("HTTP_RATE_LIMIT_PER_MINUTE"),
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:8081"}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.EncryptKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver)
	}
	if c.DedupWindow <= 0 {
		return fmt.Errorf("DEDUP_WINDOW must be positive")
	}
	if c.RingTimeout <= 0 {
		return fmt.Errorf("RING_TIMEOUT must be positive")
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.PushWorkers <= 0 {
		c.PushWorkers = 1
	}
	if c.PushQueueSize <= 0 {
		c.PushQueueSize = 1024
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
