package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	// APIURL is the base URL of the clip feed REST API.
	APIURL string `yaml:"api_url"`

	// PushURL is the realtime WebSocket endpoint.
	PushURL string `yaml:"push_url"`

	// Token is the viewer's bearer token. Empty means anonymous.
	Token string `yaml:"token"`

	// Port is the HTTP server port.
	Port int `yaml:"port"`

	// DatabaseURL is a Postgres connection string or a SQLite path.
	DatabaseURL string `yaml:"database_url"`

	PageSize     int           `yaml:"page_size"`
	TombstoneTTL time.Duration `yaml:"tombstone_ttl"`

	Toasts  Toasts  `yaml:"toasts"`
	Logging Logging `yaml:"logging"`
}

// Toasts configures the notification dispatcher.
type Toasts struct {
	Lifetime   time.Duration `yaml:"lifetime"`
	MaxVisible int           `yaml:"max_visible"`
}

// Logging configures the slog handler.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SQLitePath returns the database file when DatabaseURL names a SQLite
// database, either with a sqlite:// prefix or a .db suffix.
func (c *Config) SQLitePath() (string, bool) {
	if p, ok := strings.CutPrefix(c.DatabaseURL, "sqlite://"); ok {
		return p, true
	}
	if strings.HasSuffix(c.DatabaseURL, ".db") {
		return c.DatabaseURL, true
	}
	return "", false
}

func defaults() *Config {
	return &Config{
		APIURL:       "http://localhost:8080/api",
		PushURL:      "ws://localhost:8080/socket",
		Port:         3000,
		DatabaseURL:  "sqlite://clipfeed.db",
		PageSize:     10,
		TombstoneTTL: 10 * time.Minute,
		Toasts: Toasts{
			Lifetime:   5 * time.Second,
			MaxVisible: 3,
		},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a .env file if present, then the YAML file
// named by CLIPFEED_CONFIG, then environment variables. Later sources win.
func Load() (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CLIPFEED_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	setString(&c.APIURL, "CLIPFEED_API_URL")
	setString(&c.PushURL, "CLIPFEED_PUSH_URL")
	setString(&c.Token, "CLIPFEED_TOKEN")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")

	if err := setInt(&c.Port, "PORT"); err != nil {
		return err
	}
	if err := setInt(&c.PageSize, "CLIPFEED_PAGE_SIZE"); err != nil {
		return err
	}
	if err := setInt(&c.Toasts.MaxVisible, "CLIPFEED_TOAST_MAX_VISIBLE"); err != nil {
		return err
	}
	if err := setDuration(&c.Toasts.Lifetime, "CLIPFEED_TOAST_LIFETIME"); err != nil {
		return err
	}
	return setDuration(&c.TombstoneTTL, "CLIPFEED_TOMBSTONE_TTL")
}

func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("CLIPFEED_API_URL is required")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("invalid page size %d", c.PageSize)
	}
	if c.Toasts.MaxVisible <= 0 {
		return fmt.Errorf("invalid toast max visible %d", c.Toasts.MaxVisible)
	}
	if c.Toasts.Lifetime <= 0 {
		return fmt.Errorf("invalid toast lifetime %s", c.Toasts.Lifetime)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

// NewLogger builds the process logger from the logging settings.
func NewLogger(cfg Logging, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
