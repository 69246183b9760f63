// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings shared by the binaries.
type Config struct {
	AppEnv   string
	HTTPPort string
	LogLevel string

	DatabaseURL string

	JWTSecret string
	TokenTTL  time.Duration

	KafkaBrokers []string
	OTLPEndpoint string
	GeoLookupURL string

	LowStockThreshold  int
	AllowNegativeStock bool

	// AdminEmail and AdminPassword create the first super admin on start
	// when no account has that email.
	AdminEmail    string
	AdminPassword string
}

// Development reports whether the service runs in development mode.
func (c Config) Development() bool {
	return c.AppEnv == "development"
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		AppEnv:            "development",
		HTTPPort:          "8080",
		LogLevel:          "info",
		TokenTTL:          12 * time.Hour,
		LowStockThreshold: 10,
	}
}

// Load reads an optional .env file, then the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables over the defaults.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	cfg.AppEnv = getEnv("APP_ENV", cfg.AppEnv)
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.OTLPEndpoint = os.Getenv("OTLP_ENDPOINT")
	cfg.GeoLookupURL = os.Getenv("GEO_LOOKUP_URL")
	cfg.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.AdminEmail = os.Getenv("BOOTSTRAP_ADMIN_EMAIL")
	cfg.AdminPassword = os.Getenv("BOOTSTRAP_ADMIN_PASSWORD")

	var err error
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		if cfg.TokenTTL, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("TOKEN_TTL: %w", err)
		}
	}
	if v := os.Getenv("LOW_STOCK_THRESHOLD"); v != "" {
		if cfg.LowStockThreshold, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("LOW_STOCK_THRESHOLD: %w", err)
		}
	}
	if v := os.Getenv("ALLOW_NEGATIVE_STOCK"); v != "" {
		if cfg.AllowNegativeStock, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("ALLOW_NEGATIVE_STOCK: %w", err)
		}
	}

	if cfg.JWTSecret == "" {
		if !cfg.Development() {
			return Config{}, errors.New("JWT_SECRET is required outside development")
		}
		cfg.JWTSecret = "dev-secret-change-me"
	}
	if cfg.AdminEmail != "" && cfg.AdminPassword == "" {
		return Config{}, errors.New("BOOTSTRAP_ADMIN_PASSWORD is required with BOOTSTRAP_ADMIN_EMAIL")
	}
	if cfg.TokenTTL <= 0 {
		return Config{}, errors.New("TOKEN_TTL must be positive")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
