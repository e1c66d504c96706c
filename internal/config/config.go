package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	ServerPort   int
	DatabasePath string
	Env          string // "production" enables secure cookies and JSON logs
	LogLevel     string
	TokenSecret  string // HMAC key for the token envelope; generated when empty
	CORSOrigins  []string

	// Public lead submission limits, per client IP.
	PublicRatePerSec float64
	PublicRateBurst  int

	DigestCron string // cron spec for the unowned-leads digest

	// Optional identity provisioned at startup when it does not exist yet.
	BootstrapUsername string
	BootstrapPassword string
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load loads configuration from environment variables or sets defaults.
// A .env file in the working directory is applied first, if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil {
		return nil, err
	}
	ratePerSec, err := strconv.ParseFloat(getEnv("PUBLIC_RATE_PER_SEC", "1"), 64)
	if err != nil {
		return nil, err
	}
	rateBurst, err := strconv.Atoi(getEnv("PUBLIC_RATE_BURST", "5"))
	if err != nil {
		return nil, err
	}

	return &Config{
		ServerPort:        port,
		DatabasePath:      getEnv("DATABASE_PATH", "./leadboard.db"),
		Env:               getEnv("APP_ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		TokenSecret:       getEnv("TOKEN_SECRET", ""),
		CORSOrigins:       splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		PublicRatePerSec:  ratePerSec,
		PublicRateBurst:   rateBurst,
		DigestCron:        getEnv("DIGEST_CRON", "0 * * * *"),
		BootstrapUsername: getEnv("BOOTSTRAP_USERNAME", ""),
		BootstrapPassword: getEnv("BOOTSTRAP_PASSWORD", ""),
	}, nil
}

// Helper to get an environment variable with a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
