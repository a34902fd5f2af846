// config.go - Environment configuration for the invoicing daemon.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the daemon needs to start.
type Config struct {
	// Server settings
	ListenAddr     string
	RequestTimeout time.Duration

	// Ledger settings
	LedgerPath   string
	KeyDir       string
	Backend      string // "mimc" or "agevault"
	VerifyAmount bool

	// Rate limiting, per party
	RateLimitBurst  int
	RateLimitRefill time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadConfig reads .env if present, then the environment. Every setting has a
// default; validation catches the nonsensical ones.
func LoadConfig() (*Config, error) {
	// Missing .env is fine; the environment still applies.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:      getEnv("INVOICED_LISTEN_ADDR", ":8080"),
		RequestTimeout:  getEnvDuration("INVOICED_REQUEST_TIMEOUT", 30*time.Second),
		LedgerPath:      getEnv("INVOICED_LEDGER_PATH", "ledger.json"),
		KeyDir:          getEnv("INVOICED_KEY_DIR", "keys"),
		Backend:         getEnv("INVOICED_BACKEND", "mimc"),
		VerifyAmount:    getEnvBool("INVOICED_VERIFY_AMOUNT", true),
		RateLimitBurst:  getEnvInt("INVOICED_RATE_BURST", 20),
		RateLimitRefill: getEnvDuration("INVOICED_RATE_REFILL", time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "console"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("INVOICED_LISTEN_ADDR must not be empty")
	}
	if c.Backend != "mimc" && c.Backend != "agevault" {
		return fmt.Errorf("INVOICED_BACKEND must be mimc or agevault, got %q", c.Backend)
	}
	if c.LedgerPath == "" {
		return fmt.Errorf("INVOICED_LEDGER_PATH must not be empty")
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("INVOICED_RATE_BURST must be positive")
	}
	if c.RateLimitRefill <= 0 {
		return fmt.Errorf("INVOICED_RATE_REFILL must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("INVOICED_REQUEST_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
