// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for the SQLite databases (always absolute)
	Port      int
	LogLevel  string
	DevMode   bool
	UserAgent string // Sent on every upstream request; ESI requires an identifying User-Agent

	// Upstream (ESI) settings
	ESIBaseURL     string
	ESITimeoutSecs int
	ESIMaxRetries  int

	// Background refresh settings
	RefreshBaseIntervalMinutes int
	RefreshItemDelayMs         int

	// Backup settings (optional - backups disabled when bucket is empty)
	Backup BackupConfig
}

// BackupConfig holds S3-compatible backup configuration
type BackupConfig struct {
	Bucket          string
	Endpoint        string // Custom endpoint for S3-compatible stores (empty = AWS)
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether backups are configured
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("MARKET_DATA_DIR", "./data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:                    absDataDir,
		Port:                       getEnvAsInt("PORT", 8080),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		DevMode:                    getEnvAsBool("DEV_MODE", false),
		UserAgent:                  getEnv("ESI_USER_AGENT", "eve-trading-assistant/1.0"),
		ESIBaseURL:                 getEnv("ESI_BASE_URL", "https://esi.evetech.net/latest"),
		ESITimeoutSecs:             getEnvAsInt("ESI_TIMEOUT_SECONDS", 15),
		ESIMaxRetries:              getEnvAsInt("ESI_MAX_RETRIES", 3),
		RefreshBaseIntervalMinutes: getEnvAsInt("REFRESH_INTERVAL_MINUTES", 5),
		RefreshItemDelayMs:         getEnvAsInt("REFRESH_ITEM_DELAY_MS", 200),
		Backup: BackupConfig{
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:          getEnv("BACKUP_S3_REGION", "auto"),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.ESIBaseURL == "" {
		return fmt.Errorf("ESI base URL is required")
	}
	if c.ESIMaxRetries < 0 {
		return fmt.Errorf("ESI max retries must be >= 0")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
