package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv  string
	Database DatabaseConfig
	Server   ServerConfig
	Station  StationConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Silent   bool
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port      string
	PublicURL string // base for deep links printed into QR codes
}

// StationConfig holds configuration for a counting station (the device running a count)
type StationConfig struct {
	APIURL          string
	CacheDir        string
	QuickScan       bool
	LiveSensors     bool
	KegPollInterval time.Duration
	HealthInterval  time.Duration
	RequestTimeout  time.Duration
	ReplayAttempts  int
	ScanDedupWindow time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	kegPoll, err := getDuration("KEG_POLL_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	health, err := getDuration("HEALTH_INTERVAL", 10*time.Second)
	if err != nil {
		return nil, err
	}
	timeout, err := getDuration("REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	dedup, err := getDuration("SCAN_DEDUP_WINDOW", 2*time.Second)
	if err != nil {
		return nil, err
	}
	attempts, err := strconv.Atoi(getEnv("REPLAY_ATTEMPTS", "3"))
	if err != nil || attempts < 1 {
		return nil, fmt.Errorf("REPLAY_ATTEMPTS must be a positive integer")
	}

	port := getEnv("PORT", "3210")

	return &Config{
		NodeEnv: getEnv("NODE_ENV", "development"),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "tapcount"),
			Silent:   getEnv("DB_SILENT", "false") == "true",
		},
		Server: ServerConfig{
			Port:      port,
			PublicURL: getEnv("PUBLIC_URL", "http://localhost:"+port),
		},
		Station: StationConfig{
			APIURL:          getEnv("API_URL", "http://localhost:"+port),
			CacheDir:        getEnv("CACHE_DIR", "./station_data"),
			QuickScan:       getEnv("QUICK_SCAN", "false") == "true",
			LiveSensors:     getEnv("LIVE_SENSORS", "false") == "true",
			KegPollInterval: kegPoll,
			HealthInterval:  health,
			RequestTimeout:  timeout,
			ReplayAttempts:  attempts,
			ScanDedupWindow: dedup,
		},
	}, nil
}

// IsProduction reports whether NODE_ENV is production
func (c *Config) IsProduction() bool {
	return c.NodeEnv == "production"
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
