package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Collaboration server
	ServerURL string
	AuthToken string

	// Client profile (guest identity lives here)
	ProfileDir  string
	ProfileName string

	// Network reachability probing
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration

	// Transport reconnect policy
	ReconnectMaxInterval time.Duration

	// Optional shared identity store
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Observability
	JaegerEndpoint string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		ServerURL: getEnv("COLLAB_SERVER_URL", "http://localhost:8080"),
		AuthToken: getEnv("COLLAB_AUTH_TOKEN", ""),

		ProfileDir:  getEnv("COLLAB_PROFILE_DIR", defaultProfileDir()),
		ProfileName: getEnv("COLLAB_PROFILE", "default"),

		ProbeInterval:        getEnvSeconds("COLLAB_PROBE_INTERVAL", 5),
		ProbeTimeout:         getEnvSeconds("COLLAB_PROBE_TIMEOUT", 2),
		ReconnectMaxInterval: getEnvSeconds("COLLAB_RECONNECT_MAX_INTERVAL", 30),

		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "doc_collab"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),
	}

	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid COLLAB_SERVER_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("COLLAB_SERVER_URL must be http or https, got %q", cfg.ServerURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("COLLAB_SERVER_URL has no host")
	}

	return cfg, nil
}

// UseDatabase reports whether a shared postgres identity store is configured
func (c *Config) UseDatabase() bool {
	return c.DBHost != ""
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// ProfilePath is the guest identity file for the configured profile
func (c *Config) ProfilePath() string {
	return filepath.Join(c.ProfileDir, c.ProfileName+".yaml")
}

func defaultProfileDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".doc-collab"
	}
	return filepath.Join(home, ".doc-collab")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	n := getEnvInt(key, defaultSeconds)
	if n <= 0 {
		n = defaultSeconds
	}
	return time.Duration(n) * time.Second
}
