package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a custody service node
type Config struct {
	// Node Identity
	NodeID string `yaml:"node_id"`

	// Server Configuration
	HTTPPort string `yaml:"http_port"`

	// Database Configuration
	DatabaseHost string `yaml:"db_host"`
	DatabasePort string `yaml:"db_port"`
	DatabaseUser string `yaml:"db_user"`
	DatabasePass string `yaml:"db_pass"`
	DatabaseName string `yaml:"db_name"`
	SeedDemo     bool   `yaml:"seed_demo"`

	// Chain Adapter Configuration
	ChainEndpoint string        `yaml:"chain_endpoint"` // e.g., "http://localhost:5000"
	ChainRetries  int           `yaml:"chain_retries"`
	ChainBackoff  time.Duration `yaml:"chain_backoff"`
	ChainTimeout  time.Duration `yaml:"chain_timeout"`

	// Custody Configuration
	RequestTTL    time.Duration `yaml:"request_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"` // 0 disables the sweeper

	// Audit Configuration
	SuspiciousThreshold int           `yaml:"suspicious_threshold"`
	SuspiciousWindow    time.Duration `yaml:"suspicious_window"`

	// Notification Configuration
	KafkaBrokers []string `yaml:"kafka_brokers"` // empty means log-only sink
	KafkaTopic   string   `yaml:"kafka_topic"`

	// Auth Configuration
	JWTSecret string `yaml:"jwt_secret"` // empty enables header-based dev identity

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// LoadConfig loads configuration from environment variables with defaults.
// When path is non-empty the YAML file is read first and environment
// variables override it.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		NodeID: "custody-node-a",

		HTTPPort: "6000",

		DatabaseHost: "localhost",
		DatabasePort: "5433",
		DatabaseUser: "postgres",
		DatabasePass: "postgrespassword",
		DatabaseName: "custody_db",

		ChainEndpoint: "http://localhost:5000",
		ChainRetries:  3,
		ChainBackoff:  2 * time.Second,
		ChainTimeout:  30 * time.Second,

		RequestTTL:    168 * time.Hour,
		SweepInterval: 0,

		SuspiciousThreshold: 5,
		SuspiciousWindow:    time.Hour,

		KafkaTopic: "custody-events",

		LogLevel:  "info",
		LogFormat: "text",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.NodeID = getEnv("NODE_ID", cfg.NodeID)
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)

	cfg.DatabaseHost = getEnv("DB_HOST", cfg.DatabaseHost)
	cfg.DatabasePort = getEnv("DB_PORT", cfg.DatabasePort)
	cfg.DatabaseUser = getEnv("DB_USER", cfg.DatabaseUser)
	cfg.DatabasePass = getEnv("DB_PASS", cfg.DatabasePass)
	cfg.DatabaseName = getEnv("DB_NAME", cfg.DatabaseName)
	cfg.SeedDemo = getEnvBool("SEED_DEMO", cfg.SeedDemo)

	cfg.ChainEndpoint = getEnv("CHAIN_ENDPOINT", cfg.ChainEndpoint)
	cfg.ChainRetries = getEnvInt("CHAIN_RETRIES", cfg.ChainRetries)
	cfg.ChainBackoff = getEnvDuration("CHAIN_BACKOFF", cfg.ChainBackoff)
	cfg.ChainTimeout = getEnvDuration("CHAIN_TIMEOUT", cfg.ChainTimeout)

	cfg.RequestTTL = getEnvDuration("REQUEST_TTL", cfg.RequestTTL)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", cfg.SweepInterval)

	cfg.SuspiciousThreshold = getEnvInt("SUSPICIOUS_THRESHOLD", cfg.SuspiciousThreshold)
	cfg.SuspiciousWindow = getEnvDuration("SUSPICIOUS_WINDOW", cfg.SuspiciousWindow)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.KafkaTopic)

	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	return cfg, nil
}

// GetDSN returns the PostgreSQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseUser,
		c.DatabasePass,
		c.DatabaseName,
	)
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("NODE_ID is required")
	}
	if c.ChainEndpoint == "" {
		return fmt.Errorf("CHAIN_ENDPOINT is required")
	}
	if c.ChainRetries < 1 {
		return fmt.Errorf("CHAIN_RETRIES must be at least 1")
	}
	if c.RequestTTL <= 0 {
		return fmt.Errorf("REQUEST_TTL must be positive")
	}
	if c.SuspiciousThreshold < 1 {
		return fmt.Errorf("SUSPICIOUS_THRESHOLD must be at least 1")
	}
	return nil
}

// Helper function to get environment variable with default
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
