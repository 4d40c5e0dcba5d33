package config

import (
	"fmt"
	"os"
	"strconv"
)

// Storage driver selection
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StorageDynamoDB = "dynamodb"
)

// Config holds all application configuration
type Config struct {
	Environment string

	// Storage configuration
	StorageDriver string
	SQLitePath    string

	// AWS configuration
	AWSRegion         string
	DynamoDBTable     string
	IndexName         string // reverse GSI for incoming-fitting queries
	EnableEventBridge bool
	EventBusName      string

	// Traversal snapshot cache TTL in seconds
	CacheTTL int

	// Logging and features
	LogLevel         string
	EnableMetrics    bool
	EnableTracing    bool
	MetricsNamespace string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),

		StorageDriver: getEnv("STORAGE_DRIVER", StorageMemory),
		SQLitePath:    getEnv("SQLITE_PATH", "fitting.db"),

		AWSRegion:         getEnv("AWS_REGION", "us-west-2"),
		DynamoDBTable:     getEnv("TABLE_NAME", "fitting"),
		IndexName:         getEnv("INDEX_NAME", "GSI1"),
		EnableEventBridge: getEnvBool("ENABLE_EVENTBRIDGE", false),
		EventBusName:      getEnv("EVENT_BUS_NAME", "fitting-events"),

		CacheTTL: getEnvInt("CACHE_TTL", 60),

		LogLevel:         getEnv("LOG_LEVEL", "info"),
		EnableMetrics:    getEnvBool("ENABLE_METRICS", false),
		EnableTracing:    getEnvBool("ENABLE_TRACING", false),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "Fitting"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StorageMemory, StorageSQLite, StorageDynamoDB:
	default:
		return fmt.Errorf("unknown storage driver: %q", c.StorageDriver)
	}

	if c.StorageDriver == StorageSQLite && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
	}

	if c.StorageDriver == StorageDynamoDB {
		if c.DynamoDBTable == "" {
			return fmt.Errorf("TABLE_NAME is required for the dynamodb driver")
		}
		if c.IndexName == "" {
			return fmt.Errorf("INDEX_NAME is required for the dynamodb driver")
		}
	}

	if c.EnableEventBridge && c.EventBusName == "" {
		return fmt.Errorf("EVENT_BUS_NAME is required when EventBridge publishing is enabled")
	}

	if c.CacheTTL < 0 {
		return fmt.Errorf("CACHE_TTL cannot be negative")
	}

	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
