// Package config loads static configuration from the environment and
// runtime-tunable settings from a watched YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string
	Environment   string

	// AWS configuration
	AWSRegion    string
	TableName    string
	EventBusName string

	// Lambda configuration
	IsLambda bool

	// Persistence selection: "memory" or "dynamodb"
	Persistence string

	// Authentication
	JWTSecret string
	JWTIssuer string

	// Logging and features
	LogLevel      string
	EnableMetrics bool
	EnableCORS    bool

	// Editing behavior
	Editing EditingConfig

	// DynamicConfigPath points at the watched YAML file; empty disables
	// dynamic reloading
	DynamicConfigPath string
}

// EditingConfig holds the undo engine's tunables
type EditingConfig struct {
	// MergeWindow is how long after the last node move a drag gesture is
	// still considered in progress
	MergeWindow time.Duration
	// MaxNodesPerWorkflow caps workflow size
	MaxNodesPerWorkflow int
	// MaxBulkSelection caps how many elements one bulk delete may cover
	MaxBulkSelection int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		AWSRegion:     getEnv("AWS_REGION", "us-west-2"),
		TableName:     getEnv("TABLE_NAME", "flowdeck"),
		EventBusName:  getEnv("EVENT_BUS_NAME", "flowdeck-events"),

		IsLambda:    getEnvBool("IS_LAMBDA", false),
		Persistence: getEnv("PERSISTENCE", "memory"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "flowdeck-backend"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		EnableMetrics: getEnvBool("ENABLE_METRICS", true),
		EnableCORS:    getEnvBool("ENABLE_CORS", true),

		Editing: EditingConfig{
			MergeWindow:         time.Duration(getEnvInt("MOVE_MERGE_WINDOW_MS", 1000)) * time.Millisecond,
			MaxNodesPerWorkflow: getEnvInt("MAX_NODES_PER_WORKFLOW", 500),
			MaxBulkSelection:    getEnvInt("MAX_BULK_SELECTION", 200),
		},

		DynamicConfigPath: getEnv("DYNAMIC_CONFIG_PATH", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is an alias for LoadConfig
func Load() (*Config, error) {
	return LoadConfig()
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	switch c.Persistence {
	case "memory", "dynamodb":
	default:
		return fmt.Errorf("PERSISTENCE must be memory or dynamodb, got %q", c.Persistence)
	}
	if c.Editing.MergeWindow <= 0 {
		return fmt.Errorf("MOVE_MERGE_WINDOW_MS must be positive")
	}
	if c.Environment == "production" {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.Persistence == "dynamodb" && c.TableName == "" {
			return fmt.Errorf("TABLE_NAME is required")
		}
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
