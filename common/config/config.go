package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runner configuration
type Config struct {
	Service  ServiceConfig
	Database DatabaseConfig
	Broker   BrokerConfig
	Consumer ConsumerConfig
	Producer ProducerConfig
	Retry    OutboxConfig
	Wait     OutboxConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Type        string // "in-memory", "postgresql"
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// BrokerConfig holds message broker settings
type BrokerConfig struct {
	Type     string // "in-memory", "redis"; "kafka"/"rabbitmq" reserved
	Addr     string
	Password string
	Stream   string // logical channel for workflow messages
	DLQ      string // dead-letter channel
	Group    string // consumer group name
}

// ConsumerConfig controls the inbound side
type ConsumerConfig struct {
	Enabled bool
	Workers int
}

// ProducerConfig controls the outbound side
type ProducerConfig struct {
	Enabled bool
}

// OutboxConfig holds settings for one outbox table (retry or wait)
type OutboxConfig struct {
	BatchSize       int
	MaxAttempts     int
	InitialDelay    time.Duration
	Schedule        time.Duration // processing period
	CleanupAfter    time.Duration // SENT rows older than this are deleted
	CleanupBatch    int
	CleanupSchedule time.Duration
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Type:        getEnv("DATABASE_TYPE", "postgresql"),
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "lemline"),
			User:        getEnv("POSTGRES_USER", "lemline"),
			Password:    getEnv("POSTGRES_PASSWORD", "lemline"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Broker: BrokerConfig{
			Type:     getEnv("BROKER_TYPE", "in-memory"),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			Stream:   getEnv("BROKER_STREAM", "lemline.workflows"),
			DLQ:      getEnv("BROKER_DLQ", "lemline.workflows.dlq"),
			Group:    getEnv("BROKER_GROUP", "lemline-runners"),
		},
		Consumer: ConsumerConfig{
			Enabled: getEnvBool("CONSUMER_ENABLED", true),
			Workers: getEnvInt("CONSUMER_WORKERS", 8),
		},
		Producer: ProducerConfig{
			Enabled: getEnvBool("PRODUCER_ENABLED", true),
		},
		Retry: OutboxConfig{
			BatchSize:       getEnvInt("RETRY_OUTBOX_BATCH_SIZE", 100),
			MaxAttempts:     getEnvInt("RETRY_OUTBOX_MAX_ATTEMPTS", 5),
			InitialDelay:    getEnvDuration("RETRY_OUTBOX_INITIAL_DELAY", 5*time.Second),
			Schedule:        getEnvDuration("RETRY_OUTBOX_SCHEDULE", 2*time.Second),
			CleanupAfter:    getEnvDuration("RETRY_CLEANUP_AFTER", 24*time.Hour),
			CleanupBatch:    getEnvInt("RETRY_CLEANUP_BATCH_SIZE", 500),
			CleanupSchedule: getEnvDuration("RETRY_CLEANUP_SCHEDULE", 1*time.Hour),
		},
		Wait: OutboxConfig{
			BatchSize:       getEnvInt("WAIT_OUTBOX_BATCH_SIZE", 100),
			MaxAttempts:     getEnvInt("WAIT_OUTBOX_MAX_ATTEMPTS", 5),
			InitialDelay:    getEnvDuration("WAIT_OUTBOX_INITIAL_DELAY", 5*time.Second),
			Schedule:        getEnvDuration("WAIT_OUTBOX_SCHEDULE", 1*time.Second),
			CleanupAfter:    getEnvDuration("WAIT_CLEANUP_AFTER", 24*time.Hour),
			CleanupBatch:    getEnvInt("WAIT_CLEANUP_BATCH_SIZE", 500),
			CleanupSchedule: getEnvDuration("WAIT_CLEANUP_SCHEDULE", 1*time.Hour),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	switch c.Broker.Type {
	case "in-memory", "redis":
	case "kafka", "rabbitmq":
		return fmt.Errorf("broker type %q is not implemented", c.Broker.Type)
	default:
		return fmt.Errorf("unknown broker type: %s", c.Broker.Type)
	}

	switch c.Database.Type {
	case "in-memory", "postgresql":
	case "mysql":
		return fmt.Errorf("database type %q is not implemented", c.Database.Type)
	default:
		return fmt.Errorf("unknown database type: %s", c.Database.Type)
	}

	if c.Database.Type == "postgresql" {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns must be >= min_conns")
		}
	}

	for name, ob := range map[string]OutboxConfig{"retry": c.Retry, "wait": c.Wait} {
		if ob.BatchSize < 1 {
			return fmt.Errorf("%s outbox batch size must be positive", name)
		}
		if ob.MaxAttempts < 1 {
			return fmt.Errorf("%s outbox max attempts must be positive", name)
		}
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
