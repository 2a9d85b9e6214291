package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP ops API
	Port string

	// Database
	SQLiteDBPath string

	// AMQP (optional; empty URL disables queue fan-out)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Triggers
	WakeInterval time.Duration // earliest-begin gap between background wakes
	WakeBudget   time.Duration // execution budget per background pass
}

func Load() *Config {
	cfg := &Config{
		Port:         getEnv("PORT", "8082"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/ledgerd.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "ledgerd"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "notifications"),

		WakeInterval: getEnvDuration("WAKE_INTERVAL", time.Hour),
		WakeBudget:   getEnvDuration("WAKE_BUDGET", 30*time.Second),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate SQLite configuration
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}

		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate trigger configuration
	if c.WakeInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid wake interval %v: must be at least 1 minute", c.WakeInterval))
	} else if c.WakeInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid wake interval %v: must be at most 24 hours", c.WakeInterval))
	}

	if c.WakeBudget < time.Second {
		errors = append(errors, fmt.Sprintf("invalid wake budget %v: must be at least 1 second", c.WakeBudget))
	} else if c.WakeBudget > 10*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid wake budget %v: must be at most 10 minutes", c.WakeBudget))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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
