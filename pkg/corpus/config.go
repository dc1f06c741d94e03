// Package corpus executes data-stage queries against the PostgreSQL corpus
// of government decisions. The corpus schema is owned elsewhere; this layer
// only runs SQL produced by the SQL-GEN stage (or one of its named
// templates) and maps rows to result artifacts.
package corpus

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds corpus database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN renders the pgx connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LoadConfigFromEnv loads corpus database configuration from environment variables
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("CORPUS_DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid CORPUS_DB_PORT: %w", err)
	}

	maxConns, _ := strconv.Atoi(getEnvOrDefault("CORPUS_DB_MAX_CONNS", "10"))
	minConns, _ := strconv.Atoi(getEnvOrDefault("CORPUS_DB_MIN_CONNS", "2"))

	return Config{
		Host:            getEnvOrDefault("CORPUS_DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("CORPUS_DB_USER", "botchain"),
		Password:        os.Getenv("CORPUS_DB_PASSWORD"),
		Database:        getEnvOrDefault("CORPUS_DB_NAME", "decisions"),
		SSLMode:         getEnvOrDefault("CORPUS_DB_SSLMODE", "disable"),
		MaxConns:        maxConns,
		MinConns:        minConns,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
