package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	ConnectTimeout time.Duration

	// Connection pool settings.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfigFromEnv loads database configuration from environment variables.
// Two naming sets are accepted: DB_* and the libpq-style PG* names.
func LoadConfigFromEnv() (Config, error) {
	portRaw := envAny("DB_PORT", "PGPORT")
	if portRaw == "" {
		portRaw = "5432"
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpen, _ := strconv.Atoi(orDefault(os.Getenv("DB_MAX_OPEN_CONNS"), "10"))
	maxIdle, _ := strconv.Atoi(orDefault(os.Getenv("DB_MAX_IDLE_CONNS"), "5"))

	connectTimeout := 10 * time.Second
	if raw := envAny("DB_CONNECT_TIMEOUT_SECONDS", "PGCONNECT_TIMEOUT"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			connectTimeout = time.Duration(n) * time.Second
		}
	}

	return Config{
		Host:            orDefault(envAny("DB_HOST", "PGHOST"), "localhost"),
		Port:            port,
		User:            envAny("DB_USER", "PGUSER"),
		Password:        envAny("DB_PASSWORD", "PGPASSWORD"),
		Database:        envAny("DB_NAME", "PGDATABASE"),
		SSLMode:         orDefault(envAny("DB_SSLMODE", "PGSSLMODE"), "disable"),
		ConnectTimeout:  connectTimeout,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}, nil
}

// Configured reports whether the environment carries enough settings to
// attempt a connection. Persistence is optional; an unconfigured instance
// runs with the database sink disabled.
func Configured() bool {
	return envAny("DB_USER", "PGUSER") != "" &&
		envAny("DB_PASSWORD", "PGPASSWORD") != "" &&
		envAny("DB_NAME", "PGDATABASE") != ""
}

// Validate checks the required connection fields.
func (c Config) Validate() error {
	missing := []string{}
	if c.User == "" {
		missing = append(missing, "user")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if c.Database == "" {
		missing = append(missing, "dbname")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing database settings: %v", missing)
	}
	return nil
}

func envAny(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func orDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}
