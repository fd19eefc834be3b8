package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPAddr      string
	JWTSecret     string
	AllowedOrigin string
	LogLevel      string

	StoreDriver string
	BadgerPath  string

	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string
	DBSSLMode  string

	// EditTimeout bounds the wait for a document's edit lock.
	EditTimeout time.Duration
}

// DSN is the postgres connection string.
func (c *Config) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.DBSSLMode}}.Encode(),
	}
	return u.String()
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// Load reads a .env file if there is one, then the environment.
func Load(files ...string) (*Config, error) {
	// A missing .env is fine; the OS environment is used instead.
	_ = godotenv.Load(files...)

	cfg := &Config{
		HTTPAddr:      env("HTTP_ADDR", ":8080"),
		JWTSecret:     env("SUPABASE_JWT_SECRET", ""),
		AllowedOrigin: env("ALLOWED_ORIGIN", "*"),
		LogLevel:      env("LOG_LEVEL", "info"),
		StoreDriver:   env("STORE_DRIVER", DriverPostgres),
		BadgerPath:    env("BADGER_PATH", "data/badger"),
		DBUser:        env("user", ""),
		DBPassword:    env("password", ""),
		DBHost:        env("host", "localhost"),
		DBPort:        env("port", "5432"),
		DBName:        env("dbname", "postgres"),
		DBSSLMode:     env("DB_SSLMODE", "require"),
	}

	timeout, err := time.ParseDuration(env("EDIT_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("EDIT_TIMEOUT: %w", err)
	}
	if timeout < 0 {
		return nil, fmt.Errorf("EDIT_TIMEOUT must not be negative, got %s", timeout)
	}
	cfg.EditTimeout = timeout

	switch cfg.StoreDriver {
	case DriverPostgres, DriverBadger, DriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be postgres, badger or memory, got %q", cfg.StoreDriver)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("SUPABASE_JWT_SECRET environment variable not set")
	}
	return cfg, nil
}
