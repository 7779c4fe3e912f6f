package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MigrationsPath  string
}

type Config struct {
	App struct {
		Port string
	}
	Postgres PostgresConfig
}

// Load reads configuration from the environment, optionally seeding it
// from a .env file first. Missing required variables are an error, not
// a default.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := &Config{}
	cfg.App.Port = envOr("APP_PORT", "8080")

	for _, v := range []struct {
		name string
		dst  *string
	}{
		{"DB_HOST", &cfg.Postgres.Host},
		{"DB_PORT", &cfg.Postgres.Port},
		{"DB_USER", &cfg.Postgres.User},
		{"DB_PASSWORD", &cfg.Postgres.Password},
		{"DB_NAME", &cfg.Postgres.DBName},
	} {
		*v.dst = os.Getenv(v.name)
		if *v.dst == "" {
			return nil, fmt.Errorf("%s is required", v.name)
		}
	}

	cfg.Postgres.SSLMode = envOr("DB_SSLMODE", "disable")
	cfg.Postgres.MigrationsPath = envOr("DB_MIGRATIONS_PATH", "migrations")

	maxConns, err := envIntOr("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, err
	}
	cfg.Postgres.MaxConns = int32(maxConns)

	minConns, err := envIntOr("DB_MIN_CONNS", 2)
	if err != nil {
		return nil, err
	}
	cfg.Postgres.MinConns = int32(minConns)

	lifetimeMin, err := envIntOr("DB_MAX_CONN_LIFETIME_MINUTES", 30)
	if err != nil {
		return nil, err
	}
	cfg.Postgres.MaxConnLifetime = time.Duration(lifetimeMin) * time.Minute

	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envIntOr(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, err)
	}
	return n, nil
}
