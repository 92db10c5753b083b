package config

import (
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
)

const (
	BackendPostgres = "postgres"
	BackendPebble   = "pebble"
	BackendMemory   = "memory"
)

var validBackends = []string{BackendMemory, BackendPebble, BackendPostgres}

type StoreConfig struct {
	Backend    string
	ConnString string
	MaxConns   uint
	PebblePath string
	MaxRetries uint
}

func (c StoreConfig) Validate() error {
	if !slices.Contains(validBackends, c.Backend) {
		return fmt.Errorf("invalid backend: %s. Valid backends are: %v", c.Backend, validBackends)
	}

	switch c.Backend {
	case BackendPostgres:
		if c.ConnString == "" {
			return fmt.Errorf("missing PostgreSQL connection string")
		}
		if _, err := pgxpool.ParseConfig(c.ConnString); err != nil {
			return fmt.Errorf("failed to parse PostgreSQL connection string: %w", err)
		}
	case BackendPebble:
		if c.PebblePath == "" {
			return fmt.Errorf("missing pebble database path")
		}
	}

	return nil
}

func LoadStoreConfigFromCLI() StoreConfig {
	return StoreConfig{
		Backend:    viper.GetString("backend"),
		ConnString: viper.GetString("postgres-conn"),
		MaxConns:   viper.GetUint("max-conns"),
		PebblePath: viper.GetString("pebble-path"),
		MaxRetries: viper.GetUint("max-retries"),
	}
}
