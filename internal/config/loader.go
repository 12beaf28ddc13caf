package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New(ctx))
//  2. file (YAML) if BEACON_CONFIG is set
//  3. env (prefix BEACON_)
func Load(ctx context.Context) (*Config, error) {
	// Start with defaults
	base := New(ctx)

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("BEACON_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: BEACON_ADDR, BEACON_QUEUE_SIZE, ...
	// Map env keys like BEACON_QUEUE_SIZE -> queue_size (flat keys)
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("BEACON_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "beacon_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects configurations the service cannot run with.
func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Storage != StorageMemory && c.Storage != StorageSQLite:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.Storage)
	case c.Storage == StorageSQLite && c.StoragePath == "":
		return fmt.Errorf("%w: storage_path must not be empty for sqlite", ErrInvalidConfig)
	case c.MatchRadiusMinM <= 0 || c.MatchRadiusMaxM < c.MatchRadiusMinM:
		return fmt.Errorf("%w: match radius band [%v, %v] is not ordered and positive",
			ErrInvalidConfig, c.MatchRadiusMinM, c.MatchRadiusMaxM)
	case c.ConfirmationThreshold < 1:
		return fmt.Errorf("%w: confirmation_threshold must be at least 1", ErrInvalidConfig)
	}
	return nil
}
