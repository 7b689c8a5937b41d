package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variables that locate configuration sources.
const (
	EnvPrefix     = "SLOTRACE_"
	EnvConfig     = EnvPrefix + "CONFIG"
	EnvDotenv     = EnvPrefix + "DOTENV"
	defaultDotenv = ".env"
)

// Load builds a Config by layering defaults, .env, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. .env file (SLOTRACE_DOTENV, default .env) exported into the environment
//  3. file (YAML) if SLOTRACE_CONFIG is set
//  4. env (prefix SLOTRACE_, "__" separates nested keys)
func Load(ctx context.Context) (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}

	base := New(ctx)
	k := koanf.New(".")

	if path := os.Getenv(EnvConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrLoadConfig, path, err)
		}
	}

	// SLOTRACE_MAX_SLOTS -> max_slots, SLOTRACE_BACKOFF__MAX -> backoff.max
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrLoadConfig, err)
	}
	cfg.normalize()

	if err := ValidateSchema(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotenv exports variables from the .env file without overriding ones
// already set. A missing file is not an error.
func loadDotenv() error {
	path := os.Getenv(EnvDotenv)
	if path == "" {
		path = defaultDotenv
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: dotenv %s: %v", ErrLoadConfig, path, err)
	}
	return nil
}
