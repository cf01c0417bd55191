// Package config loads typed configuration structs from the environment.
//
// Each component of the service declares its own Config struct with env tags
// (github.com/caarlos0/env/v11 syntax). Load populates it after reading an
// optional .env file once per process:
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	// ErrParsingConfig is returned when environment variables cannot be parsed into the config struct.
	ErrParsingConfig = errors.New("failed to parse environment variables into config")

	// ErrNilPointer is returned when a nil pointer is provided to Load.
	ErrNilPointer = errors.New("nil pointer provided to config loader")
)

var dotenvOnce sync.Once

// Load parses environment variables into v. The .env file in the working
// directory is read on the first call; a missing file is not an error.
func Load[T any](v *T) error {
	dotenvOnce.Do(func() {
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilPointer
	}
	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// LoadAll loads several config structs, stopping at the first failure.
func LoadAll(targets ...any) error {
	dotenvOnce.Do(func() {
		_ = godotenv.Load()
	})
	for _, t := range targets {
		if t == nil {
			return ErrNilPointer
		}
		if err := env.Parse(t); err != nil {
			return errors.Join(ErrParsingConfig, fmt.Errorf("%T: %w", t, err))
		}
	}
	return nil
}

// MustLoad works like Load but panics if configuration loading fails.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}
