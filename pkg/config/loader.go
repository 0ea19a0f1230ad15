package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load parses process environment variables into cfg, which must be a pointer
// to a struct using `env` and `envDefault` tags.
//
//	type Config struct {
//	    Port     int           `env:"STOREFRONT_HTTP_PORT" envDefault:"8080"`
//	    Lifetime time.Duration `env:"NOTIFICATION_TTL" envDefault:"3s"`
//	}
func Load(cfg any) error {
	return LoadFrom(cfg, nil)
}

// LoadFrom is like Load but resolves variables from environ when it is
// non-nil, leaving the process environment untouched.
func LoadFrom(cfg any, environ map[string]string) error {
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
