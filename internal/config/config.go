package config

import (
	"fmt"

	"github.com/go-playground/validator"
)

// ProviderConfig is the raw configuration of one provider instance. Config is
// opaque to the framework; the provider's factory interprets it after version
// migration.
type ProviderConfig struct {
	Name    string         `yaml:"name" validate:"required"`
	Type    string         `yaml:"type" validate:"required"`
	Every   int            `yaml:"every"`
	Version int            `yaml:"version"`
	Config  map[string]any `yaml:"config"`
}

// DiscoveryConfig configures the reconciliation engine itself.
type DiscoveryConfig struct {
	APIBaseURL  string           `yaml:"api_base_url" validate:"required,url"`
	Environment string           `yaml:"environment"`
	OpaqueToken string           `yaml:"opaque_token" validate:"required"`
	Providers   []ProviderConfig `yaml:"providers" validate:"dive"`
}

// AdminConfig configures the operator HTTP surface. Disabled when Addr is
// empty.
type AdminConfig struct {
	Addr   string `yaml:"addr"`
	APIKey string `yaml:"api_key"`
}

// LockConfig configures the optional cross-replica run lease. Disabled when
// DatabaseURL is empty.
type LockConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

// EventsConfig configures the optional pass-summary publisher. Disabled when
// URL is empty.
type EventsConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// Config is the root configuration document.
type Config struct {
	Discovery DiscoveryConfig `yaml:"discovery" validate:"required"`
	Admin     AdminConfig     `yaml:"admin"`
	Lock      LockConfig      `yaml:"lock"`
	Events    EventsConfig    `yaml:"events"`
}

var validate = validator.New()

// Validate checks the config's structural constraints and defaults the
// per-provider interval.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := map[string]struct{}{}
	for i := range c.Discovery.Providers {
		p := &c.Discovery.Providers[i]
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("invalid configuration: duplicate provider name %q", p.Name)
		}
		seen[p.Name] = struct{}{}

		if p.Every <= 0 {
			p.Every = 60
		}
		if p.Version <= 0 {
			p.Version = 1
		}
	}
	return nil
}
