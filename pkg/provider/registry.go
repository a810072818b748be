package provider

import (
	"fmt"
	"sort"
	"time"
)

// Settings is the per-instance identity the framework owns: everything else
// in a provider's configuration belongs to the provider itself.
type Settings struct {
	Name  string
	Every time.Duration
}

// Factory builds a provider instance from its raw configuration block. The
// config arrives already migrated to the factory's current version.
type Factory func(settings Settings, config map[string]any) (Provider, error)

// Registration binds a provider type name to its factory and the config
// versions it accepts.
type Registration struct {
	Factory  Factory
	Versions *VersionSupport
}

// Registry maps provider type names to registrations. It is an explicit
// value handed to the orchestrator, not process-wide state, so tests can
// supply their own.
type Registry struct {
	types map[string]Registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: map[string]Registration{}}
}

// Register adds a provider type. Registering the same type twice is a
// programming error and fails loudly.
func (r *Registry) Register(typeName string, reg Registration) error {
	if _, exists := r.types[typeName]; exists {
		return fmt.Errorf("provider type %q already registered", typeName)
	}
	if reg.Factory == nil {
		return fmt.Errorf("provider type %q has no factory", typeName)
	}
	r.types[typeName] = reg
	return nil
}

// MustRegister is Register for package init paths where a duplicate is a bug.
func (r *Registry) MustRegister(typeName string, reg Registration) {
	if err := r.Register(typeName, reg); err != nil {
		panic(err)
	}
}

// Build constructs a provider instance of the given type. The raw config is
// version checked and migrated before the factory sees it.
func (r *Registry) Build(typeName string, settings Settings, version int, config map[string]any) (Provider, error) {
	reg, ok := r.types[typeName]
	if !ok {
		return nil, fmt.Errorf("unknown provider type %q", typeName)
	}

	if reg.Versions != nil {
		migrated, err := reg.Versions.MigrateConfig(config, version)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", settings.Name, err)
		}
		config = migrated
	}

	p, err := reg.Factory(settings, config)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", settings.Name, err)
	}
	return p, nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.types))
	for name := range r.types {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
