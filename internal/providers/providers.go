// Package providers wires the built-in provider types into a registry and
// turns raw configuration into runnable provider instances.
package providers

import (
	"time"

	"github.com/entgraph/discovery/internal/config"
	"github.com/entgraph/discovery/internal/providers/file"
	"github.com/entgraph/discovery/internal/providers/meta"
	"github.com/entgraph/discovery/pkg/logger"
	"github.com/entgraph/discovery/pkg/provider"
)

// DefaultRegistry returns a registry with every built-in provider type.
func DefaultRegistry() *provider.Registry {
	r := provider.NewRegistry()
	r.MustRegister(file.Type, provider.Registration{
		Factory:  file.New,
		Versions: file.Versions(),
	})
	r.MustRegister(meta.Type, provider.Registration{
		Factory: meta.New,
	})
	return r
}

// Build constructs provider instances from configuration. A provider that
// fails to build is logged and skipped; the remaining providers still run.
func Build(registry *provider.Registry, configs []config.ProviderConfig) []provider.Provider {
	out := make([]provider.Provider, 0, len(configs))
	for _, pc := range configs {
		settings := provider.Settings{
			Name:  pc.Name,
			Every: time.Duration(pc.Every) * time.Second,
		}
		p, err := registry.Build(pc.Type, settings, pc.Version, pc.Config)
		if err != nil {
			logger.Error("skipping misconfigured provider",
				"provider", pc.Name,
				"type", pc.Type,
				"err", err,
			)
			continue
		}
		out = append(out, p)
	}
	return out
}
