package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/entgraph/discovery/pkg/entity"
	"github.com/entgraph/discovery/pkg/logger"
	"github.com/entgraph/discovery/pkg/provider"
)

// Type is the provider type name used in configuration.
const Type = "file"

// Config configures one file provider instance.
type Config struct {
	Namespace string   `yaml:"namespace"`
	BasePath  string   `yaml:"base_path"`
	Paths     []string `yaml:"paths"`
}

// Provider reads entity manifests from disk. It defines no entity kinds of
// its own; whatever kinds the manifests declare must already be registered
// with the graph.
type Provider struct {
	provider.Base
	cfg Config

	mu       sync.Mutex
	selected []entity.FieldSelectedEntityRelation
}

// New builds a file provider from raw, already migrated configuration.
func New(settings provider.Settings, raw map[string]any) (provider.Provider, error) {
	cfg, err := decodeConfig(raw)
	if err != nil {
		return nil, err
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "."
	}
	if len(cfg.Paths) == 0 {
		cfg.Paths = []string{"*.entgraph.yaml"}
	}

	return &Provider{
		Base: provider.Base{
			InstanceName: settings.Name,
			Ns:           cfg.Namespace,
			Every:        settings.Every,
		},
		cfg: cfg,
	}, nil
}

func decodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	data, err := yaml.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("encode file provider config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode file provider config: %w", err)
	}
	return cfg, nil
}

// Definitions returns nil: manifests can carry entities of any kind.
func (p *Provider) Definitions() []entity.Definition { return nil }

// DiscoverCurrentEntities reads and parses every manifest matched by the
// configured glob patterns. An unreadable or unparsable file is logged and
// skipped so a single bad manifest cannot empty the provider's truth.
func (p *Provider) DiscoverCurrentEntities(ctx context.Context) ([]entity.Entity, []entity.EntityRelation, error) {
	files, err := p.matchFiles()
	if err != nil {
		return nil, nil, err
	}
	logger.Info("scanning entity manifests", "provider", p.Name(), "files", len(files))

	var entities []entity.Entity
	var relations []entity.EntityRelation
	var selected []entity.FieldSelectedEntityRelation

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		content, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable manifest", "file", path, "err", err)
			continue
		}

		m, err := ParseManifest(content, path, p.cfg.Namespace, map[string]string{
			"provider": p.Name(),
		})
		if err != nil {
			logger.Error("skipping invalid manifest", "file", path, "err", err)
			continue
		}

		entities = append(entities, m.Entities...)
		relations = append(relations, m.Relations...)
		selected = append(selected, m.SelectedRelations...)
	}

	p.mu.Lock()
	p.selected = selected
	p.mu.Unlock()

	logger.Info("manifest discovery complete",
		"provider", p.Name(),
		"entities", len(entities),
		"relations", len(relations),
		"selector_relations", len(selected),
	)
	return entities, relations, nil
}

// SelectedRelations returns the selector relations from the last discovery.
func (p *Provider) SelectedRelations() []entity.FieldSelectedEntityRelation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

func (p *Provider) matchFiles() ([]string, error) {
	base, err := filepath.Abs(p.cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("resolve base path %q: %w", p.cfg.BasePath, err)
	}

	seen := map[string]struct{}{}
	for _, pattern := range p.cfg.Paths {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(base, pattern)
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			seen[m] = struct{}{}
		}
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

// Versions describes the supported config versions. Version 1 used a single
// path key; version 2 takes a paths list.
func Versions() *provider.VersionSupport {
	v, err := provider.NewVersionSupport(2,
		[]provider.ConfigVersionInfo{
			{
				Version:            1,
				Deprecated:         true,
				DeprecationMessage: "the path key was replaced by a paths list",
			},
			{Version: 2},
		},
		map[int]provider.Migration{
			1: migrateV1,
		},
	)
	if err != nil {
		panic(err)
	}
	return v
}

func migrateV1(config map[string]any) (map[string]any, error) {
	if path, ok := config["path"]; ok {
		config["paths"] = []any{path}
		delete(config, "path")
	}
	return config, nil
}
