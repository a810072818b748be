package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/entgraph/discovery/pkg/logger"
)

// EnvPrefix marks environment variables that override config fields.
const EnvPrefix = "ENTGRAPH_CFG_"

var environLookup = os.Environ

// Source loads the raw config document from somewhere: a file, an S3 object
// or the graph API's admin endpoint.
type Source interface {
	// Load fetches and decodes the raw document identified by sourceID.
	Load(ctx context.Context, sourceID string) (map[string]any, error)
	// Supports reports whether the sourceID looks like this source's kind
	// of identifier, for auto detection.
	Supports(sourceID string) bool
}

// Load resolves a source, loads the raw document, applies environment
// overrides and decodes it into a validated Config.
//
// sourceType may be "file", "s3" or "api"; when empty the source is detected
// from the sourceID.
func Load(ctx context.Context, sourceType, sourceID string) (*Config, error) {
	source, name, err := resolveSource(sourceType, sourceID)
	if err != nil {
		return nil, err
	}
	logger.Info("loading configuration", "source", name, "id", sourceID)

	data, err := source.Load(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("load configuration from %s: %w", name, err)
	}

	overrideWithEnv(data, EnvPrefix, environLookup)

	raw, err := yaml.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("re-encode configuration: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveSource(sourceType, sourceID string) (Source, string, error) {
	sources := map[string]Source{
		"file": &FileSource{},
		"s3":   NewS3Source(),
		"api":  &APISource{},
	}

	if sourceType != "" {
		s, ok := sources[sourceType]
		if !ok {
			return nil, "", fmt.Errorf("unknown config source type %q", sourceType)
		}
		return s, sourceType, nil
	}

	for _, name := range []string{"s3", "api", "file"} {
		if sources[name].Supports(sourceID) {
			return sources[name], name, nil
		}
	}
	return sources["file"], "file", nil
}

// overrideWithEnv applies prefixed environment variables onto the raw config
// document. Existing keys are matched by walking the document; unknown
// variables create new nested keys split on underscores.
func overrideWithEnv(data map[string]any, prefix string, environ func() []string) {
	overrideExisting(data, strings.ToUpper(prefix), environ)

	for _, kv := range environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, strings.ToUpper(prefix)) {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(key, strings.ToUpper(prefix))), "_")
		if len(path) == 0 {
			continue
		}
		if hasPath(data, path) {
			continue
		}

		current := data
		for _, part := range path[:len(path)-1] {
			next, ok := current[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				current[part] = next
			}
			current = next
		}
		current[path[len(path)-1]] = value
	}
}

func overrideExisting(data map[string]any, envPrefix string, environ func() []string) {
	env := map[string]string{}
	for _, kv := range environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			env[key] = value
		}
	}

	var walk func(node map[string]any, prefix string)
	walk = func(node map[string]any, prefix string) {
		for key, value := range node {
			envKey := strings.ToUpper(prefix + key)
			if nested, ok := value.(map[string]any); ok {
				walk(nested, envKey+"_")
				continue
			}
			if override, ok := env[envKey]; ok {
				logger.Debug("overriding config field from environment", "key", envKey)
				node[key] = override
			}
		}
	}
	walk(data, envPrefix)
}

// hasPath reports whether the naive underscore-split path already names an
// existing field, in which case overrideExisting handled it.
func hasPath(data map[string]any, path []string) bool {
	current := any(data)
	joined := strings.Join(path, "_")
	for len(joined) > 0 {
		node, ok := current.(map[string]any)
		if !ok {
			return false
		}
		matched := false
		for key := range node {
			if joined == key {
				return true
			}
			if strings.HasPrefix(joined, key+"_") {
				current = node[key]
				joined = strings.TrimPrefix(joined, key+"_")
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return false
}
