package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/entgraph/discovery/internal/util"
)

// FileSource loads the config document from a YAML file. This is the default
// source.
type FileSource struct{}

func (s *FileSource) Supports(sourceID string) bool {
	if strings.HasSuffix(sourceID, ".yaml") || strings.HasSuffix(sourceID, ".yml") {
		return true
	}
	_, err := os.Stat(sourceID)
	return err == nil
}

func (s *FileSource) Load(_ context.Context, sourceID string) (map[string]any, error) {
	path := util.GetEnvString("ENTGRAPH_FILE_CONFIG_PATH", sourceID)
	if path == "" {
		return nil, fmt.Errorf("config path not specified")
	}

	raw, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	data := map[string]any{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("invalid yaml in %s: %w", path, err)
	}
	return data, nil
}
