package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/entgraph/discovery/internal/util"
)

const apiFetchTimeout = 30 * time.Second

// APISource fetches provider configurations from the graph API's admin
// endpoint. The sourceID is the API base URL; the bearer token and
// environment come from the local environment so secrets stay out of the
// source identifier.
type APISource struct{}

func (s *APISource) Supports(sourceID string) bool {
	return strings.HasPrefix(sourceID, "http://") || strings.HasPrefix(sourceID, "https://")
}

func (s *APISource) Load(ctx context.Context, sourceID string) (map[string]any, error) {
	base := strings.TrimSuffix(sourceID, "/")
	url := base + "/api/v1/discovery/admin/configured-providers"

	ctx, cancel := context.WithTimeout(ctx, apiFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	token := util.GetEnv("ENTGRAPH_OPAQUE_TOKEN")
	req.Header.Set("Authorization", "Bearer "+token)
	if env := util.GetEnv("ENTGRAPH_ENVIRONMENT"); env != "" {
		req.Header.Set("X-Graph-Environment", env)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch provider configs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("fetch provider configs: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var payload struct {
		Providers []map[string]any `json:"providers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode provider configs: %w", err)
	}

	providers := make([]any, 0, len(payload.Providers))
	for _, p := range payload.Providers {
		providers = append(providers, p)
	}

	return map[string]any{
		"discovery": map[string]any{
			"api_base_url": base,
			"opaque_token": token,
			"environment":  util.GetEnv("ENTGRAPH_ENVIRONMENT"),
			"providers":    providers,
		},
	}, nil
}
