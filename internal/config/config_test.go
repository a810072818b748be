package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
discovery:
  api_base_url: "https://graph.example.com"
  opaque_token: "secret"
  environment: "prod"
  providers:
    - name: github-main
      type: github
      every: 120
      config:
        org: example
    - name: files
      type: file
      config:
        path: /etc/entgraph/entities.yaml
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFileConfig(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := Load(context.Background(), "file", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Discovery.APIBaseURL != "https://graph.example.com" {
		t.Fatalf("api_base_url = %q", cfg.Discovery.APIBaseURL)
	}
	if len(cfg.Discovery.Providers) != 2 {
		t.Fatalf("got %d providers, want 2", len(cfg.Discovery.Providers))
	}

	github := cfg.Discovery.Providers[0]
	if github.Every != 120 {
		t.Fatalf("every = %d, want 120", github.Every)
	}
	if github.Config["org"] != "example" {
		t.Fatalf("provider config not decoded: %+v", github.Config)
	}

	// Interval and version default when omitted.
	files := cfg.Discovery.Providers[1]
	if files.Every != 60 {
		t.Fatalf("default every = %d, want 60", files.Every)
	}
	if files.Version != 1 {
		t.Fatalf("default version = %d, want 1", files.Version)
	}
}

func TestLoadDetectsFileSource(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := Load(context.Background(), "", path)
	if err != nil {
		t.Fatalf("Load with auto-detect: %v", err)
	}
	if cfg.Discovery.OpaqueToken != "secret" {
		t.Fatalf("opaque_token = %q", cfg.Discovery.OpaqueToken)
	}
}

func TestEnvOverridesExistingField(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	t.Setenv("ENTGRAPH_CFG_DISCOVERY_OPAQUE_TOKEN", "from-env")

	cfg, err := Load(context.Background(), "file", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discovery.OpaqueToken != "from-env" {
		t.Fatalf("opaque_token = %q, want from-env", cfg.Discovery.OpaqueToken)
	}
}

func TestEnvAddsNewField(t *testing.T) {
	data := map[string]any{
		"discovery": map[string]any{
			"api_base_url": "https://graph.example.com",
			"opaque_token": "secret",
		},
	}

	environ := func() []string {
		return []string{"ENTGRAPH_CFG_ADMIN_ADDR=:9090"}
	}
	overrideWithEnv(data, EnvPrefix, environ)

	admin, ok := data["admin"].(map[string]any)
	if !ok {
		t.Fatalf("admin section not created: %+v", data)
	}
	if admin["addr"] != ":9090" {
		t.Fatalf("admin.addr = %v", admin["addr"])
	}
}

func TestEnvOverrideWalksNestedKeysWithUnderscores(t *testing.T) {
	data := map[string]any{
		"discovery": map[string]any{
			"api_base_url": "https://old.example.com",
		},
	}

	environ := func() []string {
		return []string{"ENTGRAPH_CFG_DISCOVERY_API_BASE_URL=https://new.example.com"}
	}
	overrideWithEnv(data, EnvPrefix, environ)

	discovery := data["discovery"].(map[string]any)
	if discovery["api_base_url"] != "https://new.example.com" {
		t.Fatalf("api_base_url = %v", discovery["api_base_url"])
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"MissingToken", `
discovery:
  api_base_url: "https://graph.example.com"
`},
		{"InvalidURL", `
discovery:
  api_base_url: "not a url"
  opaque_token: "secret"
`},
		{"ProviderWithoutName", `
discovery:
  api_base_url: "https://graph.example.com"
  opaque_token: "secret"
  providers:
    - type: github
`},
		{"DuplicateProviderNames", `
discovery:
  api_base_url: "https://graph.example.com"
  opaque_token: "secret"
  providers:
    - name: dup
      type: github
    - name: dup
      type: file
`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			if _, err := Load(context.Background(), "file", path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(context.Background(), "file", "/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		in         string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{"s3://configs/entgraph/config.yaml", "configs", "entgraph/config.yaml", false},
		{"s3://configs", "", "", true},
		{"s3://", "", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			bucket, key, err := parseS3URI(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tc.wantBucket || key != tc.wantKey {
				t.Fatalf("got %q/%q, want %q/%q", bucket, key, tc.wantBucket, tc.wantKey)
			}
		})
	}
}
