package provider

import (
	"strings"
	"testing"
	"time"
)

func testSupport(t *testing.T) *VersionSupport {
	t.Helper()
	s, err := NewVersionSupport(3,
		[]ConfigVersionInfo{
			{Version: 1, Deprecated: true, RemovalAt: time.Now().Add(10 * 24 * time.Hour), DeprecationMessage: "field names changed."},
			{Version: 2, Deprecated: true},
			{Version: 3},
		},
		map[int]Migration{
			1: func(c map[string]any) (map[string]any, error) {
				c["renamed"] = c["old_name"]
				delete(c, "old_name")
				return c, nil
			},
			2: func(c map[string]any) (map[string]any, error) {
				c["added_in_v3"] = true
				return c, nil
			},
		},
	)
	if err != nil {
		t.Fatalf("NewVersionSupport: %v", err)
	}
	return s
}

func TestNewVersionSupportRejectsMissingCurrent(t *testing.T) {
	_, err := NewVersionSupport(5, []ConfigVersionInfo{{Version: 1}}, nil)
	if err == nil {
		t.Fatal("expected error for current version not in supported set")
	}
}

func TestMigrateConfigChain(t *testing.T) {
	s := testSupport(t)

	got, err := s.MigrateConfig(map[string]any{"old_name": "v"}, 1)
	if err != nil {
		t.Fatalf("MigrateConfig: %v", err)
	}
	if got["renamed"] != "v" {
		t.Fatalf("v1 migration not applied: %+v", got)
	}
	if got["added_in_v3"] != true {
		t.Fatalf("v2 migration not applied: %+v", got)
	}
	if _, lingers := got["old_name"]; lingers {
		t.Fatalf("old field survived migration: %+v", got)
	}
}

func TestMigrateConfigCurrentVersionIsCopied(t *testing.T) {
	s := testSupport(t)

	in := map[string]any{"a": 1}
	got, err := s.MigrateConfig(in, 3)
	if err != nil {
		t.Fatalf("MigrateConfig: %v", err)
	}
	got["a"] = 2
	if in["a"] != 1 {
		t.Fatal("migration must not mutate the caller's config")
	}
}

func TestMigrateConfigErrors(t *testing.T) {
	s := testSupport(t)

	tests := []struct {
		name    string
		version int
	}{
		{"NewerThanCurrent", 4},
		{"UnknownVersion", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.MigrateConfig(map[string]any{}, tc.version); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMigrateConfigMissingLinkIsHardError(t *testing.T) {
	s, err := NewVersionSupport(3,
		[]ConfigVersionInfo{{Version: 1}, {Version: 2}, {Version: 3}},
		map[int]Migration{
			2: func(c map[string]any) (map[string]any, error) { return c, nil },
		},
	)
	if err != nil {
		t.Fatalf("NewVersionSupport: %v", err)
	}

	_, err = s.MigrateConfig(map[string]any{}, 1)
	if err == nil || !strings.Contains(err.Error(), "no migration path") {
		t.Fatalf("expected missing-link error, got %v", err)
	}
}

func TestDeprecationWarning(t *testing.T) {
	s := testSupport(t)

	warning := s.DeprecationWarning(1)
	if warning == "" {
		t.Fatal("expected a warning for a deprecated version")
	}
	if !strings.Contains(warning, "days") {
		t.Fatalf("warning should mention days until removal: %q", warning)
	}
	if !strings.Contains(warning, "version 3") {
		t.Fatalf("warning should point at the current version: %q", warning)
	}

	if w := s.DeprecationWarning(3); w != "" {
		t.Fatalf("current version should not warn: %q", w)
	}
}

func TestExpiredVersionIsUnsupported(t *testing.T) {
	s, err := NewVersionSupport(2,
		[]ConfigVersionInfo{
			{Version: 1, Deprecated: true, RemovalAt: time.Now().Add(-time.Hour)},
			{Version: 2},
		},
		map[int]Migration{
			1: func(c map[string]any) (map[string]any, error) { return c, nil },
		},
	)
	if err != nil {
		t.Fatalf("NewVersionSupport: %v", err)
	}

	if s.IsSupported(1) {
		t.Fatal("version past its removal date must be unsupported")
	}
	if _, err := s.MigrateConfig(map[string]any{}, 1); err == nil {
		t.Fatal("migrating from an unsupported version must fail")
	}
}
