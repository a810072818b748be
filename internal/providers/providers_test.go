package providers

import (
	"testing"
	"time"

	"github.com/entgraph/discovery/internal/config"
)

func TestBuildSkipsBrokenProviders(t *testing.T) {
	registry := DefaultRegistry()

	built := Build(registry, []config.ProviderConfig{
		{Name: "manifests", Type: "file", Every: 120, Version: 2, Config: map[string]any{
			"paths": []any{"*.yaml"},
		}},
		{Name: "mystery", Type: "does-not-exist", Every: 60, Version: 1},
		{Name: "meta", Type: "meta", Every: 3600, Version: 1},
	})

	if len(built) != 2 {
		t.Fatalf("got %d providers, want 2", len(built))
	}
	if built[0].Name() != "manifests" || built[1].Name() != "meta" {
		t.Fatalf("unexpected providers: %s, %s", built[0].Name(), built[1].Name())
	}
	if built[0].Interval() != 2*time.Minute {
		t.Fatalf("interval = %s, want 2m", built[0].Interval())
	}
}

func TestDefaultRegistryTypes(t *testing.T) {
	types := DefaultRegistry().Types()
	want := []string{"file", "meta"}
	if len(types) != len(want) {
		t.Fatalf("types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("types = %v, want %v", types, want)
		}
	}
}
