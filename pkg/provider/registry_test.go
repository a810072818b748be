package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/entgraph/discovery/pkg/entity"
)

type fakeProvider struct {
	name   string
	config map[string]any
}

func (p *fakeProvider) Name() string                     { return p.name }
func (p *fakeProvider) Namespace() string                { return "default" }
func (p *fakeProvider) Interval() time.Duration          { return time.Minute }
func (p *fakeProvider) Definitions() []entity.Definition { return nil }

type fakeDiscoverer struct{ fakeProvider }

func (p *fakeDiscoverer) DiscoverCurrentEntities(ctx context.Context) ([]entity.Entity, []entity.EntityRelation, error) {
	return nil, nil, nil
}

func TestRegistryBuild(t *testing.T) {
	r := NewRegistry()
	err := r.Register("fake", Registration{
		Factory: func(settings Settings, config map[string]any) (Provider, error) {
			return &fakeProvider{name: settings.Name, config: config}, nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	p, err := r.Build("fake", Settings{Name: "fake-main", Every: time.Minute}, 1, map[string]any{"token": "x"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Name() != "fake-main" {
		t.Fatalf("Name() = %q", p.Name())
	}
}

func TestRegistryBuildMigratesConfig(t *testing.T) {
	versions, err := NewVersionSupport(2,
		[]ConfigVersionInfo{{Version: 1}, {Version: 2}},
		map[int]Migration{
			1: func(c map[string]any) (map[string]any, error) {
				c["api_token"] = c["token"]
				delete(c, "token")
				return c, nil
			},
		},
	)
	if err != nil {
		t.Fatalf("NewVersionSupport: %v", err)
	}

	r := NewRegistry()
	r.MustRegister("fake", Registration{
		Versions: versions,
		Factory: func(settings Settings, config map[string]any) (Provider, error) {
			if _, ok := config["api_token"]; !ok {
				return nil, errors.New("missing api_token")
			}
			return &fakeProvider{name: settings.Name, config: config}, nil
		},
	})

	if _, err := r.Build("fake", Settings{Name: "fake-main", Every: time.Minute}, 1, map[string]any{"token": "x"}); err != nil {
		t.Fatalf("Build with v1 config: %v", err)
	}
}

func TestRegistryRejectsDuplicatesAndUnknowns(t *testing.T) {
	r := NewRegistry()
	reg := Registration{
		Factory: func(settings Settings, config map[string]any) (Provider, error) {
			return &fakeProvider{name: settings.Name}, nil
		},
	}
	if err := r.Register("fake", reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("fake", reg); err == nil {
		t.Fatal("duplicate registration must fail")
	}
	if _, err := r.Build("nope", Settings{Name: "n"}, 1, nil); err == nil {
		t.Fatal("unknown type must fail")
	}
}

func TestShapeOf(t *testing.T) {
	tests := []struct {
		name string
		p    Provider
		want Shape
	}{
		{"DefinitionOnly", &fakeProvider{}, ShapeDefinitionOnly},
		{"Discoverer", &fakeDiscoverer{}, ShapeDiscoverer},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ShapeOf(tc.p); got != tc.want {
				t.Fatalf("ShapeOf() = %v, want %v", got, tc.want)
			}
		})
	}
}
