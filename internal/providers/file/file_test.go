package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/entgraph/discovery/pkg/provider"
)

const sampleManifest = `
entities:
  - apiVersion: apps.entgraph.io/v1
    kind: Service
    metadata:
      name: checkout
      labels:
        tier: backend
    spec:
      language: go
  - apiVersion: apps.entgraph.io/v1
    kind: Database
    metadata:
      name: checkout-db
      namespace: storage
relations:
  - relation: DEPENDS_ON
    source:
      apiVersion: apps.entgraph.io/v1
      kind: Service
      name: checkout
    target:
      apiVersion: apps.entgraph.io/v1
      kind: Database
      name: checkout-db
      namespace: storage
  - relation: DEPLOYED_FROM
    source:
      apiVersion: apps.entgraph.io/v1
      kind: Service
      name: checkout
    target:
      kind: Repository
      selector: spec.url=https://git.example.com/checkout
`

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func newProvider(t *testing.T, cfg map[string]any) *Provider {
	t.Helper()
	p, err := New(provider.Settings{Name: "manifests", Every: time.Minute}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p.(*Provider)
}

func TestDiscoverManifests(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "app.entgraph.yaml", sampleManifest)

	p := newProvider(t, map[string]any{
		"base_path": dir,
		"paths":     []any{"*.entgraph.yaml"},
		"namespace": "payments",
	})

	entities, relations, err := p.DiscoverCurrentEntities(context.Background())
	if err != nil {
		t.Fatalf("DiscoverCurrentEntities: %v", err)
	}

	if len(entities) != 2 {
		t.Fatalf("got %d entities, want 2", len(entities))
	}
	svc := entities[0]
	if svc.Kind != "Service" || svc.Metadata.Name != "checkout" {
		t.Fatalf("unexpected first entity: %s", svc.ID())
	}
	if svc.Metadata.Namespace != "payments" {
		t.Fatalf("default namespace not applied: %q", svc.Metadata.Namespace)
	}
	if svc.Metadata.Labels["tier"] != "backend" {
		t.Fatalf("manifest labels lost: %v", svc.Metadata.Labels)
	}
	if svc.Metadata.Labels["provider"] != "manifests" {
		t.Fatalf("provider label missing: %v", svc.Metadata.Labels)
	}
	if svc.Metadata.Labels["source-file"] == "" {
		t.Fatal("source-file label missing")
	}
	if entities[1].Metadata.Namespace != "storage" {
		t.Fatalf("explicit namespace overridden: %q", entities[1].Metadata.Namespace)
	}

	if len(relations) != 1 {
		t.Fatalf("got %d concrete relations, want 1", len(relations))
	}
	r := relations[0]
	if r.Relation != "DEPENDS_ON" || r.Source.Name != "checkout" || r.Target.Namespace != "storage" {
		t.Fatalf("unexpected relation: %+v", r)
	}

	selected := p.SelectedRelations()
	if len(selected) != 1 {
		t.Fatalf("got %d selector relations, want 1", len(selected))
	}
	sel := selected[0]
	if sel.Relation != "DEPLOYED_FROM" || sel.Source == nil || sel.TargetSelector == nil {
		t.Fatalf("unexpected selector relation: %+v", sel)
	}
	if sel.TargetSelector.Field != "spec.url" || sel.TargetSelector.Kind != "Repository" {
		t.Fatalf("unexpected target selector: %+v", sel.TargetSelector)
	}
}

func TestDiscoverSkipsBadManifests(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "good.entgraph.yaml", sampleManifest)
	writeManifest(t, dir, "bad.entgraph.yaml", "entities: [\n")
	writeManifest(t, dir, "incomplete.entgraph.yaml", `
entities:
  - apiVersion: apps.entgraph.io/v1
    kind: Service
  - apiVersion: apps.entgraph.io/v1
    kind: Service
    metadata:
      name: ok
`)

	p := newProvider(t, map[string]any{"base_path": dir})

	entities, _, err := p.DiscoverCurrentEntities(context.Background())
	if err != nil {
		t.Fatalf("DiscoverCurrentEntities: %v", err)
	}
	// 2 from the good manifest, 1 valid entry from the incomplete one.
	if len(entities) != 3 {
		t.Fatalf("got %d entities, want 3", len(entities))
	}
}

func TestSingleEntityDocument(t *testing.T) {
	m, err := ParseManifest([]byte(`
apiVersion: apps.entgraph.io/v1
kind: Service
metadata:
  name: solo
spec:
  language: go
`), "solo.yaml", "default", nil)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if len(m.Entities) != 1 || m.Entities[0].Metadata.Name != "solo" {
		t.Fatalf("unexpected manifest: %+v", m)
	}
}

func TestBareEntityList(t *testing.T) {
	m, err := ParseManifest([]byte(`
- apiVersion: apps.entgraph.io/v1
  kind: Service
  metadata:
    name: one
- apiVersion: apps.entgraph.io/v1
  kind: Service
  metadata:
    name: two
`), "list.yaml", "default", nil)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if len(m.Entities) != 2 {
		t.Fatalf("got %d entities, want 2", len(m.Entities))
	}
}

func TestVersionMigrationFromSinglePath(t *testing.T) {
	migrated, err := Versions().MigrateConfig(map[string]any{"path": "services.yaml"}, 1)
	if err != nil {
		t.Fatalf("MigrateConfig: %v", err)
	}
	paths, ok := migrated["paths"].([]any)
	if !ok || len(paths) != 1 || paths[0] != "services.yaml" {
		t.Fatalf("unexpected migrated config: %v", migrated)
	}
	if _, stale := migrated["path"]; stale {
		t.Fatal("old path key not removed")
	}
}

func TestGlobDeduplication(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "app.entgraph.yaml", sampleManifest)

	p := newProvider(t, map[string]any{
		"base_path": dir,
		"paths":     []any{"*.entgraph.yaml", "app.*"},
	})

	files, err := p.matchFiles()
	if err != nil {
		t.Fatalf("matchFiles: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("got %d files, want 1", len(files))
	}
}
