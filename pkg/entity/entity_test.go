package entity

import (
	"testing"
)

func TestEntityID(t *testing.T) {
	e := New("providers.entgraph.io/v1", "Repository", "core-api", "platform")
	want := "providers.entgraph.io/v1/Repository/platform/core-api"
	if got := e.ID(); got != want {
		t.Fatalf("ID() = %q, want %q", got, want)
	}
	if e.Metadata.UID == "" {
		t.Fatal("expected a generated metadata UID")
	}
}

func TestGroupVersionSplit(t *testing.T) {
	tests := []struct {
		name        string
		apiVersion  string
		wantGroup   string
		wantVersion string
	}{
		{"Grouped", "providers.entgraph.io/v1", "providers.entgraph.io", "v1"},
		{"Ungrouped", "v1", "", "v1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := New(tc.apiVersion, "Repository", "r", "default")
			if got := e.Group(); got != tc.wantGroup {
				t.Fatalf("Group() = %q, want %q", got, tc.wantGroup)
			}
			if got := e.Version(); got != tc.wantVersion {
				t.Fatalf("Version() = %q, want %q", got, tc.wantVersion)
			}
		})
	}
}

func TestPluralize(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{"Repository", "repositories"},
		{"Deployment", "deployments"},
		{"Dashboard", "dashboards"},
		{"HostingService", "hostingservices"},
		{"Box", "boxes"},
		{"Team", "teams"},
	}

	for _, tc := range tests {
		t.Run(tc.kind, func(t *testing.T) {
			if got := Pluralize(tc.kind); got != tc.want {
				t.Fatalf("Pluralize(%q) = %q, want %q", tc.kind, got, tc.want)
			}
		})
	}
}

func TestMarkUpdated(t *testing.T) {
	e := New("v1", "Repository", "r", "default")
	e.Status.IsOrphan = true
	gen := e.Status.Generation

	e.MarkUpdated("github-main")

	if e.Status.Generation != gen+1 {
		t.Fatalf("generation = %d, want %d", e.Status.Generation, gen+1)
	}
	if e.Status.DiscoverySource != "github-main" {
		t.Fatalf("discovery_source = %q, want github-main", e.Status.DiscoverySource)
	}
	if e.Status.IsOrphan {
		t.Fatal("orphan flag should be cleared on update")
	}
	if e.Status.LastSeen == nil {
		t.Fatal("last_seen should be stamped")
	}

	// Empty source keeps the existing owner.
	e.MarkUpdated("")
	if e.Status.DiscoverySource != "github-main" {
		t.Fatalf("discovery_source = %q after empty-source update", e.Status.DiscoverySource)
	}
}

func TestParseFieldSelector(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    FieldSelector
		wantErr bool
	}{
		{"Simple", "spec.url=https://git.example.com/a", FieldSelector{Field: "spec.url", Value: "https://git.example.com/a"}, false},
		{"Spaces", " spec.owner = team-a ", FieldSelector{Field: "spec.owner", Value: "team-a"}, false},
		{"ValueWithEquals", "spec.query=a=b", FieldSelector{Field: "spec.query", Value: "a=b"}, false},
		{"NoEquals", "spec.owner", FieldSelector{}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseFieldSelector(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestFieldSelectorMatches(t *testing.T) {
	ref := EntityReference{APIVersion: "providers.entgraph.io/v1", Kind: "Repository", Name: "r", Namespace: "default"}

	tests := []struct {
		name string
		sel  FieldSelector
		want bool
	}{
		{"NoConstraints", FieldSelector{Field: "f", Value: "v"}, true},
		{"KindMatch", FieldSelector{Field: "f", Value: "v", Kind: "Repository"}, true},
		{"KindMismatch", FieldSelector{Field: "f", Value: "v", Kind: "Deployment"}, false},
		{"VersionMismatch", FieldSelector{Field: "f", Value: "v", APIVersion: "other/v1"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.sel.Matches(ref); got != tc.want {
				t.Fatalf("Matches() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRelationSignatureIncludesOwner(t *testing.T) {
	src := EntityReference{APIVersion: "v1", Kind: "Deployment", Name: "d", Namespace: "default"}
	dst := EntityReference{APIVersion: "v1", Kind: "Repository", Name: "r", Namespace: "default"}

	a := NewManagedRelation("vercel-main", "USES", src, dst, "default")
	b := NewManagedRelation("argo-main", "USES", src, dst, "default")

	if a.Signature() == b.Signature() {
		t.Fatal("relations with different owners must have different signatures")
	}
	if a.ManagedBy() != "provider:vercel-main" {
		t.Fatalf("ManagedBy() = %q", a.ManagedBy())
	}
}
