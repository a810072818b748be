package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityMetadata carries the naming and labeling information of an entity.
type EntityMetadata struct {
	Name        string            `json:"name"`
	Namespace   string            `json:"namespace"`
	UID         string            `json:"uid,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// EntityStatus tracks the lifecycle of an entity inside the graph.
//
// Fingerprint is a typed, required-on-write field: the reconciler compares it
// directly instead of digging through annotations, and an empty fingerprint on
// a graph-side entity always counts as changed.
type EntityStatus struct {
	LastUpdated     time.Time  `json:"last_updated,omitzero"`
	LastSeen        *time.Time `json:"last_seen,omitempty"`
	DiscoverySource string     `json:"discovery_source,omitempty"`
	Generation      int        `json:"generation"`
	IsOrphan        bool       `json:"is_orphan"`
	Fingerprint     string     `json:"fingerprint,omitempty"`
}

// Entity is a typed, namespaced record discovered from an external system.
// The spec is opaque to the framework; its schema belongs to the provider
// that produced the entity.
type Entity struct {
	APIVersion string         `json:"apiVersion"`
	Kind       string         `json:"kind"`
	Metadata   EntityMetadata `json:"metadata"`
	Spec       map[string]any `json:"spec,omitempty"`
	Status     EntityStatus   `json:"status"`
}

// New creates an entity with a fresh metadata UID and a defaulted namespace.
func New(apiVersion, kind, name, namespace string) Entity {
	if namespace == "" {
		namespace = "default"
	}
	return Entity{
		APIVersion: apiVersion,
		Kind:       kind,
		Metadata: EntityMetadata{
			Name:      name,
			Namespace: namespace,
			UID:       uuid.NewString(),
		},
		Status: EntityStatus{Generation: 1},
	}
}

// ID returns the identity string apiVersion/kind/namespace/name.
func (e *Entity) ID() string {
	return fmt.Sprintf("%s/%s/%s/%s", e.APIVersion, e.Kind, e.Metadata.Namespace, e.Metadata.Name)
}

func (e *Entity) Name() string      { return e.Metadata.Name }
func (e *Entity) Namespace() string { return e.Metadata.Namespace }

// Group returns the group part of the apiVersion, or "" for ungrouped versions.
func (e *Entity) Group() string {
	return splitAPIVersion(e.APIVersion, 0)
}

// Version returns the version part of the apiVersion.
func (e *Entity) Version() string {
	return splitAPIVersion(e.APIVersion, 1)
}

// Plural returns the lowercased plural form of the kind, used in API paths.
func (e *Entity) Plural() string {
	return Pluralize(e.Kind)
}

// Reference returns the identity-only view of the entity.
func (e *Entity) Reference() EntityReference {
	return EntityReference{
		APIVersion: e.APIVersion,
		Kind:       e.Kind,
		Name:       e.Metadata.Name,
		Namespace:  e.Metadata.Namespace,
	}
}

// MarkUpdated stamps the entity as freshly written by the given provider
// instance: bumps the generation, refreshes the timestamps, records
// ownership, and clears any orphan flag.
func (e *Entity) MarkUpdated(source string) {
	now := time.Now().UTC()
	e.Status.LastUpdated = now
	e.Status.LastSeen = &now
	e.Status.Generation++
	if source != "" {
		e.Status.DiscoverySource = source
	}
	e.Status.IsOrphan = false
}

// MarkOrphan flags the entity as no longer backed by its source.
func (e *Entity) MarkOrphan() {
	e.Status.IsOrphan = true
	e.Status.LastUpdated = time.Now().UTC()
}

// IsStale reports whether the entity has not been seen within maxAge.
func (e *Entity) IsStale(maxAge time.Duration) bool {
	if e.Status.LastSeen == nil {
		return true
	}
	return time.Since(*e.Status.LastSeen) > maxAge
}

func splitAPIVersion(apiVersion string, part int) string {
	if !strings.Contains(apiVersion, "/") {
		if part == 1 {
			return apiVersion
		}
		return ""
	}
	parts := strings.SplitN(apiVersion, "/", 2)
	return parts[part]
}

// Pluralize returns the lowercased plural of a kind name. It covers the
// inflections that occur in entity kinds; anything irregular beyond these
// rules should set an explicit plural on its definition.
func Pluralize(kind string) string {
	k := strings.ToLower(kind)
	switch {
	case strings.HasSuffix(k, "s"), strings.HasSuffix(k, "x"),
		strings.HasSuffix(k, "z"), strings.HasSuffix(k, "ch"),
		strings.HasSuffix(k, "sh"):
		return k + "es"
	case strings.HasSuffix(k, "y") && len(k) > 1 && !isVowel(k[len(k)-2]):
		return k[:len(k)-1] + "ies"
	default:
		return k + "s"
	}
}

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
