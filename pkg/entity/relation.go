package entity

import (
	"fmt"
	"strings"
)

// ManagedByLabel records which provider instance owns a relation. It is part
// of the relation's identity for reconciliation: two relations with the same
// endpoints and type but different owners are distinct.
const ManagedByLabel = "managed-by"

// RelationMetadata carries ownership labels and free-form annotations on a
// relation.
type RelationMetadata struct {
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// EntityRelation is a directed, typed edge between two entities.
type EntityRelation struct {
	Namespace string           `json:"namespace"`
	Relation  string           `json:"relation"`
	Source    EntityReference  `json:"source"`
	Target    EntityReference  `json:"target"`
	Spec      map[string]any   `json:"spec,omitempty"`
	Metadata  RelationMetadata `json:"metadata,omitzero"`
}

// ManagedBy returns the relation's ownership label, or "".
func (r EntityRelation) ManagedBy() string {
	return r.Metadata.Labels[ManagedByLabel]
}

// Signature returns the identity of a relation for diffing. Ownership is part
// of the signature.
func (r EntityRelation) Signature() string {
	return fmt.Sprintf("%s::%s::%s::%s", r.Source.ID(), r.Relation, r.Target.ID(), r.ManagedBy())
}

// NewManagedRelation builds a concrete relation owned by the named provider.
func NewManagedRelation(provider, relation string, source, target EntityReference, namespace string) EntityRelation {
	if namespace == "" {
		namespace = "default"
	}
	return EntityRelation{
		Namespace: namespace,
		Relation:  relation,
		Source:    source,
		Target:    target,
		Metadata: RelationMetadata{
			Labels: map[string]string{ManagedByLabel: "provider:" + provider},
		},
	}
}

// FieldSelector picks entities by an exact field match, optionally constrained
// to a kind and apiVersion. The string form is "field=value".
type FieldSelector struct {
	Field      string `json:"field"`
	Value      string `json:"value"`
	APIVersion string `json:"apiVersion,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

// ParseFieldSelector parses a "field=value" selector string.
func ParseFieldSelector(s string) (FieldSelector, error) {
	field, value, ok := strings.Cut(s, "=")
	if !ok {
		return FieldSelector{}, fmt.Errorf("invalid selector %q: expected field=value", s)
	}
	return FieldSelector{
		Field: strings.TrimSpace(field),
		Value: strings.TrimSpace(value),
	}, nil
}

// String renders the selector in its wire form.
func (s FieldSelector) String() string {
	return s.Field + "=" + s.Value
}

// Matches reports whether the reference satisfies the selector's optional
// type constraints. The field/value match itself happens server side.
func (s FieldSelector) Matches(ref EntityReference) bool {
	if s.APIVersion != "" && ref.APIVersion != s.APIVersion {
		return false
	}
	if s.Kind != "" && ref.Kind != s.Kind {
		return false
	}
	return true
}

// FieldSelectedEntityRelation is a relation whose source and/or target is a
// query to be resolved against the live graph at apply time. A provider may
// know "this deployment uses some repository whose URL is X" without knowing
// the repository's graph identity yet.
type FieldSelectedEntityRelation struct {
	Namespace      string           `json:"namespace"`
	Relation       string           `json:"relation"`
	SourceSelector *FieldSelector   `json:"source_selector,omitempty"`
	TargetSelector *FieldSelector   `json:"target_selector,omitempty"`
	Source         *EntityReference `json:"source,omitempty"`
	Target         *EntityReference `json:"target,omitempty"`
	Spec           map[string]any   `json:"spec,omitempty"`
	Metadata       RelationMetadata `json:"metadata,omitzero"`
}

// WithSourceSelector builds a field-selected relation with a selector source
// and a concrete target.
func WithSourceSelector(relation string, selector FieldSelector, target EntityReference, namespace string) FieldSelectedEntityRelation {
	if namespace == "" {
		namespace = "default"
	}
	return FieldSelectedEntityRelation{
		Namespace:      namespace,
		Relation:       relation,
		SourceSelector: &selector,
		Target:         &target,
	}
}

// WithTargetSelector builds a field-selected relation with a concrete source
// and a selector target.
func WithTargetSelector(relation string, source EntityReference, selector FieldSelector, namespace string) FieldSelectedEntityRelation {
	if namespace == "" {
		namespace = "default"
	}
	return FieldSelectedEntityRelation{
		Namespace:      namespace,
		Relation:       relation,
		Source:         &source,
		TargetSelector: &selector,
	}
}

// WithBothSelectors builds a field-selected relation where both endpoints are
// resolved at apply time.
func WithBothSelectors(relation string, source, target FieldSelector, namespace string) FieldSelectedEntityRelation {
	if namespace == "" {
		namespace = "default"
	}
	return FieldSelectedEntityRelation{
		Namespace:      namespace,
		Relation:       relation,
		SourceSelector: &source,
		TargetSelector: &target,
	}
}
