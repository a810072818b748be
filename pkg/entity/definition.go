package entity

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// MetaType names the shared base types an entity kind may align to.
const (
	MetaTypeTeam       = "Team"
	MetaTypeWorkstream = "Workstream"
)

// MetaAPIVersion is the apiVersion shared meta-type entities live under.
const MetaAPIVersion = "entities.entgraph.io/v1"

// DefinitionVersion is one schema version of an entity definition.
type DefinitionVersion struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

// Definition declares an entity type a provider can produce. Registering a
// definition with the graph API is idempotent.
type Definition struct {
	Group    string              `json:"group"`
	Kind     string              `json:"kind"`
	Plural   string              `json:"plural,omitempty"`
	MetaType string              `json:"meta_type,omitempty"`
	Versions []DefinitionVersion `json:"versions"`
}

// PluralName returns the explicit plural if set, otherwise the derived one.
func (d Definition) PluralName() string {
	if d.Plural != "" {
		return d.Plural
	}
	return Pluralize(d.Kind)
}

// SchemaFor reflects a JSON schema from a Go spec type, for use as a
// definition version schema.
func SchemaFor(v any) map[string]any {
	r := jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	s := r.Reflect(v)

	raw, err := json.Marshal(s)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
