// Package meta registers the shared meta-type definitions that concrete
// entity kinds align to through IS_A relations.
package meta

import (
	"github.com/entgraph/discovery/pkg/entity"
	"github.com/entgraph/discovery/pkg/provider"
)

// Type is the provider type name used in configuration.
const Type = "meta"

type teamSpec struct {
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
	Contact     string `json:"contact,omitempty"`
}

type workstreamSpec struct {
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

// Provider is definition-only: it registers the meta-type schemas at startup
// and never produces mutations.
type Provider struct {
	provider.Base
}

// New builds a meta provider. The config block is ignored.
func New(settings provider.Settings, _ map[string]any) (provider.Provider, error) {
	return &Provider{
		Base: provider.Base{
			InstanceName: settings.Name,
			Ns:           "default",
			Every:        settings.Every,
		},
	}, nil
}

func (p *Provider) Definitions() []entity.Definition {
	return []entity.Definition{
		{
			Group: "entities.entgraph.io",
			Kind:  entity.MetaTypeTeam,
			Versions: []entity.DefinitionVersion{
				{Name: "v1", Schema: entity.SchemaFor(teamSpec{})},
			},
		},
		{
			Group: "entities.entgraph.io",
			Kind:  entity.MetaTypeWorkstream,
			Versions: []entity.DefinitionVersion{
				{Name: "v1", Schema: entity.SchemaFor(workstreamSpec{})},
			},
		},
	}
}
