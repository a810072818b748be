package provider

import (
	"context"
	"time"

	"github.com/entgraph/discovery/pkg/entity"
	"github.com/entgraph/discovery/pkg/graph"
)

// Provider is a connector to one external system. Name and Interval form the
// scheduling and ownership identity of the instance; Definitions are
// registered with the graph once at startup.
type Provider interface {
	Name() string
	Namespace() string
	Interval() time.Duration
	Definitions() []entity.Definition
}

// Discoverer is the default provider shape: the source reports its complete
// current truth and the framework diffs it against the graph.
type Discoverer interface {
	Provider
	DiscoverCurrentEntities(ctx context.Context) ([]entity.Entity, []entity.EntityRelation, error)
}

// Reconciler is the shape for sources that own their own diffing and produce
// a ready-made mutation plan.
type Reconciler interface {
	Provider
	Reconcile(ctx context.Context, client *graph.Client) (entity.GraphMutations, error)
}

// SelectedRelationSource is an optional extension for discoverers whose
// sources reference entities by field selector instead of graph identity.
// SelectedRelations returns the selector relations produced by the most
// recent DiscoverCurrentEntities call; they are resolved at apply time.
type SelectedRelationSource interface {
	SelectedRelations() []entity.FieldSelectedEntityRelation
}

// Base carries the instance identity shared by every provider. Embed it and
// implement Definitions plus the capability methods of the chosen shape.
type Base struct {
	InstanceName string
	Ns           string
	Every        time.Duration
}

func (b Base) Name() string      { return b.InstanceName }
func (b Base) Namespace() string { return b.Ns }

func (b Base) Interval() time.Duration {
	if b.Every <= 0 {
		return time.Minute
	}
	return b.Every
}

// Shape classifies a provider once, at registration time.
type Shape int

const (
	// ShapeDefinitionOnly providers register schemas and never produce
	// mutations.
	ShapeDefinitionOnly Shape = iota
	ShapeDiscoverer
	ShapeReconciler
)

func (s Shape) String() string {
	switch s {
	case ShapeDiscoverer:
		return "discoverer"
	case ShapeReconciler:
		return "reconciler"
	default:
		return "definition-only"
	}
}

// ShapeOf probes a provider's capabilities. A provider implementing both
// Reconcile and DiscoverCurrentEntities is treated as a Reconciler since it
// asked for control of its own diffing.
func ShapeOf(p Provider) Shape {
	if _, ok := p.(Reconciler); ok {
		return ShapeReconciler
	}
	if _, ok := p.(Discoverer); ok {
		return ShapeDiscoverer
	}
	return ShapeDefinitionOnly
}
