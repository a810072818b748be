package scheduler

import (
	"context"
	"fmt"

	"github.com/entgraph/discovery/internal/apply"
	"github.com/entgraph/discovery/pkg/entity"
	"github.com/entgraph/discovery/pkg/graph"
	"github.com/entgraph/discovery/pkg/logger"
	"github.com/entgraph/discovery/pkg/provider"
)

// Applier is what a pass needs to make mutations real. *apply.Applier is the
// production implementation.
type Applier interface {
	Apply(ctx context.Context, mutations entity.GraphMutations, owner string, definitions []entity.Definition) apply.Result
}

// EntityLister is the read side of the graph used to fetch a provider's
// recorded state. *graph.Client is the production implementation.
type EntityLister interface {
	ListEntities(ctx context.Context, params graph.ListEntitiesParams) (*graph.EntityPage, error)
}

const existingPageSize = 100

// runPass executes one reconciliation pass for a provider. Nothing escapes:
// a failed discovery or listing yields an empty mutation set so a broken
// source applies no changes.
func (o *Orchestrator) runPass(ctx context.Context, p provider.Provider) apply.Result {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("reconciliation pass panicked", "provider", p.Name(), "panic", r)
		}
	}()

	mutations, err := o.buildMutations(ctx, p)
	if err != nil {
		logger.Error("reconciliation pass failed, applying no changes",
			"provider", p.Name(),
			"err", err,
		)
		return apply.Result{}
	}
	if mutations.IsEmpty() {
		logger.Debug("nothing to reconcile", "provider", p.Name())
		return apply.Result{}
	}

	logger.Info("reconciliation summary",
		"provider", p.Name(),
		"entities_to_create", len(mutations.CreateEntities),
		"entities_to_delete", len(mutations.DeleteEntities),
		"relations_to_create", len(mutations.CreateRelations),
		"relations_to_delete", len(mutations.DeleteRelations),
	)

	return o.applier.Apply(ctx, mutations, p.Name(), p.Definitions())
}

func (o *Orchestrator) buildMutations(ctx context.Context, p provider.Provider) (entity.GraphMutations, error) {
	switch provider.ShapeOf(p) {
	case provider.ShapeReconciler:
		return p.(provider.Reconciler).Reconcile(ctx, o.client)

	case provider.ShapeDiscoverer:
		return o.reconcileDiscoverer(ctx, p.(provider.Discoverer))

	default:
		// Definition-only providers never produce mutations.
		return entity.GraphMutations{}, nil
	}
}

// reconcileDiscoverer diffs a source's reported truth against the graph's
// recorded state for this provider and appends IS_A meta-type edges.
func (o *Orchestrator) reconcileDiscoverer(ctx context.Context, p provider.Discoverer) (entity.GraphMutations, error) {
	current, relations, err := p.DiscoverCurrentEntities(ctx)
	if err != nil {
		return entity.GraphMutations{}, fmt.Errorf("discover current entities: %w", err)
	}

	existing, existingRelations, err := o.existingState(ctx, p)
	if err != nil {
		return entity.GraphMutations{}, fmt.Errorf("fetch recorded state: %w", err)
	}

	creates, updates, deletes := o.strategy.Reconcile(current, existing, p.Name())

	var mutations entity.GraphMutations
	mutations.CreateEntities = append(creates, updates...)
	mutations.DeleteEntities = deletes

	// Meta-type edges take part in the diff like any other desired relation,
	// so unchanged IS_A edges are not churned every pass.
	metaEntities, metaRelations := metaTypeRelations(p, current)
	mutations.CreateEntities = append(mutations.CreateEntities, metaEntities...)
	relations = append(relations, metaRelations...)

	createRel, deleteRel := diffRelations(relations, existingRelations, p.Name())
	mutations.CreateRelations = createRel
	mutations.DeleteRelations = deleteRel

	// Selector relations cannot be diffed by signature; the applier resolves
	// them against the live graph and creation is idempotent.
	if src, ok := p.(provider.SelectedRelationSource); ok {
		for _, r := range src.SelectedRelations() {
			mutations.CreateRelations = append(mutations.CreateRelations, entity.Selected(r))
		}
	}

	return mutations, nil
}

// existingState pages through the graph and keeps the entities and relations
// this provider is responsible for: entities of its declared kinds, relations
// carrying its ownership label.
func (o *Orchestrator) existingState(ctx context.Context, p provider.Provider) ([]entity.Entity, []entity.EntityRelation, error) {
	managedKinds := map[string]struct{}{}
	for _, def := range p.Definitions() {
		managedKinds[def.Kind] = struct{}{}
	}
	owner := "provider:" + p.Name()

	var entities []entity.Entity
	var relations []entity.EntityRelation
	offset := 0
	for {
		page, err := o.lister.ListEntities(ctx, graph.ListEntitiesParams{
			Limit:            existingPageSize,
			Offset:           offset,
			IncludeRelations: true,
		})
		if err != nil {
			return nil, nil, err
		}

		for _, e := range page.PrimaryEntities {
			if _, managed := managedKinds[e.Kind]; managed {
				entities = append(entities, e)
			}
		}
		for _, r := range page.Relations {
			if r.ManagedBy() == owner {
				relations = append(relations, r)
			}
		}

		if len(page.PrimaryEntities) < existingPageSize {
			break
		}
		offset += existingPageSize
	}

	logger.Debug("fetched recorded state",
		"provider", p.Name(),
		"entities", len(entities),
		"relations", len(relations),
	)
	return entities, relations, nil
}

// diffRelations computes relation creates and deletes by signature. Only
// relations owned by this provider are ever deleted; creates are idempotent
// so re-creating an unchanged relation is harmless but skipped anyway.
func diffRelations(desired, existing []entity.EntityRelation, providerName string) (creates, deletes []entity.RelationMutation) {
	owner := "provider:" + providerName

	desiredSigs := make(map[string]struct{}, len(desired))
	for i := range desired {
		r := &desired[i]
		if r.Metadata.Labels == nil {
			r.Metadata.Labels = map[string]string{}
		}
		if r.Metadata.Labels[entity.ManagedByLabel] == "" {
			r.Metadata.Labels[entity.ManagedByLabel] = owner
		}
		desiredSigs[r.Signature()] = struct{}{}
	}

	existingSigs := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		existingSigs[r.Signature()] = struct{}{}
	}

	for _, r := range desired {
		if _, present := existingSigs[r.Signature()]; present {
			continue
		}
		creates = append(creates, entity.Concrete(r))
	}
	for _, r := range existing {
		if _, wanted := desiredSigs[r.Signature()]; wanted {
			continue
		}
		if r.ManagedBy() != owner {
			continue
		}
		deletes = append(deletes, entity.Concrete(r))
	}
	return creates, deletes
}

// metaTypeRelations builds the shared meta-type entities and one IS_A edge
// per discovered entity whose definition declares a meta-type alignment. Each
// meta entity is emitted once per namespace per pass.
func metaTypeRelations(p provider.Provider, entities []entity.Entity) ([]entity.Entity, []entity.EntityRelation) {
	kindToMeta := map[string]string{}
	for _, def := range p.Definitions() {
		if def.MetaType != "" {
			kindToMeta[def.Kind] = def.MetaType
		}
	}
	if len(kindToMeta) == 0 {
		return nil, nil
	}

	var metaEntities []entity.Entity
	var relations []entity.EntityRelation
	emitted := map[string]struct{}{}

	for _, e := range entities {
		metaType, aligned := kindToMeta[e.Kind]
		if !aligned {
			continue
		}

		key := metaType + "/" + e.Namespace()
		if _, done := emitted[key]; !done {
			meta, err := newMetaEntity(metaType, e.Namespace())
			if err != nil {
				logger.Warn("skipping unknown meta type", "meta_type", metaType, "kind", e.Kind)
				continue
			}
			metaEntities = append(metaEntities, meta)
			emitted[key] = struct{}{}
		}

		relations = append(relations, entity.NewManagedRelation(p.Name(), "IS_A", e.Reference(), entity.EntityReference{
			APIVersion: entity.MetaAPIVersion,
			Kind:       metaType,
			Name:       metaEntityName(metaType),
			Namespace:  e.Namespace(),
		}, e.Namespace()))
	}

	return metaEntities, relations
}

func metaEntityName(metaType string) string {
	switch metaType {
	case entity.MetaTypeTeam:
		return "team"
	case entity.MetaTypeWorkstream:
		return "workstream"
	default:
		return ""
	}
}

func newMetaEntity(metaType, namespace string) (entity.Entity, error) {
	name := metaEntityName(metaType)
	if name == "" {
		return entity.Entity{}, fmt.Errorf("unknown meta type %q", metaType)
	}

	e := entity.New(entity.MetaAPIVersion, metaType, name, namespace)
	switch metaType {
	case entity.MetaTypeTeam:
		e.Spec = map[string]any{
			"display_name": "Team",
			"description":  "Base meta type for teams and organizations",
		}
	case entity.MetaTypeWorkstream:
		e.Spec = map[string]any{
			"display_name": "Workstream",
			"description":  "Base meta type for workstreams and initiatives",
		}
	}
	return e, nil
}
