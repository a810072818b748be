package apply

import (
	"context"
	"errors"
	"time"

	"github.com/entgraph/discovery/pkg/entity"
	"github.com/entgraph/discovery/pkg/graph"
	"github.com/entgraph/discovery/pkg/logger"
)

const (
	// bulkMaxAttempts bounds how often a rate-limited entity batch is tried.
	bulkMaxAttempts = 3
	// initialRetryDelay doubles after every rate-limited attempt.
	initialRetryDelay = 1 * time.Second

	// relationBatchSize caps relations per bulk request.
	relationBatchSize = 100

	// selectorMatchLimit caps how many entities one field selector may
	// resolve to. Hitting it usually means the selector is under-specific.
	selectorMatchLimit = 100
)

// Result aggregates what one Apply call did. Partial failures surface here as
// counts, never as errors.
type Result struct {
	EntitiesDeleted  int
	EntitiesCreated  int
	EntitiesFailed   int
	RelationsDeleted int
	RelationsCreated int
	RelationsFailed  int
}

// Applier pushes a mutation plan to the graph API with batching, bounded
// retries and one-by-one fallbacks.
type Applier struct {
	client *graph.Client

	// sleep is swappable so tests do not wait out real backoff delays.
	sleep func(ctx context.Context, d time.Duration)
}

// New creates an applier over the shared graph client.
func New(client *graph.Client) *Applier {
	return &Applier{
		client: client,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Apply makes the mutation plan real. The order is fixed: entity deletes,
// entity creates, selector resolution, relation deletes, relation creates.
// Definitions are the owner's schemas, registered on demand when a bulk
// create hits a missing-definition 404.
func (a *Applier) Apply(ctx context.Context, mutations entity.GraphMutations, owner string, definitions []entity.Definition) Result {
	var res Result

	a.deleteEntities(ctx, mutations.DeleteEntities, &res)
	a.createEntities(ctx, mutations.CreateEntities, owner, definitions, &res)

	creates := a.resolveRelations(ctx, mutations.CreateRelations)
	deletes := a.resolveRelations(ctx, mutations.DeleteRelations)

	a.deleteRelations(ctx, deletes, &res)
	a.createRelations(ctx, creates, &res)

	logger.Info("mutation apply complete",
		"owner", owner,
		"entities_created", res.EntitiesCreated,
		"entities_deleted", res.EntitiesDeleted,
		"entities_failed", res.EntitiesFailed,
		"relations_created", res.RelationsCreated,
		"relations_deleted", res.RelationsDeleted,
		"relations_failed", res.RelationsFailed,
	)
	return res
}

func (a *Applier) deleteEntities(ctx context.Context, refs []entity.EntityReference, res *Result) {
	for _, ref := range refs {
		if err := a.client.DeleteEntity(ctx, ref); err != nil {
			logger.Error("failed to delete entity", "entity", ref.ID(), "err", err)
			continue
		}
		logger.Info("deleted entity", "entity", ref.ID())
		res.EntitiesDeleted++
	}
}

type definitionKey struct {
	group, version, namespace, plural string
}

func (a *Applier) createEntities(ctx context.Context, entities []entity.Entity, owner string, definitions []entity.Definition, res *Result) {
	if len(entities) == 0 {
		return
	}

	groups := map[definitionKey][]entity.Entity{}
	var order []definitionKey
	for i := range entities {
		e := &entities[i]
		e.MarkUpdated(owner)
		key := definitionKey{e.Group(), e.Version(), e.Namespace(), e.Plural()}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], *e)
	}

	logger.Info("creating entities",
		"owner", owner,
		"count", len(entities),
		"entity_types", len(groups),
	)

	for _, key := range order {
		a.createEntityBatch(ctx, key, groups[key], owner, definitions, res)
	}
}

func (a *Applier) createEntityBatch(ctx context.Context, key definitionKey, batch []entity.Entity, owner string, definitions []entity.Definition, res *Result) {
	retryDelay := initialRetryDelay
	registeredDefinitions := false

	// The one-time definition registration after a 404 does not consume a
	// rate-limit attempt: the batch is retried immediately.
	for attempt := 1; attempt <= bulkMaxAttempts; {
		result, err := a.client.BulkCreateEntities(ctx, key.group, key.version, key.namespace, key.plural, batch)
		if err == nil {
			res.EntitiesCreated += result.CreatedCount
			res.EntitiesFailed += result.FailedCount
			for i, failed := range result.FailedEntities {
				if i == 5 {
					logger.Error("more entity creations failed", "count", result.FailedCount-5)
					break
				}
				logger.Error("failed to create entity", "entity", failed.ID())
			}
			return
		}

		switch {
		case graph.IsStatus(err, 503):
			if attempt == bulkMaxAttempts {
				logger.Error("rate limited, giving up on batch",
					"attempts", attempt,
					"entities", len(batch),
				)
				res.EntitiesFailed += len(batch)
				return
			}
			logger.Warn("rate limited, retrying batch",
				"retry_in", retryDelay,
				"attempt", attempt,
			)
			a.sleep(ctx, retryDelay)
			retryDelay *= 2
			attempt++

		case graph.IsStatus(err, 404):
			// Definitions may not be registered yet. Register once and
			// retry only if something was actually created.
			if registeredDefinitions {
				logger.Error("still missing definitions after registering, giving up on batch", "err", err)
				res.EntitiesFailed += len(batch)
				return
			}
			registeredDefinitions = true
			if !a.registerDefinitions(ctx, owner, definitions) {
				logger.Warn("definitions already registered, 404 has another cause", "err", err)
				res.EntitiesFailed += len(batch)
				return
			}

		default:
			var se *graph.StatusError
			if errors.As(err, &se) {
				logger.Error("bulk entity creation failed",
					"status", se.StatusCode,
					"detail", se.Detail,
				)
				res.EntitiesFailed += len(batch)
				return
			}

			// Transport-level failure: the bulk endpoint may be broken
			// while single creates still work.
			logger.Warn("bulk entity creation errored, falling back to one-by-one",
				"entities", len(batch),
				"err", err,
			)
			for _, e := range batch {
				if cerr := a.client.CreateEntity(ctx, e); cerr != nil {
					logger.Error("failed to create entity", "entity", e.ID(), "err", cerr)
					res.EntitiesFailed++
					continue
				}
				res.EntitiesCreated++
			}
			return
		}
	}

	// Every exit above accounts for the batch; this keeps the invariant if
	// one ever stops doing so.
	res.EntitiesFailed += len(batch)
}

// registerDefinitions registers all of the owner's definitions and reports
// whether at least one was newly created (as opposed to already existing).
func (a *Applier) registerDefinitions(ctx context.Context, owner string, definitions []entity.Definition) bool {
	createdAny := false
	for _, def := range definitions {
		created, err := a.client.CreateDefinition(ctx, def)
		if err != nil {
			logger.Warn("failed to register definition",
				"owner", owner,
				"kind", def.Kind,
				"err", err,
			)
			continue
		}
		if created {
			logger.Info("registered missing definition", "owner", owner, "kind", def.Kind)
			createdAny = true
		}
	}
	return createdAny
}

// resolveRelations splits a mutation list into concrete relations, resolving
// field-selected ones against the live graph.
func (a *Applier) resolveRelations(ctx context.Context, muts []entity.RelationMutation) []entity.EntityRelation {
	var out []entity.EntityRelation
	for _, m := range muts {
		switch {
		case m.Relation != nil:
			out = append(out, *m.Relation)
		case m.FieldSelected != nil:
			out = append(out, a.resolveFieldSelected(ctx, *m.FieldSelected)...)
		}
	}
	return out
}

// resolveFieldSelected materializes one concrete relation per resolved
// (source, target) combination.
func (a *Applier) resolveFieldSelected(ctx context.Context, fs entity.FieldSelectedEntityRelation) []entity.EntityRelation {
	sources, ok := a.resolveEndpoint(ctx, fs.Source, fs.SourceSelector, fs.Relation, "source")
	if !ok {
		return nil
	}
	targets, ok := a.resolveEndpoint(ctx, fs.Target, fs.TargetSelector, fs.Relation, "target")
	if !ok {
		return nil
	}

	out := make([]entity.EntityRelation, 0, len(sources)*len(targets))
	for _, src := range sources {
		for _, dst := range targets {
			out = append(out, entity.EntityRelation{
				Namespace: fs.Namespace,
				Relation:  fs.Relation,
				Source:    src,
				Target:    dst,
				Spec:      fs.Spec,
				Metadata:  fs.Metadata,
			})
		}
	}
	return out
}

func (a *Applier) resolveEndpoint(ctx context.Context, concrete *entity.EntityReference, selector *entity.FieldSelector, relation, side string) ([]entity.EntityReference, bool) {
	if concrete != nil {
		return []entity.EntityReference{*concrete}, true
	}
	if selector == nil {
		logger.Error("field-selected relation has no endpoint", "relation", relation, "side", side)
		return nil, false
	}

	refs, err := a.resolveSelector(ctx, *selector)
	if err != nil {
		logger.Error("failed to resolve field selector",
			"relation", relation,
			"side", side,
			"selector", selector.String(),
			"err", err,
		)
		return nil, false
	}
	if len(refs) == 0 {
		logger.Warn("field selector matched no entities",
			"relation", relation,
			"side", side,
			"selector", selector.String(),
		)
		return nil, false
	}
	return refs, true
}

func (a *Applier) resolveSelector(ctx context.Context, sel entity.FieldSelector) ([]entity.EntityReference, error) {
	page, err := a.client.ListEntities(ctx, graph.ListEntitiesParams{
		FieldSelector: sel.String(),
		Limit:         selectorMatchLimit,
	})
	if err != nil {
		return nil, err
	}

	refs := make([]entity.EntityReference, 0, len(page.PrimaryEntities))
	for i := range page.PrimaryEntities {
		ref := page.PrimaryEntities[i].Reference()
		if !sel.Matches(ref) {
			continue
		}
		refs = append(refs, ref)
	}

	if len(page.PrimaryEntities) == selectorMatchLimit {
		logger.Warn("field selector hit the match limit, results may be truncated",
			"selector", sel.String(),
			"limit", selectorMatchLimit,
		)
	}
	return refs, nil
}

func (a *Applier) deleteRelations(ctx context.Context, relations []entity.EntityRelation, res *Result) {
	for _, r := range relations {
		if err := a.client.DeleteRelation(ctx, r); err != nil {
			logger.Error("failed to delete relation",
				"relation", r.Relation,
				"source", r.Source.ID(),
				"target", r.Target.ID(),
				"err", err,
			)
			continue
		}
		res.RelationsDeleted++
	}
}

func (a *Applier) createRelations(ctx context.Context, relations []entity.EntityRelation, res *Result) {
	if len(relations) == 0 {
		return
	}

	byNamespace := map[string][]entity.EntityRelation{}
	var order []string
	for _, r := range relations {
		if _, seen := byNamespace[r.Namespace]; !seen {
			order = append(order, r.Namespace)
		}
		byNamespace[r.Namespace] = append(byNamespace[r.Namespace], r)
	}

	for _, namespace := range order {
		list := byNamespace[namespace]
		logger.Info("creating relations", "namespace", namespace, "count", len(list))

		for start := 0; start < len(list); start += relationBatchSize {
			end := min(start+relationBatchSize, len(list))
			a.createRelationBatch(ctx, namespace, list[start:end], res)
		}
	}
}

func (a *Applier) createRelationBatch(ctx context.Context, namespace string, batch []entity.EntityRelation, res *Result) {
	result, err := a.client.BulkCreateRelations(ctx, namespace, batch)
	if err == nil {
		res.RelationsCreated += result.SuccessCount
		res.RelationsFailed += result.FailureCount
		for _, failed := range result.FailedRelations {
			logger.Error("failed to create relation",
				"relation", failed.Relation,
				"source", failed.Source.ID(),
				"target", failed.Target.ID(),
			)
		}
		return
	}

	// The bulk endpoint failed outright; fall back to one-by-one for this
	// batch only.
	logger.Warn("bulk relation creation failed, falling back to one-by-one",
		"namespace", namespace,
		"relations", len(batch),
		"err", err,
	)
	for _, r := range batch {
		if cerr := a.client.CreateRelation(ctx, r); cerr != nil {
			logger.Error("failed to create relation",
				"relation", r.Relation,
				"source", r.Source.ID(),
				"target", r.Target.ID(),
				"err", cerr,
			)
			res.RelationsFailed++
			continue
		}
		res.RelationsCreated++
	}
}
