package reconcile

import (
	"github.com/entgraph/discovery/pkg/entity"
	"github.com/entgraph/discovery/pkg/logger"
)

// Strategy turns two entity sets into a mutation plan. Implementations are
// pure: same inputs, same outputs, no side effects beyond logging.
type Strategy interface {
	Reconcile(current, existing []entity.Entity, ownerID string) (creates, updates []entity.Entity, deletes []entity.EntityReference)
}

// FullState diffs the complete current state of a source against the graph's
// recorded state for one owner. This is the default strategy.
type FullState struct{}

// NewFullState returns the default full-state strategy.
func NewFullState() *FullState {
	return &FullState{}
}

// Reconcile computes creates, updates and deletes so the graph converges to
// the current set.
//
// Deletes are ownership guarded: an existing entity is only queued for
// deletion when its discovery source equals ownerID. Entities owned by
// another provider are left alone and logged, and entities with no recorded
// owner are never deleted.
func (s *FullState) Reconcile(current, existing []entity.Entity, ownerID string) ([]entity.Entity, []entity.Entity, []entity.EntityReference) {
	existingByID := make(map[string]entity.Entity, len(existing))
	for _, e := range existing {
		existingByID[e.ID()] = e
	}
	currentByID := make(map[string]struct{}, len(current))
	for i := range current {
		currentByID[current[i].ID()] = struct{}{}
	}

	var creates, updates []entity.Entity

	for _, cur := range current {
		fp := Fingerprint(cur)

		prev, found := existingByID[cur.ID()]
		if !found {
			cur.Status.Fingerprint = fp
			cur.MarkUpdated(ownerID)
			creates = append(creates, cur)
			continue
		}

		// An empty stored fingerprint always counts as changed.
		if prev.Status.Fingerprint == fp && fp != "" {
			continue
		}

		cur.Status.Fingerprint = fp
		cur.Status.Generation = prev.Status.Generation
		cur.MarkUpdated(ownerID)
		updates = append(updates, cur)
	}

	var deletes []entity.EntityReference

	for _, prev := range existing {
		if _, stillPresent := currentByID[prev.ID()]; stillPresent {
			continue
		}
		switch prev.Status.DiscoverySource {
		case ownerID:
			deletes = append(deletes, prev.Reference())
		case "":
			logger.Warn("skipping delete of entity with unknown ownership",
				"entity", prev.ID(),
				"owner", ownerID,
			)
		default:
			logger.Warn("entity owned by another provider, leaving untouched",
				"entity", prev.ID(),
				"entity_owner", prev.Status.DiscoverySource,
				"owner", ownerID,
			)
		}
	}

	return creates, updates, deletes
}

// Incremental is the strategy slot for sources with native change feeds.
// Until a source supplies a real delta, it degrades to a full-state diff.
type Incremental struct {
	full FullState
}

// NewIncremental returns an incremental strategy.
func NewIncremental() *Incremental {
	return &Incremental{}
}

func (s *Incremental) Reconcile(current, existing []entity.Entity, ownerID string) ([]entity.Entity, []entity.Entity, []entity.EntityReference) {
	return s.full.Reconcile(current, existing, ownerID)
}
