package graph

import (
	"errors"
	"fmt"

	"github.com/entgraph/discovery/pkg/entity"
)

// StatusError is returned for any non-2xx graph API response. Callers branch
// on the status code to decide between retry, remediation, and giving up.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("graph api: status %d: %s", e.StatusCode, e.Detail)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// ListEntitiesParams are the query parameters of the entity listing endpoint.
type ListEntitiesParams struct {
	Limit            int
	Offset           int
	FieldSelector    string
	IncludeRelations bool
}

// EntityPage is one page of an entity listing.
type EntityPage struct {
	PrimaryEntities []entity.Entity         `json:"primary_entities"`
	Relations       []entity.EntityRelation `json:"relations,omitempty"`
}

// BulkEntityResult reports the outcome of a bulk entity create.
type BulkEntityResult struct {
	CreatedCount   int             `json:"created_count"`
	FailedCount    int             `json:"failed_count"`
	FailedEntities []entity.Entity `json:"failed_entities,omitempty"`
}

// BulkRelationRequest is the body of the bulk relation create endpoint.
type BulkRelationRequest struct {
	Relations []entity.EntityRelation `json:"relations"`
	Namespace string                  `json:"namespace"`
}

// BulkRelationResult reports the outcome of a bulk relation create.
type BulkRelationResult struct {
	TotalRequested   int                     `json:"total_requested"`
	SuccessCount     int                     `json:"success_count"`
	FailureCount     int                     `json:"failure_count"`
	CreatedRelations []entity.EntityRelation `json:"created_relations,omitempty"`
	FailedRelations  []entity.EntityRelation `json:"failed_relations,omitempty"`
}
