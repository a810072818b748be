package entity

// RelationMutation is either a concrete EntityRelation or a
// FieldSelectedEntityRelation. The applier decides once, at apply time, which
// shape it is dealing with.
type RelationMutation struct {
	Relation      *EntityRelation              `json:"relation,omitempty"`
	FieldSelected *FieldSelectedEntityRelation `json:"field_selected,omitempty"`
}

// Concrete wraps a concrete relation.
func Concrete(r EntityRelation) RelationMutation {
	return RelationMutation{Relation: &r}
}

// Selected wraps a field-selected relation.
func Selected(r FieldSelectedEntityRelation) RelationMutation {
	return RelationMutation{FieldSelected: &r}
}

// GraphMutations is the unit of work produced by one reconciliation pass.
// Ordering within a list carries no meaning; the applier fixes the ordering
// between the lists.
type GraphMutations struct {
	CreateEntities  []Entity
	DeleteEntities  []EntityReference
	CreateRelations []RelationMutation
	DeleteRelations []RelationMutation
}

// IsEmpty reports whether the mutation set would change nothing.
func (m GraphMutations) IsEmpty() bool {
	return len(m.CreateEntities) == 0 &&
		len(m.DeleteEntities) == 0 &&
		len(m.CreateRelations) == 0 &&
		len(m.DeleteRelations) == 0
}

// Merge appends the other mutation set onto this one.
func (m *GraphMutations) Merge(other GraphMutations) {
	m.CreateEntities = append(m.CreateEntities, other.CreateEntities...)
	m.DeleteEntities = append(m.DeleteEntities, other.DeleteEntities...)
	m.CreateRelations = append(m.CreateRelations, other.CreateRelations...)
	m.DeleteRelations = append(m.DeleteRelations, other.DeleteRelations...)
}
