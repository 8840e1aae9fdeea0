package entity

// RelationType is a named, cardinality-constrained relationship class from
// models of one collection to models of another (strong) or to opaque
// external references (weak).
type RelationType struct {
	RelationTypeID             UUID      `json:"_relation_type_id"`
	ProjectID                  UUID      `json:"project_id"`
	RelationType               string    `json:"relation_type"`
	ModelCollectionID          UUID      `json:"model_collection_id"`
	RelatedCollectionID        *UUID     `json:"related_collection_id"`
	RelatedCollectionModelType *string   `json:"related_collection_model_type"`
	Cardinality                int       `json:"cardinality"`
	ModelCardinality           int       `json:"model_cardinality"`
	RelatedCardinality         int       `json:"related_cardinality"`
	IsUnlisted                 bool      `json:"is_unlisted"`
	IsDeletable                bool      `json:"is_deletable"`
	IsReadonly                 bool      `json:"is_readonly"`
	Meta                       Doc       `json:"meta"`
	CreatedAt                  Timestamp `json:"_created_at"`
	UpdatedAt                  Timestamp `json:"_updated_at"`
	RestDisabled               bool      `json:"__is_rest_disabled,omitempty"`
}

// AcceptsStrong reports whether edges may point at local models.
func (rt *RelationType) AcceptsStrong() bool {
	return rt.RelatedCollectionID != nil && !rt.RelatedCollectionID.IsZero()
}

// RelationTypeInput is the payload for creating a relation type.
// Omitted cardinalities default to Unlimited.
type RelationTypeInput struct {
	RelationType               string         `json:"relation_type"`
	ModelCollectionID          UUID           `json:"model_collection_id"`
	RelatedCollectionID        *UUID          `json:"related_collection_id"`
	RelatedCollectionModelType *string        `json:"related_collection_model_type"`
	Cardinality                Optional[int]  `json:"cardinality"`
	ModelCardinality           Optional[int]  `json:"model_cardinality"`
	RelatedCardinality         Optional[int]  `json:"related_cardinality"`
	IsUnlisted                 bool           `json:"is_unlisted"`
	IsDeletable                Optional[bool] `json:"is_deletable"`
	IsReadonly                 bool           `json:"is_readonly"`
	Meta                       Doc            `json:"meta"`
}

// Build creates the relation type row for projectID.
func (in RelationTypeInput) Build(projectID UUID) *RelationType {
	meta := in.Meta
	if meta == nil {
		meta = Doc{}
	}
	return &RelationType{
		RelationTypeID:             NewUUID(),
		ProjectID:                  projectID,
		RelationType:               in.RelationType,
		ModelCollectionID:          in.ModelCollectionID,
		RelatedCollectionID:        in.RelatedCollectionID,
		RelatedCollectionModelType: in.RelatedCollectionModelType,
		Cardinality:                in.Cardinality.Or(Unlimited),
		ModelCardinality:           in.ModelCardinality.Or(Unlimited),
		RelatedCardinality:         in.RelatedCardinality.Or(Unlimited),
		IsUnlisted:                 in.IsUnlisted,
		IsDeletable:                in.IsDeletable.Or(true),
		IsReadonly:                 in.IsReadonly,
		Meta:                       meta,
	}
}

// Relation is a persisted edge. Exactly one of RelatedID and WeakRelatedID is set.
type Relation struct {
	RelationID     UUID      `json:"relation_id"`
	RelationTypeID UUID      `json:"_relation_type_id"`
	ModelID        UUID      `json:"model_id"`
	RelatedID      *UUID     `json:"related_id"`
	WeakRelatedID  *string   `json:"weak_related_id"`
	SortOrder      int       `json:"sort_order"`
	IsUnlisted     bool      `json:"is_unlisted"`
	Meta           Doc       `json:"meta"`
	CreatedAt      Timestamp `json:"_created_at"`
	UpdatedAt      Timestamp `json:"_updated_at"`
}

// IsWeak reports whether the edge targets an opaque external reference.
func (r *Relation) IsWeak() bool {
	return r.WeakRelatedID != nil
}

// Target returns the related id or the weak reference as text.
func (r *Relation) Target() string {
	if r.RelatedID != nil {
		return r.RelatedID.String()
	}
	if r.WeakRelatedID != nil {
		return *r.WeakRelatedID
	}
	return ""
}
