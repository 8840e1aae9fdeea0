package relationships

import (
	"context"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/query"
)

// Edge is a relation with its resolved target. Target is nil for weak
// references and for strong targets that no longer exist.
type Edge struct {
	Relation *entity.Relation `json:"relation"`
	Target   *entity.Model    `json:"target"`
}

// GetRelation returns a single edge.
func (e *Engine) GetRelation(ctx context.Context, id entity.UUID) (*entity.Relation, error) {
	rels, err := e.selectRelations(ctx, e.conn(ctx), query.And(query.Cond("relation_id", query.OpEq, string(id))))
	if err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return nil, errs.NotFound("relation", id)
	}
	return rels[0], nil
}

// ListRelations returns the edges leaving a model ordered by sort_order.
// An empty relationType lists the edges of every type.
func (e *Engine) ListRelations(ctx context.Context, modelID entity.UUID, relationType string) ([]*entity.Relation, error) {
	g := query.And(query.Cond("model_id", query.OpEq, string(modelID)))
	if relationType != "" {
		src, err := e.sourceModel(ctx, modelID)
		if err != nil {
			return nil, err
		}
		rt, err := e.GetRelationTypeByName(ctx, src.ProjectID, relationType)
		if err != nil {
			return nil, err
		}
		g.Add(query.Cond("_relation_type_id", query.OpEq, string(rt.RelationTypeID)))
	}
	rels, err := e.selectRelations(ctx, e.conn(ctx), g)
	if err != nil {
		return nil, err
	}
	if rels == nil {
		rels = []*entity.Relation{}
	}
	return rels, nil
}

// ListReferencing returns the strong edges pointing at a model.
func (e *Engine) ListReferencing(ctx context.Context, relatedID entity.UUID) ([]*entity.Relation, error) {
	return e.selectRelations(ctx, e.conn(ctx), query.And(query.Cond("related_id", query.OpEq, string(relatedID))))
}

// Resolve loads the targets of rels with one model query.
func (e *Engine) Resolve(ctx context.Context, rels []*entity.Relation) ([]Edge, error) {
	var ids []entity.UUID
	for _, r := range rels {
		if r.RelatedID != nil {
			ids = append(ids, *r.RelatedID)
		}
	}
	models, err := e.store.GetModels(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Edge, len(rels))
	for i, r := range rels {
		out[i] = Edge{Relation: r}
		if r.RelatedID != nil {
			out[i].Target = models[*r.RelatedID]
		}
	}
	return out, nil
}

// LoadRelated resolves the edges of one relation type for many source models
// at once, grouped by source model id. Every requested model gets an entry,
// empty when it has no edges.
func (e *Engine) LoadRelated(ctx context.Context, relationTypeID entity.UUID, modelIDs []entity.UUID) (map[entity.UUID][]Edge, error) {
	out := make(map[entity.UUID][]Edge, len(modelIDs))
	if len(modelIDs) == 0 {
		return out, nil
	}
	ids := make([]any, 0, len(modelIDs))
	for _, id := range modelIDs {
		if _, seen := out[id]; !seen {
			out[id] = []Edge{}
			ids = append(ids, string(id))
		}
	}
	rels, err := e.selectRelations(ctx, e.conn(ctx), query.And(
		query.Cond("_relation_type_id", query.OpEq, string(relationTypeID)),
		query.Cond("model_id", query.OpIn, ids),
	))
	if err != nil {
		return nil, err
	}
	edges, err := e.Resolve(ctx, rels)
	if err != nil {
		return nil, err
	}
	for _, edge := range edges {
		src := edge.Relation.ModelID
		out[src] = append(out[src], edge)
	}
	return out, nil
}
