package api

import (
	"context"
	"net/http"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/relationships"
	"github.com/conduit-lang/collections/internal/web/query"
	"github.com/conduit-lang/collections/internal/web/response"
)

func (a *API) relationType(ctx context.Context, projectID, id entity.UUID) (*entity.RelationType, error) {
	rt, err := a.relations.GetRelationType(ctx, id)
	if err != nil {
		return nil, err
	}
	if rt.ProjectID != projectID {
		return nil, errs.NotFound("relation type", id)
	}
	return rt, nil
}

func (a *API) listRelationTypes(w http.ResponseWriter, r *http.Request) {
	syntax, err := query.Parse(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	page, err := a.relations.ListRelationTypes(r.Context(), project(r), syntax)
	if err != nil {
		a.fail(w, err)
		return
	}
	response.List(w, page, nil)
}

func (a *API) createRelationType(w http.ResponseWriter, r *http.Request) {
	var in entity.RelationTypeInput
	if err := decode(r, &in); err != nil {
		a.fail(w, err)
		return
	}
	rt, err := a.relations.CreateRelationType(r.Context(), project(r), in)
	if err != nil {
		a.fail(w, err)
		return
	}
	response.One(w, http.StatusCreated, rt, nil)
}

func (a *API) getRelationType(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, err)
		return
	}
	rt, err := a.relationType(r.Context(), project(r), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	response.One(w, http.StatusOK, rt, nil)
}

func (a *API) deleteRelationType(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, err)
		return
	}
	if _, err := a.relationType(r.Context(), project(r), id); err != nil {
		a.fail(w, err)
		return
	}
	if err := a.relations.DeleteRelationType(r.Context(), id); err != nil {
		a.fail(w, err)
		return
	}
	response.NoContent(w)
}

// modelRelations lists the model's edges in sort order, optionally of one
// ?type=. Targets and relation types are returned under included.
func (a *API) modelRelations(w http.ResponseWriter, r *http.Request) {
	m, _, err := a.modelFromPath(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	rels, err := a.relations.ListRelations(r.Context(), m.ModelID, r.URL.Query().Get("type"))
	if err != nil {
		a.fail(w, err)
		return
	}
	edges, err := a.relations.Resolve(r.Context(), rels)
	if err != nil {
		a.fail(w, err)
		return
	}
	var inc response.Included
	seen := map[entity.UUID]bool{}
	for _, e := range edges {
		if e.Target != nil {
			inc.AddModel(e.Target.ModelID.String(), e.Target.Public())
		}
		if seen[e.Relation.RelationTypeID] {
			continue
		}
		seen[e.Relation.RelationTypeID] = true
		rt, err := a.relations.GetRelationType(r.Context(), e.Relation.RelationTypeID)
		if err != nil {
			a.fail(w, err)
			return
		}
		inc.AddRelationType(rt.RelationTypeID.String(), rt)
	}
	if rels == nil {
		rels = []*entity.Relation{}
	}
	response.One(w, http.StatusOK, rels, &inc)
}

func (a *API) link(w http.ResponseWriter, r *http.Request) {
	var in relationships.LinkInput
	if err := decode(r, &in); err != nil {
		a.fail(w, err)
		return
	}
	if in.ModelID.IsZero() {
		a.fail(w, errs.Invalid("model_id is required"))
		return
	}
	if _, _, err := a.model(r.Context(), project(r), in.ModelID); err != nil {
		a.fail(w, err)
		return
	}
	rel, err := a.relations.Link(r.Context(), in)
	if err != nil {
		a.fail(w, err)
		return
	}
	response.One(w, http.StatusCreated, rel, nil)
}

// unlink is idempotent: an edge that is already gone answers 204 as well.
func (a *API) unlink(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, err)
		return
	}
	rel, err := a.relations.GetRelation(r.Context(), id)
	if errs.IsNotFound(err) {
		response.NoContent(w)
		return
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	if _, err := a.relationType(r.Context(), project(r), rel.RelationTypeID); err != nil {
		a.fail(w, err)
		return
	}
	if err := a.relations.Unlink(r.Context(), id); err != nil {
		a.fail(w, err)
		return
	}
	response.NoContent(w)
}
