package api

import (
	"net/http"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/web/query"
	"github.com/conduit-lang/collections/internal/web/response"
)

func (a *API) listModels(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, err)
		return
	}
	c, err := a.collection(r.Context(), project(r), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	syntax, err := query.Parse(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	page, err := a.store.ListModels(r.Context(), c.CollectionID, syntax)
	if err != nil {
		a.fail(w, err)
		return
	}
	var inc response.Included
	inc.AddCollection(c.CollectionID.String(), c)
	response.List(w, publicPage(page), &inc)
}

func (a *API) createModel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, err)
		return
	}
	c, err := a.collection(r.Context(), project(r), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	var in entity.ModelUpsert
	if err := decode(r, &in); err != nil {
		a.fail(w, err)
		return
	}
	in.ModelID = ""
	in.CollectionID = c.CollectionID
	in.ExpectedUpdatedAt = nil
	m, err := a.store.UpsertModel(r.Context(), in)
	if err != nil {
		a.fail(w, err)
		return
	}
	var inc response.Included
	inc.AddCollection(c.CollectionID.String(), c)
	response.One(w, http.StatusCreated, m.Public(), &inc)
}

func (a *API) getModel(w http.ResponseWriter, r *http.Request) {
	m, c, err := a.modelFromPath(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	var inc response.Included
	inc.AddCollection(c.CollectionID.String(), c)
	response.One(w, http.StatusOK, m.Public(), &inc)
}

// updateModel replaces the sent fields. An _updated_at in the body turns on
// the optimistic lock.
func (a *API) updateModel(w http.ResponseWriter, r *http.Request) {
	m, c, err := a.modelFromPath(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	var in entity.ModelUpsert
	if err := decode(r, &in); err != nil {
		a.fail(w, err)
		return
	}
	in.ModelID = m.ModelID
	in.CollectionID = m.CollectionID
	updated, err := a.store.UpsertModel(r.Context(), in)
	if err != nil {
		a.fail(w, err)
		return
	}
	var inc response.Included
	inc.AddCollection(c.CollectionID.String(), c)
	response.One(w, http.StatusOK, updated.Public(), &inc)
}

func (a *API) deleteModel(w http.ResponseWriter, r *http.Request) {
	m, _, err := a.modelFromPath(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	deleted, err := a.store.DeleteModel(r.Context(), m.ModelID)
	if err != nil {
		a.fail(w, err)
		return
	}
	response.One(w, http.StatusOK, map[string]any{"deleted": deleted}, nil)
}

type moveRequest struct {
	ParentID *entity.UUID `json:"parent_id"`
}

func (a *API) moveModel(w http.ResponseWriter, r *http.Request) {
	m, c, err := a.modelFromPath(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	var req moveRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, err)
		return
	}
	moved, err := a.store.MoveModel(r.Context(), m.ModelID, req.ParentID)
	if err != nil {
		a.fail(w, err)
		return
	}
	var inc response.Included
	inc.AddCollection(c.CollectionID.String(), c)
	response.One(w, http.StatusOK, moved.Public(), &inc)
}

func (a *API) children(w http.ResponseWriter, r *http.Request) {
	m, _, err := a.modelFromPath(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	syntax, err := query.Parse(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	page, err := a.store.Children(r.Context(), m.ModelID, syntax)
	if err != nil {
		a.fail(w, err)
		return
	}
	response.List(w, publicPage(page), nil)
}

func (a *API) descendants(w http.ResponseWriter, r *http.Request) {
	m, _, err := a.modelFromPath(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	syntax, err := query.Parse(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	page, err := a.store.Descendants(r.Context(), m.ModelID, syntax)
	if err != nil {
		a.fail(w, err)
		return
	}
	response.List(w, publicPage(page), nil)
}

func (a *API) ancestors(w http.ResponseWriter, r *http.Request) {
	m, _, err := a.modelFromPath(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	models, err := a.store.Ancestors(r.Context(), m.ModelID)
	if err != nil {
		a.fail(w, err)
		return
	}
	response.One(w, http.StatusOK, publicModels(models), nil)
}
