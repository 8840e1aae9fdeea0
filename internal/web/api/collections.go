package api

import (
	"net/http"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/web/query"
	"github.com/conduit-lang/collections/internal/web/response"
)

func (a *API) listCollections(w http.ResponseWriter, r *http.Request) {
	syntax, err := query.Parse(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	page, err := a.store.ListCollections(r.Context(), project(r), syntax)
	if err != nil {
		a.fail(w, err)
		return
	}
	response.List(w, page, nil)
}

func (a *API) createCollection(w http.ResponseWriter, r *http.Request) {
	var in entity.CollectionInput
	if err := decode(r, &in); err != nil {
		a.fail(w, err)
		return
	}
	c, err := a.store.CreateCollection(r.Context(), project(r), in)
	if err != nil {
		a.fail(w, err)
		return
	}
	response.One(w, http.StatusCreated, c, nil)
}

func (a *API) getCollection(w http.ResponseWriter, r *http.Request) {
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
	response.One(w, http.StatusOK, c, nil)
}

func (a *API) updateCollection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, err)
		return
	}
	if _, err := a.collection(r.Context(), project(r), id); err != nil {
		a.fail(w, err)
		return
	}
	var in entity.CollectionInput
	if err := decode(r, &in); err != nil {
		a.fail(w, err)
		return
	}
	c, err := a.store.UpdateCollection(r.Context(), id, in)
	if err != nil {
		a.fail(w, err)
		return
	}
	response.One(w, http.StatusOK, c, nil)
}

func (a *API) deleteCollection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, err)
		return
	}
	if _, err := a.collection(r.Context(), project(r), id); err != nil {
		a.fail(w, err)
		return
	}
	if err := a.store.DeleteCollection(r.Context(), id); err != nil {
		a.fail(w, err)
		return
	}
	response.NoContent(w)
}
