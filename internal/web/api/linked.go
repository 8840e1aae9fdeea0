package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/linked"
	"github.com/conduit-lang/collections/internal/web/query"
	"github.com/conduit-lang/collections/internal/web/response"
)

func (a *API) linkedContext(r *http.Request) (linked.ModelContext, error) {
	m, c, err := a.modelFromPath(r)
	if err != nil {
		return linked.ModelContext{}, err
	}
	return linked.ContextFor(c, m), nil
}

func (a *API) resolveLinked(w http.ResponseWriter, r *http.Request) {
	mc, err := a.linkedContext(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	results, err := a.linked.Resolve(r.Context(), mc)
	if err != nil {
		a.fail(w, err)
		return
	}
	for i := range results {
		results[i].Page = publicPage(results[i].Page)
	}
	if results == nil {
		results = []linked.Result{}
	}
	response.One(w, http.StatusOK, results, nil)
}

func (a *API) resolveLinkedRule(w http.ResponseWriter, r *http.Request) {
	mc, err := a.linkedContext(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	syntax, err := query.Parse(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	res, err := a.linked.ResolveRule(r.Context(), mc, chi.URLParam(r, "rule"), syntax)
	if err != nil {
		a.fail(w, err)
		return
	}
	var inc response.Included
	inc.AddCollection(res.Collection.CollectionID.String(), res.Collection)
	response.List(w, publicPage(res.Page), &inc)
}

type uploadRequest struct {
	MimeType string       `json:"mime_type"`
	Path     *entity.Path `json:"path"`
	Data     entity.Doc   `json:"data"`
	Meta     entity.Doc   `json:"meta"`
}

func (a *API) uploadLinked(w http.ResponseWriter, r *http.Request) {
	mc, err := a.linkedContext(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	var req uploadRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, err)
		return
	}
	m, err := a.linked.Upload(r.Context(), mc, linked.UploadInput{
		RuleID:   chi.URLParam(r, "rule"),
		MimeType: req.MimeType,
		Path:     req.Path,
		Data:     req.Data,
		Meta:     req.Meta,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	response.One(w, http.StatusCreated, m.Public(), nil)
}

type unlinkRequest struct {
	ModelID entity.UUID `json:"model_id"`
	Confirm bool        `json:"confirm"`
}

func (a *API) unlinkLinked(w http.ResponseWriter, r *http.Request) {
	mc, err := a.linkedContext(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	var req unlinkRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, err)
		return
	}
	if _, _, err := a.model(r.Context(), mc.ProjectID, req.ModelID); err != nil {
		a.fail(w, err)
		return
	}
	m, err := a.linked.Unlink(r.Context(), mc, linked.UnlinkInput{
		RuleID:   chi.URLParam(r, "rule"),
		TargetID: req.ModelID,
		Confirm:  req.Confirm,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	response.One(w, http.StatusOK, m.Public(), nil)
}

func (a *API) referencedBy(w http.ResponseWriter, r *http.Request) {
	mc, err := a.linkedContext(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	refs, err := a.linked.ReferencedBy(r.Context(), mc)
	if err != nil {
		a.fail(w, err)
		return
	}
	for i := range refs {
		refs[i].Page = publicPage(refs[i].Page)
	}
	if refs == nil {
		refs = []linked.Reference{}
	}
	response.One(w, http.StatusOK, refs, nil)
}
