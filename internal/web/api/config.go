package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/conduit-lang/collections/internal/orm/configstore"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/web/response"
)

func (a *API) listConfig(w http.ResponseWriter, r *http.Request) {
	records, err := a.configs.List(r.Context(), project(r))
	if err != nil {
		a.fail(w, err)
		return
	}
	if records == nil {
		records = []*configstore.Record{}
	}
	response.One(w, http.StatusOK, records, nil)
}

func (a *API) getConfig(w http.ResponseWriter, r *http.Request) {
	rec, err := a.configs.Get(r.Context(), project(r), chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, err)
		return
	}
	w.Header().Set("ETag", strconv.Itoa(rec.Version))
	response.One(w, http.StatusOK, rec, nil)
}

// putConfig stores the body as the named document. If-Match carries the
// expected version; 0 means the document must not exist yet. The linked
// document is validated before it is stored.
func (a *API) putConfig(w http.ResponseWriter, r *http.Request) {
	expected, err := ifMatch(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		a.fail(w, errs.Invalid("request body: %v", err))
		return
	}
	name := chi.URLParam(r, "name")
	var rec *configstore.Record
	if name == configstore.Linked {
		rec, err = a.linked.Save(r.Context(), project(r), body, expected)
	} else {
		rec, err = a.configs.Put(r.Context(), project(r), name, body, expected)
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	w.Header().Set("ETag", strconv.Itoa(rec.Version))
	response.One(w, http.StatusOK, rec, nil)
}

func (a *API) deleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := a.configs.Delete(r.Context(), project(r), chi.URLParam(r, "name")); err != nil {
		a.fail(w, err)
		return
	}
	response.NoContent(w)
}

func ifMatch(r *http.Request) (*int, error) {
	v := strings.Trim(r.Header.Get("If-Match"), `" `)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return nil, errs.Invalid("If-Match must be a config version")
	}
	return &n, nil
}
