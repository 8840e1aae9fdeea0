// Package response writes the JSON envelopes of the HTTP API.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/conduit-lang/collections/internal/orm/query"
)

// Envelope is the body of every successful response.
type Envelope struct {
	Data     any            `json:"data"`
	Meta     map[string]any `json:"meta,omitempty"`
	Included *Included      `json:"included,omitempty"`
}

// Included carries denormalized lookups keyed by id, so that clients do not
// fetch related rows one by one.
type Included struct {
	Collection   map[string]any `json:"collection,omitempty"`
	RelationType map[string]any `json:"relation_type,omitempty"`
	Model        map[string]any `json:"model,omitempty"`
}

// IsEmpty reports whether nothing was included.
func (i *Included) IsEmpty() bool {
	return i == nil || len(i.Collection) == 0 && len(i.RelationType) == 0 && len(i.Model) == 0
}

// AddCollection includes a collection under its id.
func (i *Included) AddCollection(id string, v any) {
	if i.Collection == nil {
		i.Collection = map[string]any{}
	}
	i.Collection[id] = v
}

// AddRelationType includes a relation type under its id.
func (i *Included) AddRelationType(id string, v any) {
	if i.RelationType == nil {
		i.RelationType = map[string]any{}
	}
	i.RelationType[id] = v
}

// AddModel includes a model under its id.
func (i *Included) AddModel(id string, v any) {
	if i.Model == nil {
		i.Model = map[string]any{}
	}
	i.Model[id] = v
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// One writes a single item.
func One(w http.ResponseWriter, status int, data any, included *Included) {
	env := Envelope{Data: data}
	if !included.IsEmpty() {
		env.Included = included
	}
	JSON(w, status, env)
}

// List writes a page with its paging meta.
func List[T any](w http.ResponseWriter, page *query.Page[T], included *Included) {
	items := page.Items
	if items == nil {
		items = []T{}
	}
	env := Envelope{Data: items, Meta: PageMeta(page)}
	if !included.IsEmpty() {
		env.Included = included
	}
	JSON(w, http.StatusOK, env)
}

// PageMeta is the meta member of a list response.
func PageMeta[T any](page *query.Page[T]) map[string]any {
	return map[string]any{
		"limit":   page.Limit,
		"offset":  page.Offset,
		"total":   page.Total,
		"hasMore": page.HasMore,
	}
}

// NoContent writes 204.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
