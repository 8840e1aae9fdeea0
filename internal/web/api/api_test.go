package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/collections/internal/cache"
	"github.com/conduit-lang/collections/internal/orm/adapter"
	"github.com/conduit-lang/collections/internal/orm/configstore"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/hooks"
	"github.com/conduit-lang/collections/internal/orm/linked"
	"github.com/conduit-lang/collections/internal/orm/migrate"
	"github.com/conduit-lang/collections/internal/orm/relationships"
	"github.com/conduit-lang/collections/internal/orm/store"
	"github.com/conduit-lang/collections/internal/web/auth"
	"github.com/conduit-lang/collections/internal/web/response"
	"github.com/conduit-lang/collections/internal/web/stream"
)

var (
	owner   = entity.MustParseUUID("7a1c3e5f-2b4d-4f6a-8c0e-1d3f5b7a9c20")
	other   = entity.MustParseUUID("9b2d4f6a-3c5e-4a7b-9d1f-2e4a6c8b0d31")
)

type env struct {
	t       *testing.T
	handler http.Handler
	store   *store.Store
	events  *stream.Broker
	token   string
	foreign string
}

func setup(t *testing.T) *env {
	t.Helper()
	p, err := adapter.Open(adapter.Config{Type: adapter.SQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	_, err = migrate.New(p, nil).Bootstrap(context.Background())
	require.NoError(t, err)

	events := stream.NewBroker(8, nil)
	executor := hooks.NewExecutor(nil, nil)
	events.Register(executor)
	s := store.New(p, store.Options{Hooks: executor})
	rel := relationships.New(s)
	configs := configstore.New(p, s.Transactions(), cache.NewMemoryCache(), 0, nil)
	tokens := auth.NewTokenService("test-secret", time.Hour)

	e := &env{t: t, store: s, events: events}
	e.token, err = tokens.Issue(owner, "tester")
	require.NoError(t, err)
	e.foreign, err = tokens.Issue(other, "intruder")
	require.NoError(t, err)
	e.handler = New(s, rel, linked.NewResolver(s, configs), configs, tokens, Options{Events: events}).Router()
	return e
}

func (e *env) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(e.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data     json.RawMessage    `json:"data"`
	Meta     map[string]any     `json:"meta"`
	Included *response.Included `json:"included"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body response.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Code
}

func (e *env) collection(path string, types ...string) *entity.Collection {
	e.t.Helper()
	rec := e.do("POST", "/collections", e.token, map[string]any{"path": path, "types": types})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	var c entity.Collection
	decodeEnvelope(e.t, rec, &c)
	return &c
}

func (e *env) model(c *entity.Collection, body map[string]any) *entity.Model {
	e.t.Helper()
	rec := e.do("POST", "/collections/"+c.CollectionID.String()+"/models", e.token, body)
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	var m entity.Model
	decodeEnvelope(e.t, rec, &m)
	return &m
}

func TestHealthAndAuth(t *testing.T) {
	e := setup(t)

	rec := e.do("GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do("GET", "/collections", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorCode(t, rec))
}

func TestCollections(t *testing.T) {
	e := setup(t)
	c := e.collection("product", "product")
	assert.Equal(t, owner, c.ProjectID)

	t.Run("list", func(t *testing.T) {
		rec := e.do("GET", "/collections", e.token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var items []entity.Collection
		env := decodeEnvelope(t, rec, &items)
		require.Len(t, items, 1)
		assert.EqualValues(t, 1, env.Meta["total"])
	})

	t.Run("duplicate path", func(t *testing.T) {
		rec := e.do("POST", "/collections", e.token, map[string]any{"path": "product"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "path_conflict", errorCode(t, rec))
	})

	t.Run("other project cannot see it", func(t *testing.T) {
		rec := e.do("GET", "/collections/"+c.CollectionID.String(), e.foreign, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec = e.do("DELETE", "/collections/"+c.CollectionID.String(), e.foreign, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		rec := e.do("GET", "/collections/not-a-uuid", e.token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("update and delete", func(t *testing.T) {
		rec := e.do("PUT", "/collections/"+c.CollectionID.String(), e.token, map[string]any{"is_unlisted": true})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var updated entity.Collection
		decodeEnvelope(t, rec, &updated)
		assert.True(t, updated.IsUnlisted)
		assert.Equal(t, entity.Path("product"), updated.Path)

		rec = e.do("DELETE", "/collections/"+c.CollectionID.String(), e.token, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec = e.do("GET", "/collections/"+c.CollectionID.String(), e.token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestModels(t *testing.T) {
	e := setup(t)
	c := e.collection("product", "product")
	a := e.model(c, map[string]any{"type": "product", "data": map[string]any{"sku": "A1"}})
	b := e.model(c, map[string]any{"type": "product", "data": map[string]any{"sku": "B2"}})

	t.Run("get includes the collection", func(t *testing.T) {
		rec := e.do("GET", "/models/"+a.ModelID.String(), e.token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var m entity.Model
		env := decodeEnvelope(t, rec, &m)
		assert.Equal(t, "A1", m.Data["sku"])
		require.NotNil(t, env.Included)
		assert.Contains(t, env.Included.Collection, c.CollectionID.String())
	})

	t.Run("flattened filter", func(t *testing.T) {
		rec := e.do("GET", "/collections/"+c.CollectionID.String()+"/models?filter%5Bdata.sku%5D=B2", e.token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var items []entity.Model
		env := decodeEnvelope(t, rec, &items)
		require.Len(t, items, 1)
		assert.Equal(t, b.ModelID, items[0].ModelID)
		assert.EqualValues(t, 1, env.Meta["total"])
	})

	t.Run("stale update is rejected", func(t *testing.T) {
		rec := e.do("PUT", "/models/"+a.ModelID.String(), e.token, map[string]any{
			"data":        map[string]any{"sku": "A2"},
			"_updated_at": "2001-01-01T00:00:00Z",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "optimistic_lock_failed", errorCode(t, rec))

		rec = e.do("PUT", "/models/"+a.ModelID.String(), e.token, map[string]any{"data": map[string]any{"sku": "A2"}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var m entity.Model
		decodeEnvelope(t, rec, &m)
		assert.Equal(t, "A2", m.Data["sku"])
	})

	t.Run("move and hierarchy reads", func(t *testing.T) {
		rec := e.do("POST", "/models/"+b.ModelID.String()+"/move", e.token, map[string]any{"parent_id": a.ModelID})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = e.do("GET", "/models/"+a.ModelID.String()+"/children", e.token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var children []entity.Model
		decodeEnvelope(t, rec, &children)
		require.Len(t, children, 1)
		assert.Equal(t, b.ModelID, children[0].ModelID)

		rec = e.do("GET", "/models/"+b.ModelID.String()+"/ancestors", e.token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var ancestors []entity.Model
		decodeEnvelope(t, rec, &ancestors)
		require.Len(t, ancestors, 1)
		assert.Equal(t, a.ModelID, ancestors[0].ModelID)
	})

	t.Run("other project", func(t *testing.T) {
		rec := e.do("GET", "/models/"+a.ModelID.String(), e.foreign, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec = e.do("POST", "/collections/"+c.CollectionID.String()+"/models", e.foreign, map[string]any{"type": "product"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("empty body", func(t *testing.T) {
		rec := e.do("POST", "/collections/"+c.CollectionID.String()+"/models", e.token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_input", errorCode(t, rec))
	})

	t.Run("delete cascades", func(t *testing.T) {
		rec := e.do("DELETE", "/models/"+a.ModelID.String(), e.token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var out struct {
			Deleted []entity.UUID `json:"deleted"`
		}
		decodeEnvelope(t, rec, &out)
		assert.ElementsMatch(t, []entity.UUID{a.ModelID, b.ModelID}, out.Deleted)
	})
}

func TestRelations(t *testing.T) {
	e := setup(t)
	products := e.collection("product", "product")
	tags := e.collection("tag", "tag")
	p := e.model(products, map[string]any{"type": "product"})
	tag := e.model(tags, map[string]any{"type": "tag", "data": map[string]any{"name": "sale"}})

	rec := e.do("POST", "/relation-types", e.token, map[string]any{
		"relation_type":         "tags",
		"model_collection_id":   products.CollectionID,
		"related_collection_id": tags.CollectionID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var rt entity.RelationType
	decodeEnvelope(t, rec, &rt)

	rec = e.do("GET", "/relation-types/"+rt.RelationTypeID.String(), e.foreign, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do("POST", "/relations", e.token, map[string]any{
		"relation_type": "tags",
		"model_id":      p.ModelID,
		"related_id":    tag.ModelID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var rel entity.Relation
	decodeEnvelope(t, rec, &rel)

	rec = e.do("POST", "/relations", e.foreign, map[string]any{
		"relation_type": "tags",
		"model_id":      p.ModelID,
		"related_id":    tag.ModelID,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do("GET", "/models/"+p.ModelID.String()+"/relations?type=tags", e.token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rels []entity.Relation
	env := decodeEnvelope(t, rec, &rels)
	require.Len(t, rels, 1)
	assert.Equal(t, rel.RelationID, rels[0].RelationID)
	require.NotNil(t, env.Included)
	assert.Contains(t, env.Included.Model, tag.ModelID.String())
	assert.Contains(t, env.Included.RelationType, rt.RelationTypeID.String())

	rec = e.do("DELETE", "/relations/"+rel.RelationID.String(), e.foreign, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	for i := 0; i < 2; i++ {
		rec = e.do("DELETE", "/relations/"+rel.RelationID.String(), e.token, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}

	rec = e.do("GET", "/models/"+p.ModelID.String()+"/relations", e.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeEnvelope(t, rec, &rels)
	assert.Empty(t, rels)
}

const linkedRules = `{
	"version": 1,
	"rules": [{
		"id": "images",
		"match": {"domain": "product", "entity": "product"},
		"target_query": {
			"type": "image",
			"conditions": [{"target_field": "data.sku", "operator": "eq", "value_source": "model_field", "value": "sku"}]
		},
		"upload": {"auto_fill_custom": {"sku": "sku"}, "accept": "image/*"},
		"unlink": {"field": "sku"}
	}]
}`

func TestLinked(t *testing.T) {
	e := setup(t)
	products := e.collection("product", "product")
	assets := e.collection("asset", "image")
	p := e.model(products, map[string]any{"type": "product", "data": map[string]any{"sku": "X1"}})
	img := e.model(assets, map[string]any{"type": "image", "is_enabled": true, "data": map[string]any{"sku": "X1"}})
	e.model(assets, map[string]any{"type": "image", "is_enabled": true, "data": map[string]any{"sku": "Y2"}})

	rec := e.do("PUT", "/config/"+configstore.Linked, e.token, `{"rules": [{"id": ""}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do("PUT", "/config/"+configstore.Linked, e.token, linkedRules, "If-Match", "0")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("ETag"))

	rec = e.do("PUT", "/config/"+configstore.Linked, e.token, linkedRules, "If-Match", "0")
	assert.Equal(t, http.StatusConflict, rec.Code)

	t.Run("resolve", func(t *testing.T) {
		rec := e.do("GET", "/models/"+p.ModelID.String()+"/linked/images", e.token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var items []entity.Model
		decodeEnvelope(t, rec, &items)
		require.Len(t, items, 1)
		assert.Equal(t, img.ModelID, items[0].ModelID)

		rec = e.do("GET", "/models/"+p.ModelID.String()+"/linked", e.token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var results []linked.Result
		decodeEnvelope(t, rec, &results)
		require.Len(t, results, 1)
		assert.Equal(t, 1, results[0].Page.Total)
	})

	t.Run("upload", func(t *testing.T) {
		rec := e.do("POST", "/models/"+p.ModelID.String()+"/linked/images/upload", e.token, map[string]any{"mime_type": "text/plain"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = e.do("POST", "/models/"+p.ModelID.String()+"/linked/images/upload", e.token, map[string]any{"mime_type": "image/png"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var m entity.Model
		decodeEnvelope(t, rec, &m)
		assert.Equal(t, "X1", m.Data["sku"])
		assert.Equal(t, "image", m.Type)
	})

	t.Run("unlink needs confirmation", func(t *testing.T) {
		path := "/models/" + p.ModelID.String() + "/linked/images/unlink"
		rec := e.do("POST", path, e.token, map[string]any{"model_id": img.ModelID})
		assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
		assert.Equal(t, "confirmation_required", errorCode(t, rec))

		rec = e.do("POST", path, e.token, map[string]any{"model_id": img.ModelID, "confirm": true})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var m entity.Model
		decodeEnvelope(t, rec, &m)
		assert.NotContains(t, m.Data, "sku")
	})

	t.Run("reverse lookup is off", func(t *testing.T) {
		rec := e.do("GET", "/models/"+img.ModelID.String()+"/referenced-by", e.token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestConfig(t *testing.T) {
	e := setup(t)

	rec := e.do("GET", "/config/"+configstore.AppConfig, e.token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do("PUT", "/config/"+configstore.AppConfig, e.token, `{"theme": "dark"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do("PUT", "/config/"+configstore.AppConfig, e.token, `{"theme": "light"}`, "If-Match", `"1"`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2", rec.Header().Get("ETag"))

	rec = e.do("PUT", "/config/"+configstore.AppConfig, e.token, `{}`, "If-Match", "v1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do("GET", "/config/"+configstore.AppConfig, e.foreign, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do("GET", "/config", e.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []configstore.Record
	decodeEnvelope(t, rec, &records)
	require.Len(t, records, 1)
	assert.JSONEq(t, `{"theme": "light"}`, string(records[0].Data))

	rec = e.do("DELETE", "/config/"+configstore.AppConfig, e.token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestConditionalGet(t *testing.T) {
	e := setup(t)
	e.collection("product", "product")

	rec := e.do("GET", "/collections", e.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec = e.do("GET", "/collections", e.token, nil, "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())

	e.collection("article", "article")
	rec = e.do("GET", "/collections", e.token, nil, "If-None-Match", etag)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEvents(t *testing.T) {
	e := setup(t)
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.token)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool {
		return e.events.Subscribers(owner.String()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Writes of another project stay invisible.
	rec := e.do("POST", "/collections", e.foreign, map[string]any{"path": "secret"})
	require.Equal(t, http.StatusCreated, rec.Code)
	c := e.collection("product", "product")

	var name, data string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			name = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
		}
		if line == "" && name != "" {
			break
		}
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, "collection.saved", name)
	var change stream.Change
	require.NoError(t, json.Unmarshal([]byte(data), &change))
	assert.Equal(t, c.CollectionID, change.CollectionID)
	assert.True(t, change.Created)
}
