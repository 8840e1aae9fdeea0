package linked

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/collections/internal/cache"
	"github.com/conduit-lang/collections/internal/orm/adapter"
	"github.com/conduit-lang/collections/internal/orm/configstore"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/migrate"
	"github.com/conduit-lang/collections/internal/orm/query"
	"github.com/conduit-lang/collections/internal/orm/store"
)

var project = entity.MustParseUUID("3c9a1d7e-4b2f-4e8a-9c1d-7f6e5d4c3b20")

const skuRules = `{
	"version": 1,
	"defaults": {"limit": 10},
	"reverse": {"enabled_collections": [{"domain": "asset", "entity": "asset"}]},
	"rules": [{
		"id": "product-images",
		"label": {"en": "Images", "sk": "Obrázky"},
		"match": {"domain": "product", "entity": "product"},
		"target_query": {
			"type": "image",
			"conditions": [
				{"target_field": "data.custom.sku", "operator": "eq", "value_source": "model_field", "value": "sku"}
			]
		},
		"upload": {"auto_fill_custom": {"custom.sku": "sku"}, "cardinality": 2},
		"unlink": {"field": "custom.sku"}
	}]
}`

type fixture struct {
	store    *store.Store
	configs  *configstore.Store
	resolver *Resolver
	products *entity.Collection
	assets   *entity.Collection
}

func setup(t *testing.T, rules string) *fixture {
	t.Helper()
	ctx := context.Background()
	p, err := adapter.Open(adapter.Config{Type: adapter.SQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	_, err = migrate.New(p, nil).Bootstrap(ctx)
	require.NoError(t, err)

	s := store.New(p, store.Options{})
	f := &fixture{store: s, configs: configstore.New(p, s.Transactions(), cache.NewMemoryCache(), 0, nil)}
	f.resolver = NewResolver(s, f.configs)
	f.products, err = s.CreateCollection(ctx, project, entity.CollectionInput{
		Path:  entity.Some(entity.Path("product")),
		Types: entity.Some([]string{"product"}),
	})
	require.NoError(t, err)
	f.assets, err = s.CreateCollection(ctx, project, entity.CollectionInput{
		Path:  entity.Some(entity.Path("asset")),
		Types: entity.Some([]string{"image", "document"}),
	})
	require.NoError(t, err)
	if rules != "" {
		_, err = f.configs.Put(ctx, project, configstore.Linked, json.RawMessage(rules), nil)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) model(t *testing.T, c *entity.Collection, typ string, data entity.Doc, enabled bool) *entity.Model {
	t.Helper()
	m, err := f.store.UpsertModel(context.Background(), entity.ModelUpsert{
		CollectionID: c.CollectionID,
		Type:         entity.Some(typ),
		Data:         entity.Some(data),
		IsEnabled:    entity.Some(enabled),
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) context(t *testing.T, m *entity.Model) ModelContext {
	t.Helper()
	mc, err := f.resolver.Context(context.Background(), m.ModelID)
	require.NoError(t, err)
	return mc
}

func ids(models []*entity.Model) []entity.UUID {
	out := make([]entity.UUID, len(models))
	for i, m := range models {
		out[i] = m.ModelID
	}
	return out
}

func TestBuildQuery(t *testing.T) {
	cfg, err := Parse([]byte(skuRules))
	require.NoError(t, err)
	rule := &cfg.Rules[0]

	t.Run("resolves model fields", func(t *testing.T) {
		g := BuildQuery(rule, &entity.Model{Data: entity.Doc{"sku": "X1"}})
		assert.Equal(t, []query.Condition{
			query.Cond("is_enabled", query.OpEq, true),
			query.Cond("type", query.OpEq, "image"),
			query.Cond("data.custom.sku", query.OpEq, "X1"),
		}, g.Conditions)
	})

	t.Run("missing field matches nothing", func(t *testing.T) {
		g := BuildQuery(rule, &entity.Model{Data: entity.Doc{}})
		assert.Equal(t, query.Cond("data.custom.sku", query.OpIn, []any{}), g.Conditions[2])

		rec := map[string]any{"is_enabled": true, "type": "image", "data": map[string]any{"custom": map[string]any{}}}
		ok, err := query.Matches(query.ModelFields, g, rec)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("explicit base conditions replace the default", func(t *testing.T) {
		r := Rule{TargetQuery: QueryConfig{
			BaseConditions: []Condition{},
			Conditions:     []Condition{{TargetField: "tags", Operator: "?", ValueSource: Literal, Value: "hero"}},
		}}
		g := BuildQuery(&r, &entity.Model{})
		assert.Equal(t, []query.Condition{query.Cond("tags", query.OpContains, "hero")}, g.Conditions)
	})
}

func TestMatchingRules(t *testing.T) {
	off := false
	cfg := &Config{Rules: []Rule{
		{ID: "late", Order: 5},
		{ID: "products", Match: MatchConfig{Domain: "product"}, Order: 1},
		{ID: "variants", Match: MatchConfig{Domain: "product", Type: "variant"}},
		{ID: "disabled", Enabled: &off},
		{ID: "orders", Match: MatchConfig{Domain: "order"}},
		{ID: "first", Order: -1},
	}}
	var got []string
	for _, r := range cfg.MatchingRules(ModelContext{Domain: "product", Entity: "product", Type: "default"}) {
		got = append(got, r.ID)
	}
	assert.Equal(t, []string{"first", "products", "late"}, got)
}

func TestConfig_ValidateAndDisplay(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"missing id", `{"rules": [{"target_query": {"conditions": []}}]}`},
		{"duplicate id", `{"rules": [{"id": "a"}, {"id": "a"}]}`},
		{"unknown operator", `{"rules": [{"id": "a", "target_query": {"conditions": [{"target_field": "x", "operator": "near", "value": 1}]}}]}`},
		{"bad value source", `{"rules": [{"id": "a", "target_query": {"conditions": [{"target_field": "x", "operator": "eq", "value_source": "env", "value": 1}]}}]}`},
		{"model field without path", `{"rules": [{"id": "a", "target_query": {"conditions": [{"target_field": "x", "operator": "eq", "value_source": "model_field", "value": 3}]}}]}`},
		{"unlink without field", `{"rules": [{"id": "a", "unlink": {}}]}`},
		{"unknown core field", `{"rules": [{"id": "a", "target_query": {"conditions": [{"target_field": "_nope", "operator": "eq", "value": 1}]}}]}`},
		{"descendant on a time field", `{"rules": [{"id": "a", "target_query": {"conditions": [{"target_field": "_created_at", "operator": "descendant", "value": "a"}]}}]}`},
		{"ancestor on folder", `{"rules": [{"id": "a", "target_query": {"conditions": [{"target_field": "folder", "operator": "ancestor", "value_source": "model_field", "value": "folder"}]}}]}`},
		{"literal of the wrong kind", `{"rules": [{"id": "a", "target_query": {"base_conditions": [{"target_field": "model_id", "operator": "eq", "value": "nope"}]}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			assert.Error(t, err)
		})
	}

	cfg, err := Parse([]byte(`{"version": 1, "defaults": {"limit": 8, "columns": 2}, "rules": [
		{"id": "a", "display": {"limit": 3, "thumbnail_variant": "lg"}},
		{"id": "b"}
	]}`))
	require.NoError(t, err)
	a, _ := cfg.Rule("a")
	b, _ := cfg.Rule("b")
	assert.Equal(t, Display{Limit: 3, Columns: 2, ShowFilename: true, ThumbnailVariant: "lg"}, cfg.DisplayFor(a))
	assert.Equal(t, Display{Limit: 8, Columns: 2, ShowFilename: true, ThumbnailVariant: "sm"}, cfg.DisplayFor(b))
	assert.Equal(t, Display{Limit: 20, Columns: 4, ShowFilename: true, ThumbnailVariant: "sm"}, (&Config{}).DisplayFor(b))
}

func TestAcceptsMIME(t *testing.T) {
	tests := []struct {
		accept string
		mime   string
		want   bool
	}{
		{"image/*", "image/png", true},
		{"image/*", "Image/JPEG", true},
		{"image/*", "application/pdf", false},
		{"image/*, application/pdf", "application/pdf", true},
		{"*/*", "text/plain; charset=utf-8", true},
		{"application/pdf", "application/pdfx", false},
		{"image/*", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AcceptsMIME(tt.accept, tt.mime), "%s vs %s", tt.accept, tt.mime)
	}
}

func TestResolve_MatchesBySku(t *testing.T) {
	ctx := context.Background()
	f := setup(t, skuRules)
	p1 := f.model(t, f.products, "product", entity.Doc{"sku": "X1"}, true)
	match := f.model(t, f.assets, "image", entity.Doc{"custom": map[string]any{"sku": "X1"}}, true)
	f.model(t, f.assets, "image", entity.Doc{"custom": map[string]any{"sku": "X2"}}, true)
	f.model(t, f.assets, "image", entity.Doc{"custom": map[string]any{"sku": "X1"}}, false)
	f.model(t, f.assets, "document", entity.Doc{"custom": map[string]any{"sku": "X1"}}, true)

	results, err := f.resolver.Resolve(ctx, f.context(t, p1))
	require.NoError(t, err)
	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, "product-images", res.Rule.ID)
	assert.Equal(t, f.assets.CollectionID, res.Collection.CollectionID)
	assert.Equal(t, 10, res.Display.Limit)
	assert.Equal(t, []entity.UUID{match.ModelID}, ids(res.Page.Items))
	assert.Equal(t, 1, res.Page.Total)

	// no sku on the source: nothing matches, no error
	p2 := f.model(t, f.products, "product", entity.Doc{"title": "no sku"}, true)
	results, err = f.resolver.Resolve(ctx, f.context(t, p2))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Page.Items)

	// assets themselves match no rule
	results, err = f.resolver.Resolve(ctx, f.context(t, match))
	require.NoError(t, err)
	assert.Empty(t, results)
}

const folderRules = `{
	"version": 1,
	"rules": [{
		"id": "catalog",
		"label": {"en": "Catalog"},
		"match": {"domain": "product", "entity": "product"},
		"target_query": {
			"type": "document",
			"conditions": [
				{"target_field": "folder", "operator": "descendant", "value_source": "literal", "value": "products"}
			]
		}
	}]
}`

func TestResolve_FolderDescendant(t *testing.T) {
	ctx := context.Background()
	f := setup(t, folderRules)
	source := f.model(t, f.products, "product", entity.Doc{}, true)

	var want []entity.UUID
	for _, folder := range []string{"products", "products/shoes", "products/shoes/kids", "productsx", "archive/products"} {
		m, err := f.store.UpsertModel(ctx, entity.ModelUpsert{
			CollectionID: f.assets.CollectionID,
			Type:         entity.Some("document"),
			Folder:       entity.Some(folder),
		})
		require.NoError(t, err)
		if folder == "products" || strings.HasPrefix(folder, "products/") {
			want = append(want, m.ModelID)
		}
	}
	f.model(t, f.assets, "document", entity.Doc{}, true)

	results, err := f.resolver.Resolve(ctx, f.context(t, source))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.ElementsMatch(t, want, ids(results[0].Page.Items))

	cfg, err := Parse([]byte(folderRules))
	require.NoError(t, err)
	for _, m := range results[0].Page.Items {
		ok, err := f.resolver.IsLinked(&cfg.Rules[0], f.context(t, source), m)
		require.NoError(t, err)
		assert.True(t, ok, "folder %v", *m.Folder)
	}
}

func TestLoad_MergesLegacyRules(t *testing.T) {
	ctx := context.Background()
	f := setup(t, skuRules)
	legacy := `{"version": 1, "rules": [
		{"id": "product-images", "match": {}, "asset_query": {"conditions": []}},
		{"id": "docs", "match": {"entity": "product"}, "order": 2, "asset_query": {
			"type": "document",
			"conditions": [{"asset_field": "data.custom.sku", "operator": "eq", "value_source": "model_field", "value": "sku"}],
			"base_conditions": []
		}}
	]}`
	_, err := f.configs.Put(ctx, project, configstore.LinkedAssets, json.RawMessage(legacy), nil)
	require.NoError(t, err)

	cfg, err := f.resolver.Load(ctx, project)
	require.NoError(t, err)
	require.Len(t, cfg.Rules, 2)
	docs, ok := cfg.Rule("docs")
	require.True(t, ok)
	assert.Equal(t, "data.custom.sku", docs.TargetQuery.Conditions[0].TargetField)
	assert.Equal(t, []Condition{}, docs.TargetQuery.BaseConditions)

	p1 := f.model(t, f.products, "product", entity.Doc{"sku": "X1"}, true)
	doc := f.model(t, f.assets, "document", entity.Doc{"custom": map[string]any{"sku": "X1"}}, false)
	results, err := f.resolver.Resolve(ctx, f.context(t, p1))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "docs", results[1].Rule.ID)
	assert.Equal(t, []entity.UUID{doc.ModelID}, ids(results[1].Page.Items), "empty base conditions include disabled models")
}

func TestUpload(t *testing.T) {
	ctx := context.Background()
	f := setup(t, skuRules)
	p1 := f.model(t, f.products, "product", entity.Doc{"sku": "X1"}, true)
	mc := f.context(t, p1)

	m, err := f.resolver.Upload(ctx, mc, UploadInput{RuleID: "product-images", MimeType: "image/png", Data: entity.Doc{"filename": "a.png"}})
	require.NoError(t, err)
	assert.Equal(t, "image", m.Type)
	assert.Equal(t, f.assets.CollectionID, m.CollectionID)
	assert.Equal(t, "a.png", m.Data["filename"])
	sku, _ := entity.Lookup(m.Data, "custom.sku")
	assert.Equal(t, "X1", sku)

	_, err = f.resolver.Upload(ctx, mc, UploadInput{RuleID: "product-images", MimeType: "application/pdf"})
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))

	_, err = f.resolver.Upload(ctx, mc, UploadInput{RuleID: "product-images", MimeType: "image/jpeg"})
	require.NoError(t, err)
	_, err = f.resolver.Upload(ctx, mc, UploadInput{RuleID: "product-images", MimeType: "image/jpeg"})
	var cerr *errs.CardinalityExceededError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, errs.SideUpload, cerr.Side)
	assert.Equal(t, 2, cerr.Limit)

	_, err = f.resolver.Upload(ctx, mc, UploadInput{RuleID: "nope", MimeType: "image/png"})
	assert.True(t, errs.IsNotFound(err))

	page, err := f.store.ListModels(ctx, f.assets.CollectionID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total, "a rejected upload leaves nothing behind")
}

func TestUnlink(t *testing.T) {
	ctx := context.Background()
	f := setup(t, skuRules)
	p1 := f.model(t, f.products, "product", entity.Doc{"sku": "X1"}, true)
	linked := f.model(t, f.assets, "image", entity.Doc{"custom": map[string]any{"sku": "X1", "alt": "front"}}, true)
	other := f.model(t, f.assets, "image", entity.Doc{"custom": map[string]any{"sku": "X2"}}, true)
	mc := f.context(t, p1)

	_, err := f.resolver.Unlink(ctx, mc, UnlinkInput{RuleID: "product-images", TargetID: linked.ModelID})
	assert.True(t, errors.Is(err, errs.ErrConfirmationRequired))

	_, err = f.resolver.Unlink(ctx, mc, UnlinkInput{RuleID: "product-images", TargetID: other.ModelID, Confirm: true})
	assert.True(t, errs.IsNotFound(err))

	m, err := f.resolver.Unlink(ctx, mc, UnlinkInput{RuleID: "product-images", TargetID: linked.ModelID, Confirm: true})
	require.NoError(t, err)
	_, has := entity.Lookup(m.Data, "custom.sku")
	assert.False(t, has)
	alt, _ := entity.Lookup(m.Data, "custom.alt")
	assert.Equal(t, "front", alt)

	results, err := f.resolver.Resolve(ctx, mc)
	require.NoError(t, err)
	assert.Empty(t, results[0].Page.Items)
}

func TestReferencedBy(t *testing.T) {
	ctx := context.Background()
	f := setup(t, skuRules)
	p1 := f.model(t, f.products, "product", entity.Doc{"sku": "X1"}, true)
	f.model(t, f.products, "product", entity.Doc{"sku": "X2"}, true)
	asset := f.model(t, f.assets, "image", entity.Doc{"custom": map[string]any{"sku": "X1"}}, true)
	doc := f.model(t, f.assets, "document", entity.Doc{"custom": map[string]any{"sku": "X1"}}, true)

	refs, err := f.resolver.ReferencedBy(ctx, f.context(t, asset))
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, f.products.CollectionID, refs[0].Collection.CollectionID)
	assert.Equal(t, []entity.UUID{p1.ModelID}, ids(refs[0].Page.Items))

	refs, err = f.resolver.ReferencedBy(ctx, f.context(t, doc))
	require.NoError(t, err)
	assert.Empty(t, refs, "the rule only targets images")

	_, err = f.resolver.ReferencedBy(ctx, f.context(t, p1))
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))
}
