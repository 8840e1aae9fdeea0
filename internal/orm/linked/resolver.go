package linked

import (
	"context"
	"database/sql"
	"fmt"
	"mime"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/orm/configstore"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/query"
	"github.com/conduit-lang/collections/internal/orm/store"
)

// Resolver evaluates linked rules against the store.
type Resolver struct {
	store   *store.Store
	configs *configstore.Store
	logger  *zap.Logger
}

// NewResolver creates a resolver.
func NewResolver(s *store.Store, configs *configstore.Store) *Resolver {
	return &Resolver{store: s, configs: configs, logger: s.Logger().Named("linked")}
}

// Load returns the linked config of a project. The legacy linked assets
// document is converted and its rules added when their ids are free. A
// project without either document gets an empty config.
func (r *Resolver) Load(ctx context.Context, projectID entity.UUID) (*Config, error) {
	cfg := &Config{Version: 1}
	rec, err := r.configs.Get(ctx, projectID, configstore.Linked)
	switch {
	case err == nil:
		if cfg, err = Parse(rec.Data); err != nil {
			return nil, errs.Invalid("%v", err)
		}
	case !errs.IsNotFound(err):
		return nil, err
	}

	var legacy LegacyConfig
	found, err := r.configs.Decode(ctx, projectID, configstore.LinkedAssets, &legacy)
	if err != nil {
		return nil, err
	}
	if found {
		converted := legacy.Convert()
		if err := converted.Validate(); err != nil {
			return nil, errs.Invalid("%v", err)
		}
		cfg.merge(converted)
	}
	return cfg, nil
}

// Save validates and stores the linked config of a project.
func (r *Resolver) Save(ctx context.Context, projectID entity.UUID, data []byte, expectedVersion *int) (*configstore.Record, error) {
	if _, err := Parse(data); err != nil {
		return nil, errs.Invalid("%v", err)
	}
	return r.configs.Put(ctx, projectID, configstore.Linked, data, expectedVersion)
}

// Context loads a model and derives its context.
func (r *Resolver) Context(ctx context.Context, modelID entity.UUID) (ModelContext, error) {
	m, err := r.store.GetModel(ctx, modelID)
	if err != nil {
		return ModelContext{}, err
	}
	c, err := r.store.GetCollection(ctx, m.CollectionID)
	if err != nil {
		return ModelContext{}, err
	}
	return ContextFor(c, m), nil
}

// Result is the outcome of one rule.
type Result struct {
	Rule       *Rule                      `json:"rule"`
	Collection *entity.Collection         `json:"collection"`
	Display    Display                    `json:"display"`
	Page       *query.Page[*entity.Model] `json:"page"`
}

// Resolve runs every matching rule for mc. Rules whose target collection
// does not exist are skipped.
func (r *Resolver) Resolve(ctx context.Context, mc ModelContext) ([]Result, error) {
	cfg, err := r.Load(ctx, mc.ProjectID)
	if err != nil {
		return nil, err
	}
	out := []Result{}
	for _, rule := range cfg.MatchingRules(mc) {
		target, err := r.targetCollection(ctx, mc.ProjectID, rule)
		if errs.IsNotFound(err) {
			r.logger.Warn("linked rule target collection not found", zap.String("rule", rule.ID), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		display := cfg.DisplayFor(rule)
		limit := display.Limit
		page, err := r.store.ListModels(ctx, target.CollectionID, &query.Syntax{
			Where: query.Where{Group: *BuildQuery(rule, mc.Model)},
			Limit: &limit,
		})
		if err != nil {
			return nil, fmt.Errorf("linked rule %s: %w", rule.ID, err)
		}
		out = append(out, Result{Rule: rule, Collection: target, Display: display, Page: page})
	}
	return out, nil
}

// ResolveRule runs a single rule for mc with explicit paging.
func (r *Resolver) ResolveRule(ctx context.Context, mc ModelContext, ruleID string, syntax *query.Syntax) (*Result, error) {
	cfg, rule, err := r.rule(ctx, mc, ruleID)
	if err != nil {
		return nil, err
	}
	target, err := r.targetCollection(ctx, mc.ProjectID, rule)
	if err != nil {
		return nil, err
	}
	display := cfg.DisplayFor(rule)
	q := query.Syntax{}
	if syntax != nil {
		q = *syntax
	}
	g := BuildQuery(rule, mc.Model)
	if !q.Where.IsEmpty() {
		g.AddGroup(&q.Where.Group)
	}
	q.Where = query.Where{Group: *g}
	if q.Limit == nil {
		q.Limit = &display.Limit
	}
	page, err := r.store.ListModels(ctx, target.CollectionID, &q)
	if err != nil {
		return nil, err
	}
	return &Result{Rule: rule, Collection: target, Display: display, Page: page}, nil
}

// IsLinked reports whether target currently satisfies the rule for mc.
func (r *Resolver) IsLinked(rule *Rule, mc ModelContext, target *entity.Model) (bool, error) {
	rec, err := query.Record(target)
	if err != nil {
		return false, err
	}
	return query.Matches(query.ModelFields, BuildQuery(rule, mc.Model), rec)
}

// UploadInput describes a new target model created through a rule.
type UploadInput struct {
	RuleID   string
	MimeType string
	Path     *entity.Path
	Data     entity.Doc
	Meta     entity.Doc
}

// Upload creates a target model of the rule's upload type and copies the
// auto-fill fields from the source model onto it. The upload cardinality is
// checked in the same transaction as the insert.
func (r *Resolver) Upload(ctx context.Context, mc ModelContext, in UploadInput) (*entity.Model, error) {
	_, rule, err := r.rule(ctx, mc, in.RuleID)
	if err != nil {
		return nil, err
	}
	up := rule.Upload
	if up == nil {
		return nil, errs.Invalid("linked rule %s does not accept uploads", rule.ID)
	}
	if !AcceptsMIME(up.AcceptPattern(), in.MimeType) {
		return nil, errs.Invalid("linked rule %s does not accept %q", rule.ID, in.MimeType)
	}
	target, err := r.targetCollection(ctx, mc.ProjectID, rule)
	if err != nil {
		return nil, err
	}

	typ := up.Type
	if typ == "" {
		typ = rule.TargetQuery.Type
	}
	if typ == "" {
		typ = target.DefaultType()
	}

	data := entity.CloneDoc(in.Data)
	if data == nil {
		data = entity.Doc{}
	}
	for targetPath, sourcePath := range up.AutoFillCustom {
		v, ok := entity.Lookup(mc.Model.Data, sourcePath)
		if !ok {
			return nil, errs.Invalid("linked rule %s: source field %s is not set", rule.ID, sourcePath)
		}
		entity.SetPath(data, targetPath, v)
	}

	var created *entity.Model
	err = r.store.Transactions().InTransaction(ctx, func(ctx context.Context, _ *sql.Tx) error {
		if limit := up.Limit(); limit >= 0 {
			one := 1
			page, err := r.store.ListModels(ctx, target.CollectionID, &query.Syntax{
				Where: query.Where{Group: *BuildQuery(rule, mc.Model)},
				Limit: &one,
			})
			if err != nil {
				return err
			}
			if !entity.CardinalityAllows(limit, page.Total) {
				return &errs.CardinalityExceededError{Subject: "linked rule " + rule.ID, Side: errs.SideUpload, Limit: limit}
			}
		}
		upsert := entity.ModelUpsert{
			CollectionID: target.CollectionID,
			Type:         entity.Some(typ),
			Data:         entity.Some(entity.Doc(data)),
		}
		if in.Meta != nil {
			upsert.Meta = entity.Some(in.Meta)
		}
		if in.Path != nil {
			upsert.Path = entity.Some(*in.Path)
		}
		var err error
		created, err = r.store.UpsertModel(ctx, upsert)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("linked upload",
		zap.String("rule", rule.ID),
		zap.String("source", string(mc.Model.ModelID)),
		zap.String("model_id", string(created.ModelID)))
	return created, nil
}

// UnlinkInput removes a target from a rule's result set.
type UnlinkInput struct {
	RuleID   string
	TargetID entity.UUID
	Confirm  bool
}

// Unlink clears the rule's unlink field on the target model so that it no
// longer matches. No relation row is involved.
func (r *Resolver) Unlink(ctx context.Context, mc ModelContext, in UnlinkInput) (*entity.Model, error) {
	_, rule, err := r.rule(ctx, mc, in.RuleID)
	if err != nil {
		return nil, err
	}
	un := rule.Unlink
	if un == nil {
		return nil, errs.Invalid("linked rule %s does not support unlink", rule.ID)
	}
	if un.NeedsConfirm() && !in.Confirm {
		return nil, fmt.Errorf("%w: unlinking through rule %s", errs.ErrConfirmationRequired, rule.ID)
	}

	var updated *entity.Model
	err = r.store.Transactions().InTransaction(ctx, func(ctx context.Context, _ *sql.Tx) error {
		target, err := r.store.GetModel(ctx, in.TargetID)
		if err != nil {
			return err
		}
		linked, err := r.IsLinked(rule, mc, target)
		if err != nil {
			return err
		}
		if !linked {
			return errs.NotFound("linked model", string(in.TargetID))
		}
		data := entity.CloneDoc(target.Data)
		if !entity.DeletePath(data, un.Field) {
			updated = target
			return nil
		}
		expected := target.UpdatedAt
		updated, err = r.store.UpsertModel(ctx, entity.ModelUpsert{
			ModelID:           target.ModelID,
			Data:              entity.Some(entity.Doc(data)),
			ExpectedUpdatedAt: &expected,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("linked unlink", zap.String("rule", rule.ID), zap.String("model_id", string(in.TargetID)))
	return updated, nil
}

// Reference groups the source models that link to a target through a rule.
type Reference struct {
	Rule       *Rule                      `json:"rule"`
	Collection *entity.Collection         `json:"collection"`
	Page       *query.Page[*entity.Model] `json:"page"`
}

// ReferencedBy is the reverse lookup: the source models whose rules
// currently resolve to the target in mc. It is only available for contexts
// listed in the reverse config. Rules are reversible when they name a
// source entity and every model_field condition uses eq.
func (r *Resolver) ReferencedBy(ctx context.Context, mc ModelContext) ([]Reference, error) {
	cfg, err := r.Load(ctx, mc.ProjectID)
	if err != nil {
		return nil, err
	}
	if !cfg.Reverse.Enabled(mc) {
		return nil, errs.Invalid("reverse lookups are not enabled for %s.%s", mc.Domain, mc.Entity)
	}
	rec, err := query.Record(mc.Model)
	if err != nil {
		return nil, err
	}

	out := []Reference{}
	for i := range cfg.Rules {
		rule := &cfg.Rules[i]
		domain, ent := rule.TargetQuery.Target()
		if !rule.IsEnabled() || domain != mc.Domain || ent != mc.Entity || rule.Match.Entity == "" {
			continue
		}
		g, ok, err := reverseQuery(rule, rec)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		source, err := r.collection(ctx, mc.ProjectID, rule.Match.Domain, rule.Match.Entity)
		if errs.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if rule.Match.Type != "" {
			g.Add(query.Cond("type", query.OpEq, rule.Match.Type))
		}
		limit := cfg.DisplayFor(rule).Limit
		page, err := r.store.ListModels(ctx, source.CollectionID, &query.Syntax{Where: query.Where{Group: *g}, Limit: &limit})
		if err != nil {
			return nil, err
		}
		out = append(out, Reference{Rule: rule, Collection: source, Page: page})
	}
	return out, nil
}

// reverseQuery turns the rule inside out for a target record. Literal
// conditions are checked against the target directly; eq model_field
// conditions become conditions on the source data.
func reverseQuery(rule *Rule, target map[string]any) (*query.Group, bool, error) {
	literal := query.And()
	if rule.TargetQuery.Type != "" {
		literal.Add(query.Cond("type", query.OpEq, rule.TargetQuery.Type))
	}
	g := query.And()
	for _, c := range append(append([]Condition{}, rule.TargetQuery.Base()...), rule.TargetQuery.Conditions...) {
		op, err := query.ParseOperator(string(c.Operator))
		if err != nil {
			return nil, false, errs.Invalid("%v", err)
		}
		if c.ValueSource != ModelField {
			literal.Add(query.Cond(c.TargetField, op, c.Value))
			continue
		}
		if op != query.OpEq {
			return nil, false, nil
		}
		v, ok := lookupField(target, c.TargetField)
		if !ok || v == nil {
			return nil, false, nil
		}
		g.Add(query.Cond("data."+c.Value.(string), query.OpEq, v))
	}
	ok, err := query.Matches(query.ModelFields, literal, target)
	if err != nil || !ok {
		return nil, false, err
	}
	if g.IsEmpty() {
		return nil, false, nil
	}
	return g, true, nil
}

// lookupField reads a model field the way the query engine resolves it:
// unknown top-level names live under data.
func lookupField(record map[string]any, field string) (any, bool) {
	if v, ok := entity.Lookup(record, field); ok {
		return v, true
	}
	return entity.Lookup(record, "data."+field)
}

func (r *Resolver) rule(ctx context.Context, mc ModelContext, id string) (*Config, *Rule, error) {
	cfg, err := r.Load(ctx, mc.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	rule, ok := cfg.Rule(id)
	if !ok || !rule.IsEnabled() || !rule.Match.Matches(mc) {
		return nil, nil, errs.NotFound("linked rule", id)
	}
	return cfg, rule, nil
}

func (r *Resolver) targetCollection(ctx context.Context, projectID entity.UUID, rule *Rule) (*entity.Collection, error) {
	domain, ent := rule.TargetQuery.Target()
	return r.collection(ctx, projectID, domain, ent)
}

// collection finds the collection of a domain and entity: "domain.entity"
// first, then "entity" on its own.
func (r *Resolver) collection(ctx context.Context, projectID entity.UUID, domain, ent string) (*entity.Collection, error) {
	var candidates []string
	if domain != "" && domain != ent {
		candidates = append(candidates, domain+"."+ent)
	}
	candidates = append(candidates, ent)
	for _, cand := range candidates {
		p, err := entity.ParsePath(cand)
		if err != nil {
			continue
		}
		c, err := r.store.GetCollectionByPath(ctx, projectID, p)
		if err == nil {
			return c, nil
		}
		if !errs.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, errs.NotFound("collection", strings.Join(candidates, " or "))
}

// AcceptsMIME matches a MIME type against a comma separated accept list
// such as "image/*, application/pdf".
func AcceptsMIME(accept, mimeType string) bool {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	for _, pattern := range strings.Split(accept, ",") {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		switch {
		case pattern == "":
			continue
		case pattern == "*" || pattern == "*/*":
			return true
		case strings.HasSuffix(pattern, "/*"):
			if strings.HasPrefix(mt, strings.TrimSuffix(pattern, "*")) {
				return true
			}
		case pattern == mt:
			return true
		}
	}
	return false
}
