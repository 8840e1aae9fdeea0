// Package linked resolves rule-based associations between models. A linked
// rule never stores an edge: the "link" is the set of target models whose
// fields currently match values taken from the source model, recomputed on
// every read.
package linked

import (
	"encoding/json"
	"fmt"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/query"
)

// ValueSource tells how a condition value is interpreted.
type ValueSource string

const (
	// Literal values are compared verbatim.
	Literal ValueSource = "literal"
	// ModelField values are dot-paths into the source model's data.
	ModelField ValueSource = "model_field"
)

// Defaults applied when a rule leaves a field out.
const (
	DefaultDomain    = "asset"
	DefaultEntity    = "asset"
	DefaultAccept    = "image/*"
	DefaultLimit     = 20
	DefaultColumns   = 4
	DefaultThumbnail = "sm"
)

// Condition matches one field of the target model.
type Condition struct {
	TargetField string         `json:"target_field"`
	Operator    query.Operator `json:"operator"`
	ValueSource ValueSource    `json:"value_source"`
	Value       any            `json:"value"`
}

// UploadConfig turns a rule into a write surface: uploading creates a target
// model and copies source fields onto it.
type UploadConfig struct {
	// AutoFillCustom maps a target data path to a source data path.
	AutoFillCustom map[string]string `json:"auto_fill_custom"`
	Type           string            `json:"type,omitempty"`
	Accept         string            `json:"accept,omitempty"`
	Cardinality    *int              `json:"cardinality,omitempty"`
}

// AcceptPattern returns the MIME patterns uploads must match.
func (u *UploadConfig) AcceptPattern() string {
	if u.Accept == "" {
		return DefaultAccept
	}
	return u.Accept
}

// Limit returns the maximum number of linked targets, or entity.Unlimited.
func (u *UploadConfig) Limit() int {
	if u.Cardinality == nil {
		return entity.Unlimited
	}
	return *u.Cardinality
}

// UnlinkConfig names the target field cleared on unlink.
type UnlinkConfig struct {
	Field   string `json:"field"`
	Confirm *bool  `json:"confirm,omitempty"`
}

// NeedsConfirm defaults to true.
func (u *UnlinkConfig) NeedsConfirm() bool {
	return u.Confirm == nil || *u.Confirm
}

// QueryConfig selects the target models of a rule.
type QueryConfig struct {
	Domain         string      `json:"domain,omitempty"`
	Entity         string      `json:"entity,omitempty"`
	Type           string      `json:"type,omitempty"`
	Conditions     []Condition `json:"conditions"`
	BaseConditions []Condition `json:"base_conditions,omitempty"`
}

// Target returns the domain and entity with defaults applied.
func (q QueryConfig) Target() (domain, ent string) {
	domain, ent = q.Domain, q.Entity
	if domain == "" {
		domain = DefaultDomain
	}
	if ent == "" {
		ent = DefaultEntity
	}
	return domain, ent
}

// Base returns the base conditions, is_enabled = true unless configured.
func (q QueryConfig) Base() []Condition {
	if q.BaseConditions != nil {
		return q.BaseConditions
	}
	return []Condition{{TargetField: "is_enabled", Operator: query.OpEq, ValueSource: Literal, Value: true}}
}

// MatchConfig gates a rule on the source model's context. Empty fields
// match anything.
type MatchConfig struct {
	Domain string `json:"domain,omitempty"`
	Entity string `json:"entity,omitempty"`
	Type   string `json:"type,omitempty"`
}

// Matches reports whether every set field equals the context's.
func (m MatchConfig) Matches(mc ModelContext) bool {
	return (m.Domain == "" || m.Domain == mc.Domain) &&
		(m.Entity == "" || m.Entity == mc.Entity) &&
		(m.Type == "" || m.Type == mc.Type)
}

// DisplayOptions control how linked items are rendered.
type DisplayOptions struct {
	Limit            *int   `json:"limit,omitempty"`
	Columns          *int   `json:"columns,omitempty"`
	ShowFilename     *bool  `json:"show_filename,omitempty"`
	ThumbnailVariant string `json:"thumbnail_variant,omitempty"`
}

// Display is DisplayOptions with every default filled in.
type Display struct {
	Limit            int    `json:"limit"`
	Columns          int    `json:"columns"`
	ShowFilename     bool   `json:"show_filename"`
	ThumbnailVariant string `json:"thumbnail_variant"`
}

// ReverseTarget is a collection context that shows "referenced by" lookups.
type ReverseTarget struct {
	Domain string `json:"domain"`
	Entity string `json:"entity"`
	Type   string `json:"type,omitempty"`
}

// ReverseConfig enables reverse lookups.
type ReverseConfig struct {
	EnabledCollections []ReverseTarget `json:"enabled_collections"`
}

// Enabled reports whether mc may show reverse lookups.
func (r *ReverseConfig) Enabled(mc ModelContext) bool {
	if r == nil {
		return false
	}
	for _, t := range r.EnabledCollections {
		if t.Domain == mc.Domain && t.Entity == mc.Entity && (t.Type == "" || t.Type == mc.Type) {
			return true
		}
	}
	return false
}

// Rule is a single linked rule.
type Rule struct {
	ID          string          `json:"id"`
	Label       entity.Label    `json:"label"`
	Description *entity.Label   `json:"description,omitempty"`
	Match       MatchConfig     `json:"match"`
	TargetQuery QueryConfig     `json:"target_query"`
	Upload      *UploadConfig   `json:"upload,omitempty"`
	Unlink      *UnlinkConfig   `json:"unlink,omitempty"`
	Enabled     *bool           `json:"enabled,omitempty"`
	Order       int             `json:"order,omitempty"`
	Display     *DisplayOptions `json:"display,omitempty"`
}

// IsEnabled defaults to true.
func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Config is the document stored under the linked config name.
type Config struct {
	Version  int             `json:"version"`
	Rules    []Rule          `json:"rules"`
	Defaults *DisplayOptions `json:"defaults,omitempty"`
	Reverse  *ReverseConfig  `json:"reverse,omitempty"`
}

// Parse decodes and validates a config document.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("invalid linked config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks rule ids and compiles every condition against the model
// fields.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Rules))
	for i := range c.Rules {
		r := &c.Rules[i]
		if r.ID == "" {
			return fmt.Errorf("linked rule %d: id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("linked rule %q: duplicate id", r.ID)
		}
		seen[r.ID] = true
		for _, conds := range [][]Condition{r.TargetQuery.BaseConditions, r.TargetQuery.Conditions} {
			for _, cond := range conds {
				if err := cond.validate(); err != nil {
					return fmt.Errorf("linked rule %q: %w", r.ID, err)
				}
			}
		}
		if r.Unlink != nil && r.Unlink.Field == "" {
			return fmt.Errorf("linked rule %q: unlink field is required", r.ID)
		}
	}
	return nil
}

func (c Condition) validate() error {
	if c.TargetField == "" {
		return fmt.Errorf("condition target_field is required")
	}
	op, err := query.ParseOperator(string(c.Operator))
	if err != nil {
		return err
	}
	switch c.ValueSource {
	case Literal, "":
		err = query.ModelFields.Check(query.Cond(c.TargetField, op, c.Value))
	case ModelField:
		if s, ok := c.Value.(string); !ok || s == "" {
			return fmt.Errorf("condition on %s: model_field value must be a field path", c.TargetField)
		}
		err = query.ModelFields.Supports(c.TargetField, op)
	default:
		return fmt.Errorf("condition on %s: unknown value_source %q", c.TargetField, c.ValueSource)
	}
	if err != nil {
		return fmt.Errorf("condition on %s: %w", c.TargetField, err)
	}
	return nil
}

// DisplayFor merges a rule's display options over the config defaults.
func (c *Config) DisplayFor(r *Rule) Display {
	out := Display{Limit: DefaultLimit, Columns: DefaultColumns, ShowFilename: true, ThumbnailVariant: DefaultThumbnail}
	for _, o := range []*DisplayOptions{c.Defaults, r.Display} {
		if o == nil {
			continue
		}
		if o.Limit != nil {
			out.Limit = *o.Limit
		}
		if o.Columns != nil {
			out.Columns = *o.Columns
		}
		if o.ShowFilename != nil {
			out.ShowFilename = *o.ShowFilename
		}
		if o.ThumbnailVariant != "" {
			out.ThumbnailVariant = o.ThumbnailVariant
		}
	}
	return out
}

// Rule returns the rule with the given id.
func (c *Config) Rule(id string) (*Rule, bool) {
	for i := range c.Rules {
		if c.Rules[i].ID == id {
			return &c.Rules[i], true
		}
	}
	return nil, false
}

// LegacyCondition is the asset-only condition form.
type LegacyCondition struct {
	AssetField  string         `json:"asset_field"`
	Operator    query.Operator `json:"operator"`
	ValueSource ValueSource    `json:"value_source"`
	Value       any            `json:"value"`
}

// LegacyQuery is the asset-only query form.
type LegacyQuery struct {
	Domain         string            `json:"domain,omitempty"`
	Entity         string            `json:"entity,omitempty"`
	Type           string            `json:"type,omitempty"`
	Conditions     []LegacyCondition `json:"conditions"`
	BaseConditions []LegacyCondition `json:"base_conditions,omitempty"`
}

// LegacyRule is a rule of the older linked assets document.
type LegacyRule struct {
	ID          string        `json:"id"`
	Label       entity.Label  `json:"label"`
	Description *entity.Label `json:"description,omitempty"`
	Match       MatchConfig   `json:"match"`
	AssetQuery  LegacyQuery   `json:"asset_query"`
	Upload      *UploadConfig `json:"upload,omitempty"`
	Unlink      *UnlinkConfig `json:"unlink,omitempty"`
	Enabled     *bool         `json:"enabled,omitempty"`
	Order       int           `json:"order,omitempty"`
}

// LegacyConfig is the older linked assets document.
type LegacyConfig struct {
	Version int          `json:"version"`
	Rules   []LegacyRule `json:"rules"`
}

// Convert rewrites a legacy document in the generic form.
func (l *LegacyConfig) Convert() *Config {
	out := &Config{Version: l.Version, Rules: make([]Rule, 0, len(l.Rules))}
	for _, lr := range l.Rules {
		q := QueryConfig{
			Domain:     lr.AssetQuery.Domain,
			Entity:     lr.AssetQuery.Entity,
			Type:       lr.AssetQuery.Type,
			Conditions: convertConditions(lr.AssetQuery.Conditions),
		}
		if lr.AssetQuery.BaseConditions != nil {
			q.BaseConditions = convertConditions(lr.AssetQuery.BaseConditions)
		}
		out.Rules = append(out.Rules, Rule{
			ID:          lr.ID,
			Label:       lr.Label,
			Description: lr.Description,
			Match:       lr.Match,
			TargetQuery: q,
			Upload:      lr.Upload,
			Unlink:      lr.Unlink,
			Enabled:     lr.Enabled,
			Order:       lr.Order,
		})
	}
	return out
}

func convertConditions(in []LegacyCondition) []Condition {
	out := make([]Condition, len(in))
	for i, c := range in {
		out[i] = Condition{TargetField: c.AssetField, Operator: c.Operator, ValueSource: c.ValueSource, Value: c.Value}
	}
	return out
}

// merge appends rules of other whose ids are not taken yet.
func (c *Config) merge(other *Config) {
	for _, r := range other.Rules {
		if _, taken := c.Rule(r.ID); !taken {
			c.Rules = append(c.Rules, r)
		}
	}
}
