package entity

import "github.com/conduit-lang/collections/internal/orm/schema"

// Unlimited is the cardinality value that disables a limit.
const Unlimited = -1

// CardinalityAllows reports whether one more item fits under limit given
// current existing items.
func CardinalityAllows(limit, current int) bool {
	return limit < 0 || current < limit
}

// FolderDefinition describes a folder models can be filed under.
type FolderDefinition struct {
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
}

// TagDefinition describes a tag available to models in a collection.
type TagDefinition struct {
	Label string `json:"label,omitempty"`
	Color string `json:"color,omitempty"`
}

// Collection is a schema-governed container of models at a unique path
// within a project.
type Collection struct {
	CollectionID UUID                        `json:"collection_id"`
	ProjectID    UUID                        `json:"project_id"`
	Path         Path                        `json:"path"`
	Cardinality  int                         `json:"cardinality"`
	Types        []string                    `json:"types"`
	Schemas      schema.Types                `json:"schemas"`
	Defaults     map[string]Doc              `json:"defaults"`
	Data         Doc                         `json:"data"`
	Meta         Doc                         `json:"meta"`
	IsUnlisted   bool                        `json:"is_unlisted"`
	IsDeletable  bool                        `json:"is_deletable"`
	IsReadonly   bool                        `json:"is_readonly"`
	Folders      map[string]FolderDefinition `json:"folders"`
	Tags         map[string]TagDefinition    `json:"tags"`
	CreatedAt    Timestamp                   `json:"_created_at"`
	UpdatedAt    Timestamp                   `json:"_updated_at"`
	RestDisabled bool                        `json:"__is_rest_disabled,omitempty"`
}

// AllowsType reports whether models of typ may be stored. An empty type
// list allows every type that has a schema, and "default" when there are none.
func (c *Collection) AllowsType(typ string) bool {
	if len(c.Types) == 0 {
		if len(c.Schemas) == 0 {
			return true
		}
		_, ok := c.Schemas[typ]
		return ok
	}
	for _, t := range c.Types {
		if t == typ {
			return true
		}
	}
	return false
}

// DefaultType is the type assigned to models created without one.
func (c *Collection) DefaultType() string {
	if len(c.Types) > 0 {
		return c.Types[0]
	}
	return "default"
}

// CollectionInput is the write payload for creating or updating a collection.
type CollectionInput struct {
	Path         Optional[Path]                        `json:"path"`
	Cardinality  Optional[int]                         `json:"cardinality"`
	Types        Optional[[]string]                    `json:"types"`
	Schemas      Optional[schema.Types]                `json:"schemas"`
	Defaults     Optional[map[string]Doc]              `json:"defaults"`
	Data         Optional[Doc]                         `json:"data"`
	Meta         Optional[Doc]                         `json:"meta"`
	IsUnlisted   Optional[bool]                        `json:"is_unlisted"`
	IsDeletable  Optional[bool]                        `json:"is_deletable"`
	IsReadonly   Optional[bool]                        `json:"is_readonly"`
	Folders      Optional[map[string]FolderDefinition] `json:"folders"`
	Tags         Optional[map[string]TagDefinition]    `json:"tags"`
	RestDisabled Optional[bool]                        `json:"__is_rest_disabled"`
}

// Apply copies every sent field onto c. Null resets a field to its zero value
// except for flags, where null means the default.
func (in CollectionInput) Apply(c *Collection) {
	if in.Path.Present() {
		c.Path = in.Path.Val
	}
	if in.Cardinality.Set {
		c.Cardinality = in.Cardinality.Or(Unlimited)
	}
	if in.Types.Set {
		c.Types = in.Types.Val
	}
	if in.Schemas.Set {
		c.Schemas = in.Schemas.Val
	}
	if in.Defaults.Set {
		c.Defaults = in.Defaults.Val
	}
	if in.Data.Set {
		c.Data = in.Data.Val
	}
	if in.Meta.Set {
		c.Meta = in.Meta.Val
	}
	if in.IsUnlisted.Set {
		c.IsUnlisted = in.IsUnlisted.Or(false)
	}
	if in.IsDeletable.Set {
		c.IsDeletable = in.IsDeletable.Or(true)
	}
	if in.IsReadonly.Set {
		c.IsReadonly = in.IsReadonly.Or(false)
	}
	if in.Folders.Set {
		c.Folders = in.Folders.Val
	}
	if in.Tags.Set {
		c.Tags = in.Tags.Val
	}
	if in.RestDisabled.Set {
		c.RestDisabled = in.RestDisabled.Or(false)
	}
}

// NewCollection returns a collection with the defaults a fresh row gets.
func NewCollection(projectID UUID) *Collection {
	return &Collection{
		CollectionID: NewUUID(),
		ProjectID:    projectID,
		Cardinality:  Unlimited,
		IsDeletable:  true,
		Data:         Doc{},
		Meta:         Doc{},
	}
}
