package entity

// Colors are the seven named color flags a model can carry.
type Colors struct {
	Red    bool `json:"red"`
	Orange bool `json:"orange"`
	Yellow bool `json:"yellow"`
	Green  bool `json:"green"`
	Blue   bool `json:"blue"`
	Purple bool `json:"purple"`
	Gray   bool `json:"gray"`
}

// Model is a typed record inside a collection.
type Model struct {
	ModelID      UUID     `json:"model_id"`
	CollectionID UUID     `json:"collection_id"`
	Type         string   `json:"type"`
	ParentID     *UUID    `json:"parent_id"`
	Path         *Path    `json:"path"`
	Folder       *string  `json:"folder"`
	Tags         []string `json:"tags"`
	Data         Doc      `json:"data"`
	Meta         Doc      `json:"meta"`
	IsUnlisted   bool     `json:"is_unlisted"`
	IsDeletable  bool     `json:"is_deletable"`
	IsReadonly   bool     `json:"is_readonly"`
	IsStarred    bool     `json:"is_starred"`
	IsEnabled    bool     `json:"is_enabled"`
	Colors

	Label          *Label    `json:"_label"`
	HierarchyLabel *string   `json:"_hierarchy_label"`
	CreatedAt      Timestamp `json:"_created_at"`
	UpdatedAt      Timestamp `json:"_updated_at"`

	RestDisabled  bool           `json:"__is_rest_disabled,omitempty"`
	Searchable    map[string]any `json:"__searchable,omitempty"`
	Searchable2   string         `json:"__searchable2,omitempty"`
	HierarchyPath *Path          `json:"__hierarchy_path,omitempty"`
}

// NewModel returns a model with the defaults a fresh row gets.
func NewModel(collectionID UUID, typ string) *Model {
	return &Model{
		ModelID:      NewUUID(),
		CollectionID: collectionID,
		Type:         typ,
		Tags:         []string{},
		Data:         Doc{},
		Meta:         Doc{},
		IsDeletable:  true,
		IsEnabled:    true,
	}
}

// Public strips the internal index fields before a model leaves the engine.
func (m *Model) Public() *Model {
	out := *m
	out.Searchable = nil
	out.Searchable2 = ""
	out.HierarchyPath = nil
	out.RestDisabled = false
	return &out
}

// ModelUpsert is the write payload for a model. An empty ModelID creates a
// new model; otherwise the existing model is updated with the sent fields.
type ModelUpsert struct {
	ModelID      UUID               `json:"model_id"`
	CollectionID UUID               `json:"collection_id"`
	Type         Optional[string]   `json:"type"`
	ParentID     Optional[UUID]     `json:"parent_id"`
	Path         Optional[Path]     `json:"path"`
	Folder       Optional[string]   `json:"folder"`
	Tags         Optional[[]string] `json:"tags"`
	Data         Optional[Doc]      `json:"data"`
	Meta         Optional[Doc]      `json:"meta"`
	IsUnlisted   Optional[bool]     `json:"is_unlisted"`
	IsDeletable  Optional[bool]     `json:"is_deletable"`
	IsReadonly   Optional[bool]     `json:"is_readonly"`
	IsStarred    Optional[bool]     `json:"is_starred"`
	IsEnabled    Optional[bool]     `json:"is_enabled"`
	Red          Optional[bool]     `json:"red"`
	Orange       Optional[bool]     `json:"orange"`
	Yellow       Optional[bool]     `json:"yellow"`
	Green        Optional[bool]     `json:"green"`
	Blue         Optional[bool]     `json:"blue"`
	Purple       Optional[bool]     `json:"purple"`
	Gray         Optional[bool]     `json:"gray"`
	RestDisabled Optional[bool]     `json:"__is_rest_disabled"`

	// ExpectedUpdatedAt enables an optimistic concurrency check on update.
	ExpectedUpdatedAt *Timestamp `json:"_updated_at,omitempty"`

	// Relations replaces the edge set per relation type name.
	Relations map[string][]UUID `json:"__relations__,omitempty"`
}

// ApplyFields copies the plain (non-structural) sent fields onto m. Type,
// parent and path are handled by the store because they need validation.
func (in ModelUpsert) ApplyFields(m *Model) {
	if in.Folder.Set {
		m.Folder = in.Folder.Ptr()
	}
	if in.Tags.Set {
		m.Tags = in.Tags.Or([]string{})
	}
	if in.Data.Set {
		m.Data = in.Data.Or(Doc{})
	}
	if in.Meta.Set {
		m.Meta = in.Meta.Or(Doc{})
	}
	setFlag(&m.IsUnlisted, in.IsUnlisted, false)
	setFlag(&m.IsDeletable, in.IsDeletable, true)
	setFlag(&m.IsReadonly, in.IsReadonly, false)
	setFlag(&m.IsStarred, in.IsStarred, false)
	setFlag(&m.IsEnabled, in.IsEnabled, true)
	setFlag(&m.Red, in.Red, false)
	setFlag(&m.Orange, in.Orange, false)
	setFlag(&m.Yellow, in.Yellow, false)
	setFlag(&m.Green, in.Green, false)
	setFlag(&m.Blue, in.Blue, false)
	setFlag(&m.Purple, in.Purple, false)
	setFlag(&m.Gray, in.Gray, false)
	setFlag(&m.RestDisabled, in.RestDisabled, false)
}

// OnlyFlags reports whether the payload changes nothing but flags and
// colors. Readonly models accept such updates so they can be unlocked.
func (in ModelUpsert) OnlyFlags() bool {
	return !in.Type.Set && !in.ParentID.Set && !in.Path.Set && !in.Folder.Set &&
		!in.Tags.Set && !in.Data.Set && !in.Meta.Set && in.Relations == nil
}

func setFlag(dst *bool, v Optional[bool], def bool) {
	if v.Set {
		*dst = v.Or(def)
	}
}
