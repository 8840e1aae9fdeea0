package store

import (
	"context"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/validation"
)

// ValidateData checks data the way a new model of typ in c would be
// checked, without writing. An empty typ means the collection's default
// type. The returned document has collection and schema defaults applied.
func (s *Store) ValidateData(ctx context.Context, c *entity.Collection, typ string, data entity.Doc) (entity.Doc, error) {
	if typ == "" {
		typ = c.DefaultType()
	}
	if !c.AllowsType(typ) {
		verr := &errs.SchemaValidationError{}
		verr.Add("type", "enum", typ, "type %q is not allowed in collection %s", typ, c.Path)
		return nil, verr
	}
	resolved, err := s.Schema(c, typ)
	if err != nil {
		return nil, err
	}
	out := validation.ApplyDefaults(resolved, entity.MergeDoc(c.Defaults[typ], data))
	target := validation.Target{CollectionID: c.CollectionID, Type: typ}
	if err := s.validator.Validate(ctx, target, resolved, out); err != nil {
		return nil, err
	}
	return out, nil
}
