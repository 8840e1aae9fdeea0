package validation

import (
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/schema"
)

// ApplyDefaults returns a copy of data with _default (or default) values
// filled in for absent top-level properties.
func ApplyDefaults(resolved *schema.Resolved, data map[string]any) map[string]any {
	out := entity.CloneDoc(data)
	if out == nil {
		out = map[string]any{}
	}
	resolved.Properties.Each(func(name string, def *schema.PropertyDefinition) {
		if _, ok := out[name]; ok {
			return
		}
		if v, ok := def.DefaultValue(); ok {
			if m, isMap := v.(map[string]any); isMap {
				v = entity.CloneDoc(m)
			}
			out[name] = v
		}
	})
	return out
}
