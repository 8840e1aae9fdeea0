package entity

import (
	"bytes"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

// Doc is a free-form JSON object stored in a JSON column (data, meta, defaults).
type Doc map[string]any

// Scan implements sql.Scanner.
func (d *Doc) Scan(src any) error {
	var m map[string]any
	if err := scanJSON(src, &m); err != nil {
		return err
	}
	*d = m
	return nil
}

// Value implements driver.Valuer. A nil Doc is stored as "{}".
func (d Doc) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(d))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// JSONColumn adapts any JSON-serialisable value to a column.
// It is used for structured columns such as schemas, folders and tags.
func JSONColumn(v any) interface {
	sql.Scanner
	driver.Valuer
} {
	return &jsonColumn{v: v}
}

type jsonColumn struct {
	v any
}

func (c *jsonColumn) Scan(src any) error {
	return scanJSON(src, c.v)
}

func (c *jsonColumn) Value() (driver.Value, error) {
	b, err := json.Marshal(c.v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanJSON(src any, dst any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	case map[string]any:
		// pgx may decode jsonb itself
		var err error
		if b, err = json.Marshal(v); err != nil {
			return err
		}
	default:
		return fmt.Errorf("cannot scan %T as JSON", src)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(dst)
}

// Label is a string that may be localized (a map of locale to text).
type Label struct {
	Text    string
	Locales map[string]string
}

// IsLocalized reports whether the label carries per-locale text.
func (l Label) IsLocalized() bool { return l.Locales != nil }

// String returns the plain text, or for a localized label the text of the
// first locale in sorted order.
func (l Label) String() string {
	if !l.IsLocalized() {
		return l.Text
	}
	keys := make([]string, 0, len(l.Locales))
	for k := range l.Locales {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if l.Locales[k] != "" {
			return l.Locales[k]
		}
	}
	return ""
}

// In returns the text for locale, falling back to String.
func (l Label) In(locale string) string {
	if s, ok := l.Locales[locale]; ok && s != "" {
		return s
	}
	return l.String()
}

// LabelFrom builds a label from a data value. Only strings, numbers and
// string maps produce a label.
func LabelFrom(v any) (Label, bool) {
	switch t := v.(type) {
	case string:
		return Label{Text: t}, true
	case json.Number:
		return Label{Text: t.String()}, true
	case float64, int, int64:
		return Label{Text: fmt.Sprint(t)}, true
	case map[string]any:
		locales := make(map[string]string, len(t))
		for k, e := range t {
			if s, ok := e.(string); ok {
				locales[k] = s
			}
		}
		if len(locales) == 0 {
			return Label{}, false
		}
		return Label{Locales: locales}, true
	}
	return Label{}, false
}

// MarshalJSON writes a plain string or a locale object.
func (l Label) MarshalJSON() ([]byte, error) {
	if l.IsLocalized() {
		return json.Marshal(l.Locales)
	}
	return json.Marshal(l.Text)
}

// UnmarshalJSON accepts a string or a locale object.
func (l *Label) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*l = Label{Text: s}
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("label must be a string or a locale map: %w", err)
	}
	*l = Label{Locales: m}
	return nil
}

// Scan implements sql.Scanner over the JSON-encoded label column.
func (l *Label) Scan(src any) error {
	return scanJSON(src, l)
}

// Value implements driver.Valuer.
func (l Label) Value() (driver.Value, error) {
	b, err := l.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
