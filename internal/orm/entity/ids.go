// Package entity defines the records stored by the collections engine: collections,
// models, relation types and relation edges, together with the opaque identifier,
// path and timestamp types they are keyed by.
package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UUID is a canonical, lower-case RFC 4122 identifier.
// The zero value means "no id".
type UUID string

// NewUUID generates a random identifier.
func NewUUID() UUID {
	return UUID(uuid.NewString())
}

// ParseUUID validates s and returns it in canonical form.
func ParseUUID(s string) (UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid uuid %q: %w", s, err)
	}
	return UUID(u.String()), nil
}

// MustParseUUID is ParseUUID for constants in tests and fixtures.
func MustParseUUID(s string) UUID {
	id, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IsZero reports whether the id is unset.
func (u UUID) IsZero() bool { return u == "" }

// String returns the canonical text form.
func (u UUID) String() string { return string(u) }

// Ptr returns a pointer to a copy of u.
func (u UUID) Ptr() *UUID { return &u }

// UnmarshalJSON rejects malformed identifiers at the wire boundary.
func (u *UUID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*u = ""
		return nil
	}
	parsed, err := ParseUUID(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Scan implements sql.Scanner.
func (u *UUID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*u = ""
	case string:
		*u = UUID(strings.ToLower(v))
	case []byte:
		if len(v) == 16 {
			parsed, err := uuid.FromBytes(v)
			if err != nil {
				return err
			}
			*u = UUID(parsed.String())
			return nil
		}
		*u = UUID(strings.ToLower(string(v)))
	case [16]byte:
		*u = UUID(uuid.UUID(v).String())
	default:
		return fmt.Errorf("cannot scan %T into UUID", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (u UUID) Value() (driver.Value, error) {
	if u == "" {
		return nil, nil
	}
	return string(u), nil
}

var labelPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Path is a dot-separated hierarchical path ("a.b.c"), the ltree label path
// used for collection paths and materialized model hierarchy paths.
type Path string

// ParsePath validates that s is a non-empty sequence of labels made of
// letters, digits, underscores and dashes, separated by single dots.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	for _, label := range strings.Split(s, ".") {
		if !labelPattern.MatchString(label) {
			return "", fmt.Errorf("invalid path %q: label %q must match %s", s, label, labelPattern.String())
		}
	}
	return Path(s), nil
}

// MustParsePath is ParsePath for constants.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ValidLabel reports whether s can be used as a single path label.
func ValidLabel(s string) bool {
	return labelPattern.MatchString(s)
}

// String returns the text form.
func (p Path) String() string { return string(p) }

// Labels splits the path into its labels.
func (p Path) Labels() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), ".")
}

// Depth returns the number of labels.
func (p Path) Depth() int { return len(p.Labels()) }

// Parent returns the path without its last label, or "" for a root path.
func (p Path) Parent() Path {
	i := strings.LastIndexByte(string(p), '.')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Last returns the last label.
func (p Path) Last() string {
	i := strings.LastIndexByte(string(p), '.')
	return string(p[i+1:])
}

// Child appends label to the path. A zero path yields a root path.
func (p Path) Child(label string) Path {
	if p == "" {
		return Path(label)
	}
	return Path(string(p) + "." + label)
}

// Join appends a relative path.
func (p Path) Join(rel Path) Path {
	switch {
	case p == "":
		return rel
	case rel == "":
		return p
	}
	return Path(string(p) + "." + string(rel))
}

// IsAncestorOf reports whether p equals other or is one of its ancestors
// (ltree "@>" semantics).
func (p Path) IsAncestorOf(other Path) bool {
	if p == "" {
		return false
	}
	return other == p || strings.HasPrefix(string(other), string(p)+".")
}

// IsDescendantOf reports whether p equals other or lies beneath it
// (ltree "<@" semantics).
func (p Path) IsDescendantOf(other Path) bool {
	return other.IsAncestorOf(p)
}

// Ancestors returns every prefix of p, shortest first, including p itself.
func (p Path) Ancestors() []Path {
	labels := p.Labels()
	out := make([]Path, 0, len(labels))
	for i := range labels {
		out = append(out, Path(strings.Join(labels[:i+1], ".")))
	}
	return out
}

// Rebase replaces the oldPrefix of p with newPrefix. p must be a descendant
// of (or equal to) oldPrefix; otherwise p is returned unchanged.
func (p Path) Rebase(oldPrefix, newPrefix Path) Path {
	if !p.IsDescendantOf(oldPrefix) {
		return p
	}
	rest := strings.TrimPrefix(string(p), string(oldPrefix))
	rest = strings.TrimPrefix(rest, ".")
	return newPrefix.Join(Path(rest))
}

// Ptr returns a pointer to a copy of p.
func (p Path) Ptr() *Path { return &p }

// UnmarshalJSON validates the path format.
func (p *Path) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*p = ""
		return nil
	}
	parsed, err := ParsePath(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Scan implements sql.Scanner.
func (p *Path) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = ""
	case string:
		*p = Path(v)
	case []byte:
		*p = Path(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Path", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (p Path) Value() (driver.Value, error) {
	if p == "" {
		return nil, nil
	}
	return string(p), nil
}

// TimestampLayout is fixed width so that the text form sorts chronologically.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Timestamp is an ISO-8601 instant, always normalised to UTC with
// microsecond precision.
type Timestamp struct {
	t time.Time
}

// Now returns the current instant.
func Now() Timestamp {
	return NewTimestamp(time.Now())
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t: t.UTC().Truncate(time.Microsecond)}
}

// ParseTimestamp accepts RFC 3339 with or without fractional seconds.
func ParseTimestamp(s string) (Timestamp, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05.999999999Z07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTimestamp(t), nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", s)
}

// Time returns the wrapped time.
func (ts Timestamp) Time() time.Time { return ts.t }

// IsZero reports whether the timestamp is unset.
func (ts Timestamp) IsZero() bool { return ts.t.IsZero() }

// Equal compares two instants.
func (ts Timestamp) Equal(other Timestamp) bool { return ts.t.Equal(other.t) }

// String formats with TimestampLayout.
func (ts Timestamp) String() string {
	if ts.t.IsZero() {
		return ""
	}
	return ts.t.Format(TimestampLayout)
}

// MarshalJSON implements json.Marshaler.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*ts = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}

// Scan implements sql.Scanner.
func (ts *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*ts = Timestamp{}
		return nil
	case time.Time:
		*ts = NewTimestamp(v)
		return nil
	case string:
		parsed, err := ParseTimestamp(v)
		if err != nil {
			return err
		}
		*ts = parsed
		return nil
	case []byte:
		parsed, err := ParseTimestamp(string(v))
		if err != nil {
			return err
		}
		*ts = parsed
		return nil
	}
	return fmt.Errorf("cannot scan %T into Timestamp", src)
}

// Value implements driver.Valuer. The text form is used on every backend
// so that ordering is identical on postgres and sqlite.
func (ts Timestamp) Value() (driver.Value, error) {
	if ts.t.IsZero() {
		return nil, nil
	}
	return ts.String(), nil
}
