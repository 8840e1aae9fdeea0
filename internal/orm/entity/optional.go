package entity

import (
	"bytes"
	"encoding/json"
)

// Optional is a field of a write payload. Set distinguishes a key that was
// omitted from one that was sent; Null marks an explicit JSON null.
type Optional[T any] struct {
	Set  bool
	Null bool
	Val  T
}

// Some returns a set, non-null Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Val: v}
}

// Null returns a set Optional holding null.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true, Null: true}
}

// Present reports whether the field was sent with a non-null value.
func (o Optional[T]) Present() bool {
	return o.Set && !o.Null
}

// Or returns the value when present and def otherwise.
func (o Optional[T]) Or(def T) T {
	if o.Present() {
		return o.Val
	}
	return def
}

// Ptr returns nil for an absent or null value.
func (o Optional[T]) Ptr() *T {
	if !o.Present() {
		return nil
	}
	v := o.Val
	return &v
}

// UnmarshalJSON is only invoked for keys that are present in the payload.
func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Null = true
		var zero T
		o.Val = zero
		return nil
	}
	o.Null = false
	return json.Unmarshal(b, &o.Val)
}

// MarshalJSON writes null for absent or null values.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Present() {
		return []byte("null"), nil
	}
	return json.Marshal(o.Val)
}
