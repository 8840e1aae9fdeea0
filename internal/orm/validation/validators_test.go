package validation

import (
	"encoding/json"
	"regexp"
	"testing"
)

func TestMinMaxValidators(t *testing.T) {
	tests := []struct {
		name      string
		validator Validator
		value     any
		wantErr   bool
	}{
		{"int above min", &MinValidator{Min: 5}, 10, false},
		{"int below min", &MinValidator{Min: 5}, 3, true},
		{"equal to min", &MinValidator{Min: 5}, 5.0, false},
		{"json number below min", &MinValidator{Min: 5}, json.Number("4.5"), true},
		{"non-number ignored", &MinValidator{Min: 5}, "abc", false},
		{"float above max", &MaxValidator{Max: 5.5}, 6.1, true},
		{"float below max", &MaxValidator{Max: 5.5}, 5.4, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.validator.Validate(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("%s.Validate() error = %v, wantErr %v", tt.validator.Rule(), err, tt.wantErr)
			}
		})
	}
}

func TestLengthValidators(t *testing.T) {
	tests := []struct {
		name      string
		validator Validator
		value     any
		wantErr   bool
	}{
		{"counts runes", &MaxLengthValidator{MaxLength: 3}, "čšž", false},
		{"too long", &MaxLengthValidator{MaxLength: 3}, "abcd", true},
		{"too short", &MinLengthValidator{MinLength: 2}, "a", true},
		{"items ok", &MinItemsValidator{MinItems: 1}, []any{"x"}, false},
		{"too few items", &MinItemsValidator{MinItems: 2}, []any{"x"}, true},
		{"too many items", &MaxItemsValidator{MaxItems: 1}, []any{"x", "y"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.validator.Validate(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatValidator(t *testing.T) {
	tests := []struct {
		format  string
		value   string
		wantErr bool
	}{
		{"email", "user@example.com", false},
		{"email", "not-an-email", true},
		{"email", "Name <user@example.com>", true},
		{"uri", "https://example.com/x", false},
		{"uri", "example.com", true},
		{"uuid", "6ba7b810-9dad-11d1-80b4-00c04fd430c8", false},
		{"uuid", "nope", true},
		{"date-time", "2024-05-01T10:00:00Z", false},
		{"date-time", "2024-05-01", true},
		{"date", "2024-05-01", false},
		{"date", "01/05/2024", true},
		{"time", "10:30", false},
		{"time", "10:30:15", false},
		{"time", "25:00", true},
		{"ltree", "a.b_c.d-1", false},
		{"ltree", "a..b", true},
		{"email", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.format+"/"+tt.value, func(t *testing.T) {
			err := (&FormatValidator{Format: tt.format}).Validate(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("format %s on %q: error = %v, wantErr %v", tt.format, tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestPatternAndEnum(t *testing.T) {
	p := &PatternValidator{Pattern: regexp.MustCompile(`^[A-Z]{2}\d+$`)}
	if err := p.Validate("AB12"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := p.Validate("ab12"); err == nil {
		t.Error("expected pattern mismatch")
	}

	e := &EnumValidator{Values: []any{"paid", "shipped", 3.0}}
	if err := e.Validate("paid"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := e.Validate(3); err != nil {
		t.Errorf("numeric enum should compare by value: %v", err)
	}
	if err := e.Validate("void"); err == nil {
		t.Error("expected enum mismatch")
	}
}

func TestTypeMatches(t *testing.T) {
	cases := []struct {
		typ   string
		value any
		want  bool
	}{
		{"integer", 3.0, true},
		{"integer", 3.5, false},
		{"integer", json.Number("7"), true},
		{"number", 3.5, true},
		{"string", "x", true},
		{"string", 1, false},
		{"boolean", true, true},
		{"object", map[string]any{}, true},
		{"array", []any{}, true},
		{"array", "x", false},
		{"null", nil, true},
	}
	for _, c := range cases {
		if got := typeMatches(c.typ, c.value); got != c.want {
			t.Errorf("typeMatches(%s, %#v) = %v, want %v", c.typ, c.value, got, c.want)
		}
	}
}
