package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchLquery(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"a.b", "a.b", true},
		{"a.b", "a.b.c", false},
		{"a.*", "a", true},
		{"a.*", "a.b.c", true},
		{"*.c", "a.b.c", true},
		{"*.c", "c", true},
		{"a.*{1}", "a", false},
		{"a.*{1}", "a.b", true},
		{"a.*{1}", "a.b.c", false},
		{"a.*{1,}", "a.b.c", true},
		{"a.*{,1}", "a", true},
		{"a.*{,1}.z", "a.b.c.z", false},
		{"a.b*", "a.bee", true},
		{"a.b*", "a.cee", false},
		{"a.x|y", "a.y", true},
		{"a.x|y", "a.xy", false},
		{"*.ab", "x.cab", false},
	}
	for _, tt := range tests {
		got, err := MatchLquery(tt.pattern, tt.path)
		require.NoError(t, err, tt.pattern)
		assert.Equal(t, tt.want, got, "%s ~ %s", tt.path, tt.pattern)
	}
}

func TestLqueryRegexp_Rejects(t *testing.T) {
	for _, p := range []string{"", "a..b", "!a", "a.*{x}", "a.*{1", "a.b@", "a.%"} {
		_, err := LqueryRegexp(p)
		assert.Error(t, err, p)
	}
}
