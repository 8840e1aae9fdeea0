package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"product", "products", 1},
		{"über", "uber", 1},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, Distance(tt.a, tt.b))
			assert.Equal(t, tt.want, Distance(tt.b, tt.a))
		})
	}
}

func TestSuggest(t *testing.T) {
	paths := []string{"products", "product.variants", "pages", "articles"}

	assert.Equal(t, []string{"products", "product.variants"}, Suggest("product", paths, 0))
	assert.Equal(t, []string{"products"}, Suggest("Prodcts", paths, 1))
	assert.Equal(t, []string{"pages"}, Suggest("page", paths, 3))
	assert.Empty(t, Suggest("zzz", paths, 3))
	assert.Empty(t, Suggest("pages", []string{"pages"}, 3))
}
