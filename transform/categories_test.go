package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   Category
		ok     bool
	}{
		{"plain", "KITCHEN|COOKWARE", Category{"KITCHEN", "COOKWARE"}, true},
		{"spaces and case", "  bedroom | bedding \n", Category{"BEDROOM", "BEDDING"}, true},
		{"markdown", "**HOLIDAY|CHRISTMAS**", Category{"HOLIDAY", "CHRISTMAS"}, true},
		{"extra lines", "GARDEN|PLANTS\nBecause it is a plant pot.", Category{"GARDEN", "PLANTS"}, true},
		{"no separator", "KITCHEN", DefaultCategory, false},
		{"unknown main", "GARAGE|TOOLS", DefaultCategory, false},
		{"unknown sub", "OFFICE|LIGHTING", DefaultCategory, false},
		{"empty", "", DefaultCategory, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseCategory(tt.answer)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestPrompt(t *testing.T) {
	p := Prompt(Category{Main: "KITCHEN", Sub: "DINNERWARE"})
	assert.Contains(t, p, "KITCHEN")
	assert.Contains(t, p, "dining table")

	fallback := Prompt(Category{Main: "UNKNOWN", Sub: "X"})
	assert.Contains(t, fallback, "coffee table")
}

func TestCategorizePromptListsEveryCategory(t *testing.T) {
	p := categorizePrompt()
	for main := range categories {
		assert.Contains(t, p, main)
	}
	assert.Contains(t, p, "CATEGORY|SUBCATEGORY")
}
