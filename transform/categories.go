package transform

import (
	"fmt"
	"sort"
	"strings"
)

// Category is the product classification used to pick a generation prompt.
type Category struct {
	Main string
	Sub  string
}

func (c Category) String() string { return c.Main + "|" + c.Sub }

// DefaultCategory is used whenever classification fails or is unrecognised.
var DefaultCategory = Category{Main: "LIVING_ROOM", Sub: "DECOR"}

// categories maps main category to subcategory to the scene description used in prompts.
var categories = map[string]map[string]string{
	"KITCHEN": {
		"COOKWARE":   "Place it on a stove or a wooden countertop in a bright modern kitchen",
		"UTENSILS":   "Arrange it on a kitchen counter next to a cutting board and fresh herbs",
		"APPLIANCES": "Show it on a clean kitchen worktop with tiled backsplash",
		"STORAGE":    "Put it on an open kitchen shelf with neatly organised jars",
		"DINNERWARE": "Set it on a laid dining table with linen napkins",
		"DECOR":      "Style it in a cosy kitchen corner with natural light",
	},
	"BATHROOM": {
		"TOWELS":      "Hang or fold it in a bright spa-like bathroom",
		"HYGIENE":     "Place it on a marble sink counter",
		"FURNITURE":   "Show it in a spacious modern bathroom",
		"STORAGE":     "Put it on a bathroom shelf with toiletries",
		"ACCESSORIES": "Arrange it beside a washbasin with soft daylight",
		"CLEANING":    "Show it in a tidy utility corner of a bathroom",
	},
	"LIVING_ROOM": {
		"FURNITURE":   "Place it in a Scandinavian living room with a rug and plants",
		"LIGHTING":    "Show it lighting a cosy living room in the evening",
		"DECOR":       "Style it on a coffee table or shelf in a warm living room",
		"TEXTILES":    "Drape it over a sofa in a light living room",
		"STORAGE":     "Show it against a living room wall with books and decor",
		"ELECTRONICS": "Place it on a media console in a modern living room",
	},
	"BEDROOM": {
		"BEDDING":   "Dress a neatly made bed in a calm bedroom",
		"FURNITURE": "Place it in a minimalist bedroom with soft light",
		"LIGHTING":  "Put it on a bedside table in a cosy bedroom",
		"DECOR":     "Style it on a dresser in a serene bedroom",
		"STORAGE":   "Show it in an organised bedroom wardrobe area",
		"TEXTILES":  "Show it on a bed or armchair in a bright bedroom",
	},
	"GARDEN": {
		"FURNITURE": "Place it on a sunny terrace surrounded by greenery",
		"TOOLS":     "Show it in a well kept garden shed or flower bed",
		"DECOR":     "Style it in a blooming garden",
		"PLANTS":    "Place it on a patio with potted plants",
		"LIGHTING":  "Show it lighting a garden path at dusk",
		"STORAGE":   "Put it next to a garden shed on a lawn",
	},
	"OFFICE": {
		"FURNITURE":    "Place it in a bright home office",
		"ORGANIZATION": "Put it on a tidy desk with a laptop",
		"STATIONERY":   "Arrange it on a wooden desk with notebooks",
		"TECH":         "Show it on a modern workstation",
		"DECOR":        "Style it on an office shelf with plants",
	},
	"HOLIDAY": {
		"CHRISTMAS": "Place it near a decorated Christmas tree with warm lights",
		"EASTER":    "Style it on a spring table with painted eggs",
		"HALLOWEEN": "Show it in an autumn setting with pumpkins and candles",
		"NEW_YEAR":  "Place it in a festive room with garlands and sparkles",
		"VALENTINE": "Style it on a table with roses and soft pink light",
		"GENERAL":   "Place it in a festive, softly lit interior",
	},
}

// ParseCategory reads a "MAIN|SUB" answer. It returns DefaultCategory and false
// when the answer does not name a known pair.
func ParseCategory(answer string) (Category, bool) {
	line, _, _ := strings.Cut(strings.TrimSpace(answer), "\n")
	main, sub, ok := strings.Cut(line, "|")
	if !ok {
		return DefaultCategory, false
	}
	c := Category{
		Main: strings.ToUpper(strings.Trim(strings.TrimSpace(main), "*`\"'")),
		Sub:  strings.ToUpper(strings.Trim(strings.TrimSpace(sub), "*`\"'.")),
	}
	if _, known := categories[c.Main][c.Sub]; !known {
		return DefaultCategory, false
	}
	return c, true
}

// Prompt builds the scene generation instruction for c.
func Prompt(c Category) string {
	desc := categories[c.Main][c.Sub]
	if desc == "" {
		desc = categories[DefaultCategory.Main][DefaultCategory.Sub]
	}
	return fmt.Sprintf("Edit this product photo for a marketplace listing. The product belongs to category %s, subcategory %s. "+
		"%s. Keep the product itself unchanged and produce a professional, realistic photo in portrait 3:4 format.",
		c.Main, c.Sub, desc)
}

// categorizePrompt lists every known pair so the model answers in a parseable form.
func categorizePrompt() string {
	var b strings.Builder
	b.WriteString("You categorise marketplace products from a photo. Answer strictly as CATEGORY|SUBCATEGORY with no other text.\n")
	b.WriteString("Holiday decorations (Christmas ornaments, Easter, Halloween, New Year or Valentine items) belong to HOLIDAY.\n")
	b.WriteString("Available categories:\n")

	mains := make([]string, 0, len(categories))
	for m := range categories {
		mains = append(mains, m)
	}
	sort.Strings(mains)
	for _, m := range mains {
		subs := make([]string, 0, len(categories[m]))
		for s := range categories[m] {
			subs = append(subs, s)
		}
		sort.Strings(subs)
		fmt.Fprintf(&b, "%s - %s\n", m, strings.Join(subs, ", "))
	}
	return b.String()
}
