package moderation

import (
	"fmt"
	"strings"
)

// Category identifies one moderation dimension. The set is a fixed
// enumeration so configuration overrides cannot drift from the categories
// the model runner is asked to score.
type Category string

const (
	CategoryNSFW          Category = "nsfw"
	CategoryViolence      Category = "violence"
	CategorySexualContent Category = "sexual_content"
	CategoryHateSymbols   Category = "hate_symbols"
	CategoryDrugs         Category = "drugs"
	CategorySelfHarm      Category = "self_harm"
)

// CategoryInfo carries the display label and the zero-shot text prompt for a
// category. Prompts are forwarded verbatim to the model runner.
type CategoryInfo struct {
	Category Category `json:"category"`
	Label    string   `json:"label"`
	Prompt   string   `json:"prompt"`
}

// registry order is the canonical category order; it decides the tie-break
// when several categories trigger the same verdict.
var registry = []CategoryInfo{
	{CategoryNSFW, "NSFW", "NSFW or adult content"},
	{CategoryViolence, "Violence", "violence, blood, or gore"},
	{CategorySexualContent, "Sexual content", "sexual or suggestive content"},
	{CategoryHateSymbols, "Hate symbols", "hate symbols or extremist imagery"},
	{CategoryDrugs, "Drugs", "drugs or drug paraphernalia"},
	{CategorySelfHarm, "Self-harm", "self-harm or suicide-related content"},
}

var byCategory = func() map[Category]CategoryInfo {
	m := make(map[Category]CategoryInfo, len(registry))
	for _, info := range registry {
		m[info.Category] = info
	}
	return m
}()

// Categories returns every known category in canonical order.
func Categories() []Category {
	out := make([]Category, len(registry))
	for i, info := range registry {
		out[i] = info.Category
	}
	return out
}

// CategoryInfos returns the full registry in canonical order. The returned
// slice is a copy.
func CategoryInfos() []CategoryInfo {
	out := make([]CategoryInfo, len(registry))
	copy(out, registry)
	return out
}

// Valid reports whether c is a member of the enumeration.
func (c Category) Valid() bool {
	_, ok := byCategory[c]
	return ok
}

// Label returns the human-readable label, falling back to the raw id for
// unknown categories.
func (c Category) Label() string {
	if info, ok := byCategory[c]; ok {
		return info.Label
	}
	return string(c)
}

// Prompt returns the zero-shot text prompt for the category.
func (c Category) Prompt() string {
	return byCategory[c].Prompt
}

// ParseCategory normalizes s (case, surrounding space, spaces to
// underscores) and resolves it against the enumeration.
func ParseCategory(s string) (Category, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	c := Category(normalized)
	if !c.Valid() {
		return "", fmt.Errorf("unknown moderation category %q", s)
	}
	return c, nil
}
