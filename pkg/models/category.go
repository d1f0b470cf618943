package models

import (
	"errors"
	"fmt"
	"strings"
)

// Category is a taxonomy label
type Category string

// DefaultCategories is the built-in taxonomy, catch-all last
var DefaultCategories = []string{"urgent", "support", "sales", "complaint", "newsletter", "other"}

// DefaultFallback is the built-in catch-all label
const DefaultFallback = "other"

// ErrEmptyTaxonomy is returned when no labels are configured
var ErrEmptyTaxonomy = errors.New("taxonomy has no labels")

// Taxonomy is a closed set of category labels with one catch-all member
type Taxonomy struct {
	labels   []Category
	fallback Category
}

// NewTaxonomy builds a taxonomy from labels. Labels are normalized to
// lowercase and deduplicated; fallback must be one of them.
func NewTaxonomy(labels []string, fallback string) (Taxonomy, error) {
	seen := make(map[Category]bool)
	var cats []Category
	for _, l := range labels {
		c := Normalize(l)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		cats = append(cats, c)
	}
	if len(cats) == 0 {
		return Taxonomy{}, ErrEmptyTaxonomy
	}

	fb := Normalize(fallback)
	if !seen[fb] {
		return Taxonomy{}, fmt.Errorf("fallback category %q is not in taxonomy %v", fallback, cats)
	}

	return Taxonomy{labels: cats, fallback: fb}, nil
}

// DefaultTaxonomy returns the built-in taxonomy
func DefaultTaxonomy() Taxonomy {
	t, _ := NewTaxonomy(DefaultCategories, DefaultFallback)
	return t
}

// Normalize trims and lowercases a raw label
func Normalize(label string) Category {
	return Category(strings.ToLower(strings.TrimSpace(label)))
}

// Fallback returns the catch-all label
func (t Taxonomy) Fallback() Category {
	return t.fallback
}

// Labels returns all labels in configured order
func (t Taxonomy) Labels() []Category {
	out := make([]Category, len(t.labels))
	copy(out, t.labels)
	return out
}

// Contains reports whether c is any member of the taxonomy
func (t Taxonomy) Contains(c Category) bool {
	for _, l := range t.labels {
		if l == c {
			return true
		}
	}
	return false
}

// Restricted reports whether c is a member other than the catch-all
func (t Taxonomy) Restricted(c Category) bool {
	return c != t.fallback && t.Contains(c)
}

// Resolve maps a raw oracle label onto the taxonomy
func (t Taxonomy) Resolve(raw string) Category {
	c := Normalize(raw)
	if t.Restricted(c) {
		return c
	}
	return t.fallback
}

// Instruction returns the closed one-word instruction for the oracle,
// e.g. "Categorize this email with one word: urgent, support, or other"
func (t Taxonomy) Instruction() string {
	var others []string
	for _, l := range t.labels {
		if l != t.fallback {
			others = append(others, string(l))
		}
	}
	if len(others) == 0 {
		return fmt.Sprintf("Categorize this email with one word: %s", t.fallback)
	}
	return fmt.Sprintf("Categorize this email with one word: %s, or %s", strings.Join(others, ", "), t.fallback)
}
