// Package diff computes the modification list needed to turn one
// entry's attributes into another's.8.
package diff

import "strings"

// AttrRule describes how one attribute participates in a diff.
type AttrRule struct {
	// SortedValues marks the merge-style walk (values unique to old
	// become deletes, unique to new become adds). Compute does that same
	// walk for every attribute that is neither NoEqualityRule nor
	// SingleValued, so this flag does not change its output.
	SortedValues bool

	// NoEqualityRule marks an attribute that has no comparable equality
	// matching rule (e.g. a binary or syntax-less attribute) and so is
	// always emitted as a single replace regardless of SortedValues.
	NoEqualityRule bool

	// SingleValued attributes with both sides present emit a replace
	// only when the values differ.
	SingleValued bool
}

// Schema resolves an attribute name to its diff rule. Names not present
// default to the zero AttrRule (sorted-values walk disabled, treated as
// an ordinary multi-valued attribute using equality comparison).
type Schema struct {
	rules map[string]AttrRule
}

// NewSchema builds a Schema from a name->rule map. Keys are folded to
// lowercase for case-insensitive lookup.
func NewSchema(rules map[string]AttrRule) *Schema {
	s := &Schema{rules: make(map[string]AttrRule, len(rules))}
	for name, rule := range rules {
		s.rules[strings.ToLower(name)] = rule
	}

	return s
}

// Rule returns the AttrRule for attr, or the zero value if unknown.
// objectClass always behaves as NoEqualityRule (single replace),
// regardless of what the caller's schema says.
func (s *Schema) Rule(attr string) AttrRule {
	lower := strings.ToLower(attr)
	if lower == "objectclass" {
		return AttrRule{NoEqualityRule: true}
	}

	if s == nil {
		return AttrRule{}
	}

	return s.rules[lower]
}
