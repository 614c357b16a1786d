// Package dn provides Unicode-safe DN and attribute-name normalization,
// matching LDAP's caseIgnoreMatch semantics closely enough for this
// module's own comparisons (peer lookup by normalized DN, duplicate
// sync-state detection, config attribute-name folding). It is not a
// substitute for a real schema-aware matching-rule engine; servers remain
// the authority for actual attribute equality.
package dn

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var fold = cases.Fold()

// NormalizeAttr case-folds an attribute name for map-key comparisons
// (e.g. matching a configured exclude-attribute list against whatever
// case a provider happens to send).
func NormalizeAttr(name string) string {
	return fold.String(strings.TrimSpace(name))
}

// NormalizeDN folds a DN for use as a comparison key. It does not parse
// RDN structure; it folds case and collapses incidental whitespace
// around commas, which is sufficient for this module's own "is this the
// same DN I saw before" checks. Structural DN parsing (multi-valued
// RDNs, escaped separators) is left to the directory server and to
// go-ldap's own DN parser where exact RDN components are needed.
func NormalizeDN(raw string) string {
	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = fold.String(strings.TrimSpace(p))
	}

	return strings.Join(parts, ",")
}

// title is retained for attribute names servers expect in a particular
// canonical display case (diagnostic logging only, never for comparison).
var title = cases.Title(language.Und)

// CanonicalAttrDisplay renders an attribute name in title case for log
// messages, purely cosmetic.
func CanonicalAttrDisplay(name string) string {
	return title.String(name)
}
