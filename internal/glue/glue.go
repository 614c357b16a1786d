// Package glue materializes and promotes synthetic "glue" ancestor
// entries when an add or a non-leaf delete needs a stand-in parent the
// provider never sent.
package glue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ldapsyncd/ldapsyncd/internal/csn"
	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
)

// Builder ensures missing ancestor entries exist and promotes
// non-leaf-delete targets into glue entries.
type Builder struct {
	Dir dirops.Directory
	Suffix string // the database's base DN; never built above this
	StampAttr string // e.g. "entryCSN"
	Gen *csn.Generator
}

// EnsureAncestors walks the parent chain of targetDN from the suffix
// downward, constructing any missing ancestor above the suffix with
// objectClass={top, glue} and structuralObjectClass=glue, marked
// non-replicated. "Already exists" for an intermediate level is
// non-fatal — a sibling may have already materialized it.
func (b *Builder) EnsureAncestors(ctx context.Context, targetDN string) error {
	chain := parentChain(targetDN, b.Suffix)

	for i := len(chain) - 1; i >= 0; i-- {
		dn := chain[i]

		_, err := b.Dir.FetchByDN(ctx, dn)
		if err == nil {
			continue
		}

		if !errors.Is(err, dirops.ErrNotFound) {
			return fmt.Errorf("glue: check ancestor %s: %w", dn, err)
		}

		attrs := glueAttrs(dn, b.nextStamp())

		if err := b.Dir.Add(ctx, dn, attrs, dirops.Internal(true)); err != nil {
			if errors.Is(err, dirops.ErrAlreadyExists) {
				continue
			}

			return fmt.Errorf("glue: add ancestor %s: %w", dn, err)
		}
	}

	return nil
}

// PromoteToGlue turns dn into a glue entry in place (the "not allowed on
// non-leaf" fallback of a delete), replacing objectClass and
// structuralObjectClass and stamping the change. Each call mints a fresh
// stamp from Gen so repeated promotions during one walk-up never share
// an identical timestamp.
func (b *Builder) PromoteToGlue(ctx context.Context, dn string) error {
	return b.promote(ctx, dn, b.nextStamp())
}

// PromoteToGlueWithStamp behaves like PromoteToGlue but attributes the
// promotion to an externally supplied stamp instead of minting one from
// Gen, for callers (internal/nonpresent) that must stamp a non-present
// delete with the cookie-derived change stamp
// than a freshly-generated one.
func (b *Builder) PromoteToGlueWithStamp(ctx context.Context, dn string, stamp csn.Stamp) error {
	return b.promote(ctx, dn, stamp)
}

func (b *Builder) promote(ctx context.Context, dn string, stamp csn.Stamp) error {
	mods := []dirops.Mod{
		{Op: dirops.ModReplace, Attr: "objectClass", Values: []string{"top", "glue"}},
		{Op: dirops.ModReplace, Attr: "structuralObjectClass", Values: []string{"glue"}},
	}

	if b.StampAttr != "" && len(stamp) > 0 {
		mods = append(mods, dirops.Mod{Op: dirops.ModReplace, Attr: b.StampAttr, Values: []string{string(stamp)}})
	}

	if err := b.Dir.Modify(ctx, dn, mods, dirops.Internal(true)); err != nil {
		return fmt.Errorf("glue: promote %s: %w", dn, err)
	}

	return nil
}

func (b *Builder) nextStamp() csn.Stamp {
	if b.Gen == nil {
		return nil
	}

	return b.Gen.Next()
}

func glueAttrs(dn string, stamp csn.Stamp) dirops.Attrs {
	rdnAttr, rdnVal := splitRDN(dn)

	attrs := dirops.Attrs{
		"objectClass": {"top", "glue"},
		"structuralObjectClass": {"glue"},
	}

	if rdnAttr != "" {
		attrs[rdnAttr] = []string{rdnVal}
	}

	if len(stamp) > 0 {
		attrs["entryCSN"] = []string{string(stamp)}
	}

	return attrs
}

func splitRDN(dn string) (attr, value string) {
	rdn, _, _ := strings.Cut(dn, ",")

	attr, value, ok := strings.Cut(rdn, "=")
	if !ok {
		return "", ""
	}

	return strings.TrimSpace(attr), strings.TrimSpace(value)
}

// parentChain returns every DN strictly between targetDN and suffix
// (exclusive of targetDN, inclusive of nothing above suffix), ordered
// nearest-target-first (index 0 is targetDN's immediate parent).
func parentChain(targetDN, suffix string) []string {
	suffixNorm := strings.ToLower(strings.TrimSpace(suffix))

	var chain []string

	rest := targetDN

	for {
		_, next, ok := strings.Cut(rest, ",")
		if !ok {
			break
		}

		rest = next

		if strings.ToLower(strings.TrimSpace(rest)) == suffixNorm {
			break
		}

		chain = append(chain, rest)
	}

	return chain
}
