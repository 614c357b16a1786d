// Package conflict implements the Conflict Resolver:
// when a delta modify arrives stamped older than the peer's current
// change stamp, its modification list is rewritten against every
// newer overlapping log record before being applied, so it cannot
// silently undo a change that happened after it on the provider.
package conflict

import (
	"strings"

	"github.com/ldapsyncd/ldapsyncd/internal/csn"
	"github.com/ldapsyncd/ldapsyncd/internal/diff"
	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
)

// NeedsReconciliation reports whether an incoming modify's stamp is
// older than the peer's own current stamp, the trigger condition for
// running it through a Resolver before applying.
func NeedsReconciliation(peerStamp, incomingStamp csn.Stamp) bool {
	return incomingStamp.Less(peerStamp)
}

// Resolver rewrites a stale modification list against newer records.
// Schema is consulted for the single-valued demotion pass and the
// single-valued clause of the add/add pairwise rule; a nil Schema
// treats every attribute as ordinary multi-valued.
type Resolver struct {
	Schema *diff.Schema
}

// Reconcile applies newer, in order, against incoming via the
// pairwise resolution table, then demotes the survivors (a bare
// delete-all becomes an explicit delete
// of peerAttrs' current values — a "soft delete" tolerant of a
// concurrent add the caller hasn't seen yet; a single-valued add
// becomes a replace).
func (r *Resolver) Reconcile(incoming []dirops.Mod, newer [][]dirops.Mod, peerAttrs dirops.Attrs) []dirops.Mod {
	mods := append([]dirops.Mod(nil), incoming...)

	for _, record := range newer {
		for _, n := range record {
			mods = r.applyNewer(mods, n)
		}
	}

	return r.demote(mods, peerAttrs)
}

// applyNewer resolves every mod in mods on n's attribute against n,
// per the table. A replace is split into its delete-all-then-add
// components and each is applied in turn, per the table's last row.
func (r *Resolver) applyNewer(mods []dirops.Mod, n dirops.Mod) []dirops.Mod {
	if n.Op == dirops.ModReplace {
		mods = r.applyNewer(mods, dirops.Mod{Op: dirops.ModDelete, Attr: n.Attr})

		return r.applyNewer(mods, dirops.Mod{Op: dirops.ModAdd, Attr: n.Attr, Values: n.Values})
	}

	out := make([]dirops.Mod, 0, len(mods))

	for _, m := range mods {
		if !strings.EqualFold(m.Attr, n.Attr) {
			out = append(out, m)

			continue
		}

		if resolved, drop := r.resolvePair(n, m); !drop {
			out = append(out, resolved)
		}
	}

	return out
}

// resolvePair dispatches one (newer, ours) pair by op-type.
func (r *Resolver) resolvePair(n, m dirops.Mod) (dirops.Mod, bool) {
	newerDeletesAll := n.Op == dirops.ModDelete && len(n.Values) == 0

	switch {
	case newerDeletesAll && m.Op == dirops.ModAdd:
		return dirops.Mod{Op: dirops.ModDelete, Attr: m.Attr}, false
	case newerDeletesAll && m.Op == dirops.ModDelete:
		return dirops.Mod{}, true
	case n.Op == dirops.ModDelete && m.Op == dirops.ModDelete:
		remaining := subtract(m.Values, n.Values)
		if len(remaining) == 0 {
			return dirops.Mod{}, true
		}

		return dirops.Mod{Op: m.Op, Attr: m.Attr, Values: remaining}, false
	case n.Op == dirops.ModAdd && m.Op == dirops.ModAdd:
		if r.singleValued(m.Attr) {
			return dirops.Mod{}, true
		}

		remaining := subtract(m.Values, n.Values)
		if len(remaining) == 0 {
			return dirops.Mod{}, true
		}

		return dirops.Mod{Op: m.Op, Attr: m.Attr, Values: remaining}, false
	case n.Op == dirops.ModAdd && m.Op == dirops.ModDelete:
		remaining := subtract(m.Values, n.Values)
		if len(remaining) == 0 && len(m.Values) > 0 {
			return dirops.Mod{}, true
		}

		return dirops.Mod{Op: m.Op, Attr: m.Attr, Values: remaining}, false
	default:
		return m, false
	}
}

// demote softens a bare delete-all into an explicit delete of
// peerAttrs' current values, and a single-valued add into a replace.
func (r *Resolver) demote(mods []dirops.Mod, peerAttrs dirops.Attrs) []dirops.Mod {
	out := make([]dirops.Mod, 0, len(mods))

	for _, m := range mods {
		switch {
		case m.Op == dirops.ModDelete && len(m.Values) == 0:
			if vals := peerAttrs[m.Attr]; len(vals) > 0 {
				m = dirops.Mod{Op: dirops.ModDelete, Attr: m.Attr, Values: append([]string(nil), vals...)}
			}
		case m.Op == dirops.ModAdd && r.singleValued(m.Attr):
			m = dirops.Mod{Op: dirops.ModReplace, Attr: m.Attr, Values: m.Values}
		}

		out = append(out, m)
	}

	return out
}

func (r *Resolver) singleValued(attr string) bool {
	if r.Schema == nil {
		return false
	}

	return r.Schema.Rule(attr).SingleValued
}

func subtract(a, b []string) []string {
	remove := make(map[string]bool, len(b))
	for _, v := range b {
		remove[v] = true
	}

	var out []string

	for _, v := range a {
		if !remove[v] {
			out = append(out, v)
		}
	}

	return out
}
