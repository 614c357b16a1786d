package diff

import (
	"sort"
	"strings"

	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
)

// Options configures one Compute call.
type Options struct {
	// Include, when non-nil, restricts the diff to these attributes
	// (folded to lowercase). Exclude always wins over Include.
	Include map[string]bool
	Exclude map[string]bool

	// ContextEntryAttr is the local context-vector attribute; it is
	// never touched by a diff regardless of Include/Exclude.
	ContextEntryAttr string

	// OperationalAttrs lists the standard operational attributes
	// (modifiersName, modifyTimestamp, entryCSN) to colocate with any
	// other modification.8's last bullet. Values are
	// taken from new.
	OperationalAttrs []string
}

// Compute returns the modification list that turns old's attributes
// into new's.8.
func Compute(old, new dirops.Attrs, schema *Schema, opts Options) []dirops.Mod {
	names := unionKeys(old, new)

	operational := make(map[string]bool, len(opts.OperationalAttrs))
	for _, attr := range opts.OperationalAttrs {
		operational[strings.ToLower(attr)] = true
	}

	var mods []dirops.Mod

	for _, attr := range names {
		lower := strings.ToLower(attr)
		if opts.ContextEntryAttr != "" && lower == strings.ToLower(opts.ContextEntryAttr) {
			continue
		}

		if opts.Exclude[lower] {
			continue
		}

		if operational[lower] {
			continue
		}

		if opts.Include != nil && !opts.Include[lower] {
			continue
		}

		oldVals, newVals := old[attr], new[attr]

		switch {
		case len(newVals) == 0 && len(oldVals) > 0:
			mods = append(mods, dirops.Mod{Op: dirops.ModDelete, Attr: attr})
		case len(oldVals) == 0 && len(newVals) > 0:
			mods = append(mods, dirops.Mod{Op: dirops.ModAdd, Attr: attr, Values: newVals})
		default:
			rule := schema.Rule(attr)

			switch {
			case rule.NoEqualityRule:
				mods = append(mods, dirops.Mod{Op: dirops.ModReplace, Attr: attr, Values: newVals})
			case rule.SingleValued:
				if !sameValues(oldVals, newVals) {
					mods = append(mods, dirops.Mod{Op: dirops.ModReplace, Attr: attr, Values: newVals})
				}
			default:
				mods = append(mods, elementDiff(attr, oldVals, newVals)...)
			}
		}
	}

	if len(mods) > 0 {
		mods = append(mods, operationalMods(new, opts.OperationalAttrs, mods)...)
	}

	return mods
}

// elementDiff implements the sorted-values merge-style walk (and the
// default multi-valued case, which is functionally identical: elements
// unique to old become deletes, unique to new become adds).
func elementDiff(attr string, oldVals, newVals []string) []dirops.Mod {
	oldSet := toSet(oldVals)
	newSet := toSet(newVals)

	var dels, adds []string

	for _, v := range oldVals {
		if !newSet[v] {
			dels = append(dels, v)
		}
	}

	for _, v := range newVals {
		if !oldSet[v] {
			adds = append(adds, v)
		}
	}

	var mods []dirops.Mod
	if len(dels) > 0 {
		mods = append(mods, dirops.Mod{Op: dirops.ModDelete, Attr: attr, Values: dels})
	}

	if len(adds) > 0 {
		mods = append(mods, dirops.Mod{Op: dirops.ModAdd, Attr: attr, Values: adds})
	}

	return mods
}

// OperationalReplaceMods unconditionally builds replace-mods for names
// from new's values, for callers (the rename path in internal/apply)
// that need the standard operational attributes appended even when no
// other attribute diff exists.
func OperationalReplaceMods(new dirops.Attrs, names []string) []dirops.Mod {
	var mods []dirops.Mod

	for _, attr := range names {
		if vals := new[attr]; len(vals) > 0 {
			mods = append(mods, dirops.Mod{Op: dirops.ModReplace, Attr: attr, Values: vals})
		}
	}

	return mods
}

func operationalMods(new dirops.Attrs, names []string, existing []dirops.Mod) []dirops.Mod {
	already := make(map[string]bool, len(existing))
	for _, m := range existing {
		already[strings.ToLower(m.Attr)] = true
	}

	var mods []dirops.Mod

	for _, attr := range names {
		if already[strings.ToLower(attr)] {
			continue
		}

		if vals := new[attr]; len(vals) > 0 {
			mods = append(mods, dirops.Mod{Op: dirops.ModReplace, Attr: attr, Values: vals})
		}
	}

	return mods
}

func unionKeys(a, b dirops.Attrs) []string {
	seen := make(map[string]bool, len(a)+len(b))

	var names []string

	for k := range a {
		if !seen[k] {
			seen[k] = true

			names = append(names, k)
		}
	}

	for k := range b {
		if !seen[k] {
			seen[k] = true

			names = append(names, k)
		}
	}

	sort.Strings(names)

	return names
}

func toSet(vals []string) map[string]bool {
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}

	return set
}

func sameValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
