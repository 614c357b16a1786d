// Package nonpresent implements non-present reconciliation: once a
// refresh's present phase has run, any locally present
// entry within the source's scope whose UUID the provider never
// announced is deleted, since its absence from the present-phase
// announcements means the provider no longer has it.
package nonpresent

import (
	"context"
	"errors"
	"fmt"

	"github.com/ldapsyncd/ldapsyncd/internal/csn"
	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
	"github.com/ldapsyncd/ldapsyncd/internal/glue"
	"github.com/ldapsyncd/ldapsyncd/internal/presentset"
)

// DeleteStamp resolves the change stamp attributed to entries drained
// as non-present deletes, in fallback order: an
// explicit delete-stamp carried by the cookie if one was supplied, else
// the committed vector's component for the local server ID, else the
// vector's first component.
type DeleteStamp struct {
	Explicit csn.Stamp
	Committed csn.Vector
	LocalSID int32
}

// Resolve picks the stamp per the fallback order above. It returns nil
// if none of the three sources yields one.
func (d DeleteStamp) Resolve() csn.Stamp {
	if len(d.Explicit) > 0 {
		return d.Explicit
	}

	if stamp, ok := d.Committed.Get(d.LocalSID); ok {
		return stamp
	}

	if d.Committed.Len() > 0 {
		return d.Committed.Stamps[0]
	}

	return nil
}

// Reconciler drains entries from a source's local subtree that the
// present phase of a refresh never announced.
type Reconciler struct {
	Dir dirops.Directory
	Glue *glue.Builder
	PresentSet *presentset.Set

	Base string // subtree root to search
	Filter string // the source's configured filter

	// CSNAttr is the attribute holding each entry's own change stamp
	// (normally "entryCSN"). Required only when maxReceivedStamp is
	// used (multi-master mode); leave empty otherwise.
	CSNAttr string
}

// Run searches Base with Filter. A hit whose UUID is in PresentSet was
// announced: its UUID is removed from PresentSet and the entry is kept.
// Every other hit — an entry never announced — is deleted, stamped per
// stamp.Resolve(). UUIDs still left in PresentSet afterwards are not
// acted on.
// It returns the number of entries deleted or promoted to glue.
//
// In multi-master mode, maxReceivedStamp excludes any hit whose own
// change stamp is newer: such an entry was added locally by a
// concurrent write still within our visible horizon and must be left
// untouched by this pass entirely. Pass a nil/empty maxReceivedStamp to
// disable this exclusion.
func (r *Reconciler) Run(ctx context.Context, maxReceivedStamp csn.Stamp, stamp DeleteStamp) (int, error) {
	attrs := []string{"*", "entryUUID"}
	if r.CSNAttr != "" {
		attrs = append(attrs, r.CSNAttr)
	}

	entries, err := r.Dir.Search(ctx, r.Base, r.Filter, 0, attrs)
	if err != nil {
		return 0, fmt.Errorf("nonpresent: search %s: %w", r.Base, err)
	}

	var toDelete []string

	for _, e := range entries {
		if len(maxReceivedStamp) > 0 && r.CSNAttr != "" && outsideHorizon(e, r.CSNAttr, maxReceivedStamp) {
			continue
		}

		if r.PresentSet.Find(e.UUID) {
			r.PresentSet.Delete(e.UUID)

			continue
		}

		toDelete = append(toDelete, e.DN)
	}

	resolved := stamp.Resolve()

	deleted := 0

	for _, dn := range toDelete {
		if err := r.deleteOrPromote(ctx, dn, resolved); err != nil {
			return deleted, err
		}

		deleted++
	}

	return deleted, nil
}

// outsideHorizon reports whether e's own change stamp is strictly newer
// than maxReceivedStamp, meaning it falls outside the window this
// reconciliation pass may safely reason about.
func outsideHorizon(e dirops.Entry, csnAttr string, maxReceivedStamp csn.Stamp) bool {
	vals := e.Attrs[csnAttr]
	if len(vals) == 0 {
		return false
	}

	return csn.Stamp(vals[0]).Compare(maxReceivedStamp) > 0
}

// deleteOrPromote mirrors internal/apply's delete-branch fallback: try
// a leaf delete first, and on "not allowed on non-leaf" promote the
// target to a glue entry instead, stamped with stamp (which may be nil,
// in which case the promotion carries no stamp update).
func (r *Reconciler) deleteOrPromote(ctx context.Context, dn string, stamp csn.Stamp) error {
	err := r.Dir.Delete(ctx, dn)
	if err == nil {
		return nil
	}

	if errors.Is(err, dirops.ErrNotFound) {
		return nil
	}

	if errors.Is(err, dirops.ErrNonLeaf) {
		if r.Glue == nil {
			return fmt.Errorf("nonpresent: delete %s: non-leaf and no glue builder configured: %w", dn, err)
		}

		if glueErr := r.Glue.PromoteToGlueWithStamp(ctx, dn, stamp); glueErr != nil {
			return fmt.Errorf("nonpresent: promote %s to glue: %w", dn, glueErr)
		}

		return nil
	}

	return fmt.Errorf("nonpresent: delete %s: %w", dn, err)
}
