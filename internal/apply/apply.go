// Package apply implements the Entry Applier: given a
// decoded message, locate the local peer by UUID, classify the
// operation, diff or accept the provided modification list, and write
// it through internal/dirops, promoting missing ancestors or non-leaf
// deletes to glue entries as needed.
package apply

import (
	"context"
	"errors"
	"fmt"

	"github.com/ldapsyncd/ldapsyncd/internal/csn"
	"github.com/ldapsyncd/ldapsyncd/internal/decode"
	"github.com/ldapsyncd/ldapsyncd/internal/diff"
	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
	"github.com/ldapsyncd/ldapsyncd/internal/dn"
	"github.com/ldapsyncd/ldapsyncd/internal/glue"
	"github.com/ldapsyncd/ldapsyncd/internal/presentset"
)

// Mode distinguishes the two points in a source's lifecycle at which
// the Entry Applier's "no such object" add failure is handled
// differently.
type Mode int

const (
	ModeRefresh Mode = iota
	ModePersist
)

// ErrRestartRequired signals that an add failed with "no such object"
// during persist mode; the caller must invalidate its cookie vector and
// restart the source.
var ErrRestartRequired = errors.New("apply: no such object during persist, restart required")

// Outcome classifies what an Apply call actually did, for callers
// (Source State Machine, Cookie Updater) deciding whether to advance
// the pending cookie slot.
type Outcome int

const (
	OutcomeAdded Outcome = iota
	OutcomeModified
	OutcomeDeleted
	OutcomeNoop
	OutcomePresentRecorded
	OutcomeDroppedTooOld
)

// Applier is the Entry Applier, built from a single directory, its
// attribute schema, and its glue builder.
type Applier struct {
	Dir dirops.Directory
	Base string // subtree root for entryUUID lookups
	Schema *diff.Schema
	Glue *glue.Builder

	// PresentSet receives UUID marks on the fast "present" path, when
	// set (a full refresh always sets this; a plain delta apply does
	// not).
	PresentSet *presentset.Set

	// Committed returns the database's currently committed cookie
	// vector, consulted by ageCovered to drop an add already reflected
	// there. May be nil, in which case the age check is skipped.
	Committed func() csn.Vector

	Include, Exclude map[string]bool
	ContextEntryDN string
	ContextAttr string
	OperationalAttrs []string

	// StampAttr names the attribute an applied operation's change stamp
	// is written into (entryCSN on most providers), used to compare
	// stamps on an "already exists" Add race.
	StampAttr string
}

// ApplyEntry handles a full-sync EntryMessage.
func (a *Applier) ApplyEntry(ctx context.Context, msg decode.EntryMessage, mode Mode) (Outcome, error) {
	switch msg.State {
	case decode.StatePresent:
		if a.PresentSet != nil {
			a.PresentSet.Insert(msg.UUID)
		}

		return OutcomePresentRecorded, nil

	case decode.StateDelete:
		return a.applyDeleteByUUID(ctx, msg.UUID)
	}

	peer, found, err := a.locateByUUID(ctx, msg.UUID)
	if err != nil {
		return OutcomeNoop, err
	}

	if !found {
		return a.applyAdd(ctx, msg.UUID, msg.DN, msg.Attrs, msg.Stamp, mode)
	}

	return a.applyModify(ctx, peer, msg.DN, msg.Attrs)
}

// ApplyOp handles a delta-dialect OpMessage (access-log, change-log,
// dir-sync), whose modification list already represents the diff a
// provider computed, not a full attribute snapshot.
func (a *Applier) ApplyOp(ctx context.Context, msg decode.OpMessage, mode Mode) (Outcome, error) {
	switch msg.ChangeType {
	case decode.ChangeAdd:
		if a.ageCovered(msg.Stamp) {
			return OutcomeDroppedTooOld, nil
		}

		attrs := addModsToAttrs(msg.Mods)

		return a.applyAddAttrs(ctx, msg.UUID, msg.TargetDN, attrs, msg.Stamp, mode)

	case decode.ChangeDelete:
		if msg.UUID != ([16]byte{}) {
			return a.applyDeleteByUUID(ctx, msg.UUID)
		}

		return a.applyDeleteByDN(ctx, msg.TargetDN)

	case decode.ChangeModRDN:
		return a.applyRename(ctx, msg)

	default: // ChangeModify
		return a.applyOpModify(ctx, msg)
	}
}

func (a *Applier) locateByUUID(ctx context.Context, uuid [16]byte) (dirops.Entry, bool, error) {
	peer, err := a.Dir.FetchByUUID(ctx, a.Base, uuid)
	if err != nil {
		if errors.Is(err, dirops.ErrNotFound) {
			return dirops.Entry{}, false, nil
		}

		return dirops.Entry{}, false, fmt.Errorf("apply: locate peer: %w", err)
	}

	return peer, true, nil
}

// ageCovered reports whether an add should be dropped as already covered:
// before applying an add, compare the operation's stamp against every
// committed stamp with equal or higher sid; drop if covered.
func (a *Applier) ageCovered(stamp csn.Stamp) bool {
	if a.Committed == nil || len(stamp) == 0 {
		return false
	}

	sid, ok := stamp.SID()
	if !ok {
		return false
	}

	committed := a.Committed()
	for i, csid := range committed.SIDs {
		if csid == csn.NoSID || csid < sid {
			continue
		}

		if !committed.Stamps[i].Less(stamp) {
			return true
		}
	}

	return false
}

func (a *Applier) applyAdd(ctx context.Context, uuid [16]byte, targetDN string, attrs dirops.Attrs, stamp csn.Stamp, mode Mode) (Outcome, error) {
	if a.ageCovered(stamp) {
		return OutcomeDroppedTooOld, nil
	}

	return a.applyAddAttrs(ctx, uuid, targetDN, attrs, stamp, mode)
}

func (a *Applier) applyAddAttrs(ctx context.Context, uuid [16]byte, targetDN string, attrs dirops.Attrs, stamp csn.Stamp, mode Mode) (Outcome, error) {
	err := a.Dir.Add(ctx, targetDN, attrs, false)
	if err == nil {
		return OutcomeAdded, nil
	}

	switch {
	case errors.Is(err, dirops.ErrAlreadyExists):
		existing, fetchErr := a.Dir.FetchByDN(ctx, targetDN)
		if fetchErr != nil {
			return OutcomeNoop, fmt.Errorf("apply: add already-exists, refetch %s: %w", targetDN, fetchErr)
		}

		if a.weAreNewer(existing, stamp) {
			return OutcomeNoop, fmt.Errorf("apply: add conflict at %s: local entry is newer than incoming add", targetDN)
		}

		return OutcomeNoop, nil

	case errors.Is(err, dirops.ErrNotFound):
		if mode == ModePersist {
			return OutcomeNoop, fmt.Errorf("%w: %s: %w", ErrRestartRequired, targetDN, err)
		}

		if a.Glue == nil {
			return OutcomeNoop, fmt.Errorf("apply: add %s: no such object and no glue builder configured: %w", targetDN, err)
		}

		if glueErr := a.Glue.EnsureAncestors(ctx, targetDN); glueErr != nil {
			return OutcomeNoop, fmt.Errorf("apply: materialize ancestors for %s: %w", targetDN, glueErr)
		}

		if retryErr := a.Dir.Add(ctx, targetDN, attrs, false); retryErr != nil {
			return OutcomeNoop, fmt.Errorf("apply: add %s after glue retry: %w", targetDN, retryErr)
		}

		return OutcomeAdded, nil

	default:
		return OutcomeNoop, fmt.Errorf("apply: add %s: %w", targetDN, err)
	}
}

// weAreNewer reports whether the existing entry's stamp is strictly
// newer than the incoming add's stamp, the "ours is not newer" check
// an add-conflict must pass before being dropped as a no-op.
func (a *Applier) weAreNewer(existing dirops.Entry, incoming csn.Stamp) bool {
	if a.StampAttr == "" || len(incoming) == 0 {
		return false
	}

	vals := existing.Attrs[a.StampAttr]
	if len(vals) == 0 {
		return false
	}

	return incoming.Less(csn.Stamp(vals[0]))
}

func (a *Applier) applyModify(ctx context.Context, peer dirops.Entry, incomingDN string, incomingAttrs dirops.Attrs) (Outcome, error) {
	ctxAttr := ""
	if a.ContextEntryDN != "" && dn.NormalizeDN(peer.DN) == dn.NormalizeDN(a.ContextEntryDN) {
		ctxAttr = a.ContextAttr
	}

	renameRDN, renameSuperior, renaming := rdnChange(peer.DN, incomingDN)

	mods := diff.Compute(peer.Attrs, incomingAttrs, a.Schema, diff.Options{
		Include: a.Include,
		Exclude: a.Exclude,
		ContextEntryAttr: ctxAttr,
		OperationalAttrs: a.OperationalAttrs,
	})

	if !renaming {
		if len(mods) == 0 {
			return OutcomeNoop, nil
		}

		if err := a.Dir.Modify(ctx, peer.DN, mods, false); err != nil {
			return OutcomeNoop, fmt.Errorf("apply: modify %s: %w", peer.DN, err)
		}

		return OutcomeModified, nil
	}

	mods = dropRedundantRDNMods(mods, renameRDN)

	if err := a.Dir.ModRDN(ctx, peer.DN, renameRDN, renameSuperior, true); err != nil {
		return OutcomeNoop, fmt.Errorf("apply: rename %s -> %s: %w", peer.DN, renameRDN, err)
	}

	if len(mods) == 0 {
		mods = diff.OperationalReplaceMods(incomingAttrs, a.OperationalAttrs)
	}

	superior := renameSuperior
	if superior == "" {
		_, superior = splitDN(peer.DN)
	}

	newDN := renameRDN + "," + superior

	if len(mods) > 0 {
		if err := a.Dir.Modify(ctx, newDN, mods, false); err != nil {
			return OutcomeNoop, fmt.Errorf("apply: post-rename modify %s: %w", newDN, err)
		}
	}

	return OutcomeModified, nil
}

func (a *Applier) applyOpModify(ctx context.Context, msg decode.OpMessage) (Outcome, error) {
	dn := msg.TargetDN

	if msg.UUID != ([16]byte{}) {
		if peer, found, err := a.locateByUUID(ctx, msg.UUID); err != nil {
			return OutcomeNoop, err
		} else if found {
			dn = peer.DN
		}
	}

	if len(msg.Mods) == 0 {
		return OutcomeNoop, nil
	}

	if err := a.Dir.Modify(ctx, dn, msg.Mods, false); err != nil {
		if errors.Is(err, dirops.ErrNotFound) {
			return OutcomeNoop, nil
		}

		return OutcomeNoop, fmt.Errorf("apply: modify %s: %w", dn, err)
	}

	return OutcomeModified, nil
}

func (a *Applier) applyRename(ctx context.Context, msg decode.OpMessage) (Outcome, error) {
	targetDN := msg.TargetDN

	if msg.UUID != ([16]byte{}) {
		if peer, found, err := a.locateByUUID(ctx, msg.UUID); err != nil {
			return OutcomeNoop, err
		} else if found {
			targetDN = peer.DN
		}
	}

	if err := a.Dir.ModRDN(ctx, targetDN, msg.NewRDN, msg.NewSuperior, msg.DeleteOldRDN); err != nil {
		if errors.Is(err, dirops.ErrNotFound) {
			return OutcomeNoop, nil
		}

		return OutcomeNoop, fmt.Errorf("apply: rename %s -> %s: %w", targetDN, msg.NewRDN, err)
	}

	superior := msg.NewSuperior
	if superior == "" {
		_, superior = splitDN(targetDN)
	}

	newDN := msg.NewRDN + "," + superior

	if len(msg.Mods) > 0 {
		mods := dropRedundantRDNMods(msg.Mods, msg.NewRDN)
		if len(mods) > 0 {
			if err := a.Dir.Modify(ctx, newDN, mods, false); err != nil {
				return OutcomeNoop, fmt.Errorf("apply: post-rename modify %s: %w", newDN, err)
			}
		}
	}

	return OutcomeModified, nil
}

func (a *Applier) applyDeleteByUUID(ctx context.Context, uuid [16]byte) (Outcome, error) {
	peer, found, err := a.locateByUUID(ctx, uuid)
	if err != nil {
		return OutcomeNoop, err
	}

	if !found {
		return OutcomeNoop, nil
	}

	return a.deleteOrPromote(ctx, peer.DN)
}

func (a *Applier) applyDeleteByDN(ctx context.Context, targetDN string) (Outcome, error) {
	return a.deleteOrPromote(ctx, targetDN)
}

func (a *Applier) deleteOrPromote(ctx context.Context, targetDN string) (Outcome, error) {
	err := a.Dir.Delete(ctx, targetDN)
	if err == nil {
		return OutcomeDeleted, nil
	}

	if errors.Is(err, dirops.ErrNotFound) {
		return OutcomeNoop, nil
	}

	if errors.Is(err, dirops.ErrNonLeaf) {
		if a.Glue == nil {
			return OutcomeNoop, fmt.Errorf("apply: delete %s: non-leaf and no glue builder configured: %w", targetDN, err)
		}

		if glueErr := a.Glue.PromoteToGlue(ctx, targetDN); glueErr != nil {
			return OutcomeNoop, fmt.Errorf("apply: promote %s to glue: %w", targetDN, glueErr)
		}

		return OutcomeModified, nil
	}

	return OutcomeNoop, fmt.Errorf("apply: delete %s: %w", targetDN, err)
}

// addModsToAttrs flattens an access-log/change-log "add" OpMessage's
// modification list (all ModAdd ops for a freshly-added entry) into an
// attribute map suitable for dirops.Add.
func addModsToAttrs(mods []dirops.Mod) dirops.Attrs {
	attrs := make(dirops.Attrs, len(mods))
	for _, m := range mods {
		attrs[m.Attr] = append(attrs[m.Attr], m.Values...)
	}

	return attrs
}

// rdnChange reports whether incomingDN's RDN or superior differs from
// currentDN's, and if so what ModRDN call would realize it.
func rdnChange(currentDN, incomingDN string) (newRDN, newSuperior string, changed bool) {
	if dn.NormalizeDN(currentDN) == dn.NormalizeDN(incomingDN) {
		return "", "", false
	}

	rdn, superior := splitDN(incomingDN)
	curRDN, curSuperior := splitDN(currentDN)

	if dn.NormalizeDN(rdn) == dn.NormalizeDN(curRDN) && dn.NormalizeDN(superior) == dn.NormalizeDN(curSuperior) {
		return "", "", false
	}

	if dn.NormalizeDN(superior) == dn.NormalizeDN(curSuperior) {
		superior = "" // dirops.Directory treats "" as keep-current-superior
	}

	return rdn, superior, true
}

func splitDN(d string) (rdn, superior string) {
	for i := 0; i < len(d); i++ {
		if d[i] == ',' {
			return d[:i], d[i+1:]
		}
	}

	return d, ""
}

// dropRedundantRDNMods removes any modification targeting the RDN's own
// attribute, since ModRDN already applied it and a follow-up modify of
// the same attribute/value would be redundant at best.
func dropRedundantRDNMods(mods []dirops.Mod, newRDN string) []dirops.Mod {
	rdnAttr, _ := splitRDNPair(newRDN)
	if rdnAttr == "" {
		return mods
	}

	out := make([]dirops.Mod, 0, len(mods))

	for _, m := range mods {
		if dn.NormalizeAttr(m.Attr) == dn.NormalizeAttr(rdnAttr) {
			continue
		}

		out = append(out, m)
	}

	return out
}

func splitRDNPair(rdn string) (attr, value string) {
	for i := 0; i < len(rdn); i++ {
		if rdn[i] == '=' {
			return rdn[:i], rdn[i+1:]
		}
	}

	return "", ""
}
