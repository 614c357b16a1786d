// Package cookieupdate wraps the Cookie Updater responsibility:
// merging a received cookie into the shared Cookie State and
// persisting the resulting context vector, always pairing
// internal/cookie.State's PreCommit with exactly one of
// RollbackPending or CommitAndPersist, so the Entry Applier and Source
// State Machine never have to reimplement that protocol themselves.
package cookieupdate

import (
	"context"
	"fmt"

	"github.com/ldapsyncd/ldapsyncd/internal/cookie"
	"github.com/ldapsyncd/ldapsyncd/internal/csn"
)

// Outcome classifies what Apply did.
type Outcome int

const (
	OutcomeCommitted Outcome = iota
	OutcomeNoop
	OutcomeTooOld
	OutcomeShutdown
)

// Updater wraps one shared Cookie State.
type Updater struct {
	State *cookie.State
}

// Apply reserves a pending slot for (sid, stamp) via PreCommit, calls
// fn to perform the directory write that stamp covers, and on success
// merges stamp (and, if non-zero, received — the provider's own
// advertised cookie vector) into the committed vector via
// CommitAndPersist. fn's failure rolls the reservation back; a
// PreCommitTooOld/PreCommitShutdown result returns without reserving a
// slot or calling fn.
func (u *Updater) Apply(ctx context.Context, sid int32, stamp csn.Stamp, cnConfig bool, received csn.Vector, fn func(ctx context.Context) error) (Outcome, error) {
	pc := u.State.PreCommit(ctx, sid, stamp, cnConfig)

	switch pc.Outcome {
	case cookie.PreCommitTooOld:
		return OutcomeTooOld, nil
	case cookie.PreCommitShutdown:
		return OutcomeShutdown, nil
	}

	if err := fn(ctx); err != nil {
		u.State.RollbackPending(pc.Slot)

		return OutcomeNoop, fmt.Errorf("cookieupdate: apply: %w", err)
	}

	merged := received.Clone()
	csn.Merge(&merged, csn.Vector{SIDs: []int32{sid}, Stamps: []csn.Stamp{stamp}})

	changed, err := u.State.CommitAndPersist(ctx, merged)
	if err != nil {
		return OutcomeNoop, fmt.Errorf("cookieupdate: commit: %w", err)
	}

	if !changed {
		return OutcomeNoop, nil
	}

	return OutcomeCommitted, nil
}

// MergeReceived merges a provider-advertised cookie vector into the
// Cookie State directly, with no accompanying directory write of its
// own — the path the Source State Machine uses at end-of-refresh when
// the received cookie alone advanced the vector. cnConfig selects the
// cooperative, non-blocking pending-mutex acquisition the cn=config
// database requires.
func (u *Updater) MergeReceived(ctx context.Context, sid int32, received csn.Vector, cnConfig bool) (Outcome, error) {
	stamp, ok := received.Get(sid)
	if !ok {
		// Nothing in the received cookie concerns our own sid; there is
		// no stamp to reserve a pending slot for.
		return OutcomeNoop, nil
	}

	return u.Apply(ctx, sid, stamp, cnConfig, received, func(context.Context) error { return nil })
}
