package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/ldapsyncd/ldapsyncd/internal/apply"
	"github.com/ldapsyncd/ldapsyncd/internal/conflict"
	"github.com/ldapsyncd/ldapsyncd/internal/csn"
	"github.com/ldapsyncd/ldapsyncd/internal/decode"
	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
	"github.com/ldapsyncd/ldapsyncd/internal/dn"
	"github.com/ldapsyncd/ldapsyncd/internal/nonpresent"
	"github.com/ldapsyncd/ldapsyncd/internal/wire"
)

// applyMode picks between the Entry Applier's refresh and persist
// behaviors, per this source's dialect mode. refresh-and-persist is
// approximated as
// repeated bounded rounds (see internal/wire's RunSync doc comment),
// but once connected it still behaves like the real persist phase for
// this one purpose: an add racing a missing ancestor should restart the
// source rather than quietly materialize glue, since a true persistent
// session would never see that race resolve mid-stream.
func (s *Source) applyMode() apply.Mode {
	if s.Mode == ModeRefreshAndPersist {
		return apply.ModePersist
	}

	return apply.ModeRefresh
}

// processRound dispatches every message in one search round, then folds
// in the final result.
func (s *Source) processRound(ctx context.Context, round *wire.SyncResult) error {
	for _, se := range round.Entries {
		if err := s.dispatchEntry(ctx, se); err != nil {
			return err
		}
	}

	return s.handleFinalResult(ctx, round.Done, round.HasDone)
}

func (s *Source) dispatchEntry(ctx context.Context, se wire.SyncEntry) error {
	raw := s.entryToRaw(se)

	msg, err := s.Decoder.Decode(raw)
	if err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrProtocol, se.Entry.DN, err)
	}

	// PlainDecoder always returns StateAdd, documenting that its caller
	// must overwrite it with the sync-state control's actual
	// classification.
	if em, ok := msg.(decode.EntryMessage); ok {
		em.State = syncStateToDecodeState(se.State.State)
		msg = em
	}

	if err := s.dispatchMessage(ctx, msg); err != nil {
		return err
	}

	return s.mergeAccompanyingCookie(ctx, se.State.Cookie)
}

func (s *Source) dispatchMessage(ctx context.Context, msg decode.Message) error {
	switch m := msg.(type) {
	case decode.EntryMessage:
		_, err := s.Applier.ApplyEntry(ctx, m, s.applyMode())

		return err

	case decode.OpMessage:
		return s.dispatchOp(ctx, m)

	case decode.CookieOnlyMessage:
		return s.mergeAccompanyingCookie(ctx, m.Cookie)

	case decode.RefreshPhaseMessage:
		// Tick already holds s.mu for the whole round; no separate lock
		// needed here.
		if m.Phase == decode.RefreshPhaseDelete {
			s.phase = PhaseRefreshingDelete
		}

		return s.mergeAccompanyingCookie(ctx, m.Cookie)

	case decode.PresentSetMessage:
		return s.dispatchPresentSet(ctx, m)

	case decode.FinalResultMessage:
		return s.handleFinalResult(ctx, wire.SyncDone{Cookie: m.Cookie, RefreshDeletes: m.RefreshDeletes}, m.HasSyncDone)

	default:
		return fmt.Errorf("%w: unrecognized message type %T", ErrProtocol, msg)
	}
}

func (s *Source) dispatchOp(ctx context.Context, msg decode.OpMessage) (err error) {
	if msg.ChangeType == decode.ChangeModify {
		msg.Mods, err = s.reconcileConflict(ctx, msg)
		if err != nil {
			return err
		}
	}

	_, err = s.Applier.ApplyOp(ctx, msg, s.applyMode())

	return err
}

// reconcileConflict looks up the
// peer's current stamp, and if the incoming modify is older, rewrites
// its modification list against every newer log record touching the
// same target before the Entry Applier ever sees it. A nil s.Conflict
// or s.Dir, or an empty s.CSNAttr, disables this. With an empty
// s.LogBase no newer records are found, but an older incoming modify
// still goes through Reconcile's demotion step.
func (s *Source) reconcileConflict(ctx context.Context, msg decode.OpMessage) ([]dirops.Mod, error) {
	if s.Conflict == nil || s.Dir == nil || s.CSNAttr == "" {
		return msg.Mods, nil
	}

	peer, err := s.Dir.FetchByDN(ctx, msg.TargetDN)
	if err != nil {
		if errors.Is(err, dirops.ErrNotFound) {
			return msg.Mods, nil
		}

		return nil, fmt.Errorf("source: conflict: fetch peer %s: %w", msg.TargetDN, err)
	}

	vals := peer.Attrs[s.CSNAttr]
	if len(vals) == 0 {
		return msg.Mods, nil
	}

	peerStamp := csn.Stamp(vals[0])
	incomingStamp := csn.Stamp(msg.Stamp)

	if !conflict.NeedsReconciliation(peerStamp, incomingStamp) {
		return msg.Mods, nil
	}

	newer, err := s.fetchNewerLogMods(ctx, msg.TargetDN, incomingStamp)
	if err != nil {
		return nil, err
	}

	return s.Conflict.Reconcile(msg.Mods, newer, peer.Attrs), nil
}

// fetchNewerLogMods searches the configured log base/filter for records
// touching target, decodes each through the same dialect Decoder this
// source uses for its ordinary log records, and returns their
// modification lists — the "all log records with entryCSN >=
// incoming.stamp AND reqDN = target" input.
func (s *Source) fetchNewerLogMods(ctx context.Context, target string, since csn.Stamp) ([][]dirops.Mod, error) {
	if s.LogBase == "" {
		return nil, nil
	}

	hits, err := s.Dir.Search(ctx, s.LogBase, s.LogFilter, 0, []string{"*", s.CSNAttr})
	if err != nil {
		return nil, fmt.Errorf("source: conflict: search log records: %w", err)
	}

	targetNorm := dn.NormalizeDN(target)

	var out [][]dirops.Mod

	for _, hit := range hits {
		vals := hit.Attrs[s.CSNAttr]
		if len(vals) == 0 || csn.Stamp(vals[0]).Less(since) {
			continue
		}

		raw := dirops.Attrs(hit.Attrs)

		logMsg, err := s.Decoder.Decode(decode.Raw{
			DN: hit.DN,
			Attrs: raw,
			ChangeType: decode.ChangeModify,
			ChangesBlob: firstValue(raw, "changes"),
		})
		if err != nil {
			continue
		}

		op, ok := logMsg.(decode.OpMessage)
		if !ok || dn.NormalizeDN(op.TargetDN) != targetNorm {
			continue
		}

		out = append(out, op.Mods)
	}

	return out, nil
}

func firstValue(attrs dirops.Attrs, name string) string {
	vals := attrs[name]
	if len(vals) == 0 {
		return ""
	}

	return vals[0]
}

// dispatchPresentSet handles a present-set message: when RefreshDeletes
// is set, the UUID list itself is the non-present
// reconciliation input and each is deleted/promoted directly; otherwise
// every UUID is simply inserted into the present set.
func (s *Source) dispatchPresentSet(ctx context.Context, m decode.PresentSetMessage) error {
	if !m.RefreshDeletes {
		if s.PresentSet != nil {
			for _, u := range m.UUIDs {
				s.PresentSet.Insert(u)
			}
		}

		return s.mergeAccompanyingCookie(ctx, m.Cookie)
	}

	for _, u := range m.UUIDs {
		if _, err := s.Applier.ApplyEntry(ctx, decode.EntryMessage{State: decode.StateDelete, UUID: u}, s.applyMode()); err != nil {
			return fmt.Errorf("source: sync-id-set delete: %w", err)
		}
	}

	return s.mergeAccompanyingCookie(ctx, m.Cookie)
}

// handleFinalResult parses the final cookie, and when refreshDeletes is
// false and our committed vector is strictly older than the one just
// received, runs non-present reconciliation before committing the
// advanced cookie.
func (s *Source) handleFinalResult(ctx context.Context, done wire.SyncDone, hasDone bool) error {
	if !hasDone || len(done.Cookie) == 0 {
		return nil
	}

	parsed, err := csn.Parse(string(done.Cookie))
	if err != nil {
		return fmt.Errorf("source: parse final cookie: %w", err)
	}

	if !done.RefreshDeletes && s.NonPresent != nil {
		committed := s.CookieState.Committed()

		if order, _ := csn.Compare(committed, parsed.Vector); order == csn.Less {
			var maxReceived csn.Stamp
			if parsed.Vector.Len() > 0 {
				maxReceived = parsed.Vector.Stamps[0]
			}

			deleteStamp := nonpresent.DeleteStamp{Committed: committed, LocalSID: s.SID}

			if _, err := s.NonPresent.Run(ctx, maxReceived, deleteStamp); err != nil {
				return fmt.Errorf("source: non-present reconciliation: %w", err)
			}
		}
	}

	if _, err := s.CookieUpdater.MergeReceived(ctx, s.SID, parsed.Vector, false); err != nil {
		return fmt.Errorf("source: commit final cookie: %w", err)
	}

	s.cookie = done.Cookie

	return nil
}

// mergeAccompanyingCookie parses a cookie accompanying a message and, on
// success, merges it into the shared Cookie State. A nil/empty cookie is
// a no-op; cookieupdate.MergeReceived already short-circuits when this
// source's own sid has nothing to commit.
func (s *Source) mergeAccompanyingCookie(ctx context.Context, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}

	parsed, err := csn.Parse(string(raw))
	if err != nil {
		return fmt.Errorf("source: parse accompanying cookie: %w", err)
	}

	if _, err := s.CookieUpdater.MergeReceived(ctx, s.SID, parsed.Vector, false); err != nil {
		return fmt.Errorf("source: merge accompanying cookie: %w", err)
	}

	s.cookie = raw

	return nil
}

// entryToRaw converts one wire-layer sync entry into the decoder's
// provider-agnostic Raw carrier.
func (s *Source) entryToRaw(se wire.SyncEntry) decode.Raw {
	attrs := make(dirops.Attrs, len(se.Entry.Attributes))

	for _, a := range se.Entry.Attributes {
		attrs[a.Name] = append([]string(nil), a.Values...)
	}

	raw := decode.Raw{
		DN: se.Entry.DN,
		UUID: se.State.UUID,
		Attrs: attrs,
	}

	if vals := attrs[s.CSNAttr]; len(vals) > 0 {
		raw.Stamp = []byte(vals[0])
	}

	raw.ChangeType = stateToChangeType(se.State.State)

	return raw
}

func stateToChangeType(state wire.SyncStateType) decode.ChangeType {
	switch state {
	case wire.SyncStateAdd:
		return decode.ChangeAdd
	case wire.SyncStateDelete:
		return decode.ChangeDelete
	default:
		return decode.ChangeModify
	}
}

func syncStateToDecodeState(state wire.SyncStateType) decode.State {
	switch state {
	case wire.SyncStatePresent:
		return decode.StatePresent
	case wire.SyncStateAdd:
		return decode.StateAdd
	case wire.SyncStateDelete:
		return decode.StateDelete
	default:
		return decode.StateModify
	}
}
