// Package cookie implements the Cookie State: the shared,
// reference-counted, per-database record of the committed and
// in-flight-pending CSN vectors, the refresh mutual-exclusion lock shared
// by every source replicating the same database, and the single code
// path that ever writes the local contextCSN back to the directory.
package cookie

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ldapsyncd/ldapsyncd/internal/cookiestore"
	"github.com/ldapsyncd/ldapsyncd/internal/csn"
	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
)

// cnConfigYield is how long the non-blocking preCommit loop sleeps
// between TryLock attempts when serving a cn=config source, whose
// provider thread pool can pause for arbitrarily long stretches and so
// must never be blocked on outright.
const cnConfigYield = 5 * time.Millisecond

// PreCommitOutcome classifies the result of PreCommit.
type PreCommitOutcome int

const (
	PreCommitOK PreCommitOutcome = iota
	PreCommitTooOld
	PreCommitShutdown
)

// PreCommitResult is the outcome of PreCommit, plus the pending-vector
// slot index the caller now owns (valid only when Outcome is
// PreCommitOK).
type PreCommitResult struct {
	Outcome PreCommitOutcome
	Slot int
}

// Resumer is called by EndRefresh to re-enqueue a paused sibling source's
// scheduling task at interval 0.
type Resumer func()

// State is the shared Cookie State for one database. Construct with New
// and share the same *State across every source configured against that
// database, so that a commit from one source is immediately visible to
// every sibling's age checks.
type State struct {
	database string
	contextDN string
	contextAttr string
	subentryDN string // non-empty only for databases that carry the
	// sync cookie on a sub-entry rather than the context entry itself
	rid int32
	sid int32
	dir dirops.Directory
	store *cookiestore.Store
	logger *slog.Logger

	mu sync.Mutex
	cond *sync.Cond
	committed csn.Vector
	age int64
	updating bool
	loaded bool

	pendingMu sync.Mutex
	pending csn.Vector

	refreshMu sync.Mutex
	currentRefresher string
	paused map[string]Resumer

	shuttingDown atomic.Bool
	refs atomic.Int32
}

// Options configures a new State.
type Options struct {
	Database string // config Database key, used as the cookiestore key
	ContextDN string // the database's context entry DN
	ContextAttr string // "contextCSN" for full-sync; dialect-specific otherwise
	SubentryDN string // sub-entry DN for databases without a CSN on the context entry itself
	RID int32
	SID int32
	Dir dirops.Directory
	Store *cookiestore.Store // optional warm-start cache; nil disables it
	Logger *slog.Logger
}

// New constructs a Cookie State with a refcount of 1. Call Acquire for
// each additional source that shares this database, and Release when a
// source using it shuts down.
func New(opts Options) *State {
	s := &State{
		database: opts.Database,
		contextDN: opts.ContextDN,
		contextAttr: opts.ContextAttr,
		subentryDN: opts.SubentryDN,
		rid: opts.RID,
		sid: opts.SID,
		dir: opts.Dir,
		store: opts.Store,
		logger: opts.Logger,
		paused: make(map[string]Resumer),
	}
	s.cond = sync.NewCond(&s.mu)
	s.refs.Store(1)

	return s
}

// Acquire increments the reference count for an additional source that
// shares this database's Cookie State.
func (s *State) Acquire() { s.refs.Add(1) }

// Release decrements the reference count, reporting whether this was the
// last reference (callers should close the underlying cookiestore only
// once every State referencing it has been released).
func (s *State) Release() bool {
	return s.refs.Add(-1) == 0
}

// Shutdown marks the state as shutting down: in-flight and future
// PreCommit calls return PreCommitShutdown instead of blocking forever.
func (s *State) Shutdown() {
	s.shuttingDown.Store(true)

	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Age returns the number of successful commits so far.
func (s *State) Age() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.age
}

// Committed returns a copy of the currently committed vector.
func (s *State) Committed() csn.Vector {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.committed.Clone()
}

// LoadFromStorage seeds the committed vector on first use, reading the
// local context-vector attribute from the directory. If the directory
// read fails and a
// cookiestore warm-start cache is configured, falls back to the last
// persisted cookie instead of failing outright — the cache is never
// authoritative, only a bridge until the next successful directory read.
func (s *State) LoadFromStorage(ctx context.Context) error {
	s.mu.Lock()
	if s.loaded {
		s.mu.Unlock()

		return nil
	}
	s.mu.Unlock()

	vec, err := s.readContextVector(ctx)
	if err != nil {
		if s.store == nil {
			return fmt.Errorf("cookie: loading %s: %w", s.database, err)
		}

		raw, storeErr := s.store.Get(ctx, s.database)
		if storeErr != nil {
			return fmt.Errorf("cookie: loading %s: directory read failed (%v) and no cached cookie: %w", s.database, err, storeErr)
		}

		cached, parseErr := csn.Parse(raw)
		if parseErr != nil {
			return fmt.Errorf("cookie: loading %s: cached cookie unparseable: %w", s.database, parseErr)
		}

		s.logger.Warn("falling back to cached cookie after directory read failure",
			slog.String("database", s.database), slog.String("error", err.Error()))
		vec = cached.Vector
	}

	s.mu.Lock()
	s.committed = vec
	s.loaded = true
	s.mu.Unlock()

	s.pendingMu.Lock()
	s.pending = vec.Clone()
	s.pendingMu.Unlock()

	return nil
}

func (s *State) readContextVector(ctx context.Context) (csn.Vector, error) {
	entry, err := s.dir.FetchByDN(ctx, s.contextDN)
	if err != nil {
		return csn.Vector{}, err
	}

	vals := entry.Attrs[s.contextAttr]
	if len(vals) == 0 {
		return csn.Vector{}, nil
	}

	c, err := csn.Parse(vals[0])
	if err != nil {
		return csn.Vector{}, fmt.Errorf("parsing %s: %w", s.contextAttr, err)
	}

	return c.Vector, nil
}

// TryBeginRefresh grants the refresh slot for this database to source
// if none currently holds it, recording source as the holder; otherwise
// it records source as paused (resume is stashed for EndRefresh to call
// later) and reports busy.
func (s *State) TryBeginRefresh(source string, resume Resumer) (granted bool) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.currentRefresher == "" {
		s.currentRefresher = source

		return true
	}

	s.paused[source] = resume

	return false
}

// EndRefresh clears the refresh slot if source currently holds it. If
// reschedule is true, it then picks one paused sibling (order is
// unspecified — map iteration order) and re-enqueues it at interval 0
// by calling its stashed Resumer.
func (s *State) EndRefresh(source string, reschedule bool) bool {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.currentRefresher != source {
		return false
	}

	s.currentRefresher = ""

	if !reschedule {
		return true
	}

	for sib, resume := range s.paused {
		delete(s.paused, sib)
		resume()

		break
	}

	return true
}

// PreCommit acquires the pending mutex (cooperatively, via polling,
// when cnConfig is set, to avoid deadlocking with a paused worker pool)
// and age-checks (sid, stamp) against the pending vector. On
// PreCommitOK, the pending mutex remains
// held and the returned Slot must later be released via exactly one of
// RollbackPending or CommitAndPersist.
func (s *State) PreCommit(ctx context.Context, sid int32, stamp csn.Stamp, cnConfig bool) PreCommitResult {
	if s.shuttingDown.Load() {
		return PreCommitResult{Outcome: PreCommitShutdown}
	}

	if cnConfig {
		if !s.acquirePendingCooperatively(ctx) {
			return PreCommitResult{Outcome: PreCommitShutdown}
		}
	} else {
		s.pendingMu.Lock()
	}

	if s.shuttingDown.Load() {
		s.pendingMu.Unlock()

		return PreCommitResult{Outcome: PreCommitShutdown}
	}

	res := csn.CheckAge(s.pending, sid, stamp)
	if res.Kind == csn.AgeTooOld {
		s.pendingMu.Unlock()

		return PreCommitResult{Outcome: PreCommitTooOld}
	}

	if res.Kind == csn.AgeNewSID {
		s.pending.InsertAt(res.Slot, sid, stamp.Clone())
	} else {
		s.pending.SetAt(res.Slot, stamp.Clone())
	}

	return PreCommitResult{Outcome: PreCommitOK, Slot: res.Slot}
}

func (s *State) acquirePendingCooperatively(ctx context.Context) bool {
	for {
		if s.pendingMu.TryLock() {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(cnConfigYield):
		}

		if s.shuttingDown.Load() {
			return false
		}
	}
}

// RollbackPending restores the pending slot from the committed vector
// (or removes it entirely, if it was a newly-inserted SID that never
// reached committed) and releases the pending mutex. Pairs with a
// PreCommitOK result.
func (s *State) RollbackPending(slot int) {
	defer s.pendingMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if slot < 0 || slot >= s.pending.Len() {
		return
	}

	sid := s.pending.SIDs[slot]

	if stamp, ok := s.committed.Get(sid); ok {
		s.pending.SetAt(slot, stamp.Clone())

		return
	}

	s.pending.SIDs = append(s.pending.SIDs[:slot], s.pending.SIDs[slot+1:]...)
	s.pending.Stamps = append(s.pending.Stamps[:slot], s.pending.Stamps[slot+1:]...)
}

// CommitAndPersist waits for any in-flight committer, computes
// committed ⊔ received, and if that changed anything, issues a single
// internal modify-replace of the
// context attribute before swapping the committed vector in and bumping
// age. Always releases the pending mutex exactly once before returning,
// pairing with the PreCommitOK call that produced the slot being
// committed.
func (s *State) CommitAndPersist(ctx context.Context, received csn.Vector) (bool, error) {
	defer s.pendingMu.Unlock()

	s.mu.Lock()
	for s.updating && !s.shuttingDown.Load() {
		s.cond.Wait()
	}

	if s.shuttingDown.Load() {
		s.mu.Unlock()

		return false, errors.New("cookie: shutting down")
	}

	s.updating = true
	merged := s.committed.Clone()
	s.mu.Unlock()

	changed := csn.Merge(&merged, received)

	if !changed {
		s.mu.Lock()
		s.updating = false
		s.cond.Broadcast()
		s.mu.Unlock()

		return false, nil
	}

	raw := csn.Compose(csn.Cookie{RID: s.rid, SID: s.sid, Vector: merged})

	err := s.dir.Modify(ctx, s.contextDN, []dirops.Mod{
		{Op: dirops.ModReplace, Attr: s.contextAttr, Values: []string{raw}},
	}, dirops.Internal(true))

	if errors.Is(err, dirops.ErrNotFound) && s.subentryDN != "" {
		if createErr := s.dir.Add(ctx, s.subentryDN, dirops.Attrs{
			s.contextAttr: {raw},
		}, dirops.Internal(true)); createErr == nil {
			err = nil
		}
	}

	if err != nil {
		s.mu.Lock()
		s.updating = false
		s.cond.Broadcast()
		s.mu.Unlock()

		return false, fmt.Errorf("cookie: persisting %s: %w", s.database, err)
	}

	s.mu.Lock()
	s.committed = merged
	s.age++
	s.updating = false
	s.cond.Broadcast()
	s.mu.Unlock()

	if s.store != nil {
		if saveErr := s.store.Save(ctx, s.database, s.rid, raw); saveErr != nil {
			s.logger.Warn("failed to persist cookie to warm-start cache",
				slog.String("database", s.database), slog.String("error", saveErr.Error()))
		}
	}

	return true, nil
}
