// Package source implements the Source State Machine: the
// per-configured-source tick loop that connects to a provider, issues the
// sync search, dispatches each returned message to the Entry Applier or
// Conflict Resolver, and classifies failures into the retry/backoff
// schedule an external run queue drives (internal/scheduler).
package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ldapsyncd/ldapsyncd/internal/apply"
	"github.com/ldapsyncd/ldapsyncd/internal/conflict"
	"github.com/ldapsyncd/ldapsyncd/internal/cookie"
	"github.com/ldapsyncd/ldapsyncd/internal/cookieupdate"
	"github.com/ldapsyncd/ldapsyncd/internal/csn"
	"github.com/ldapsyncd/ldapsyncd/internal/decode"
	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
	"github.com/ldapsyncd/ldapsyncd/internal/nonpresent"
	"github.com/ldapsyncd/ldapsyncd/internal/presentset"
	"github.com/ldapsyncd/ldapsyncd/internal/retry"
	"github.com/ldapsyncd/ldapsyncd/internal/wire"
)

// Phase is one of a source's named lifecycle states.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseRefreshingPresent
	PhaseRefreshingDelete
	PhasePersisting
	PhaseBackoff
	PhasePaused
	PhaseTerminating
)

var phaseNames = [...]string{
	PhaseIdle: "idle",
	PhaseConnecting: "connecting",
	PhaseRefreshingPresent: "refreshing",
	PhaseRefreshingDelete: "refreshing-delete",
	PhasePersisting: "persisting",
	PhaseBackoff: "backoff",
	PhasePaused: "paused",
	PhaseTerminating: "terminating",
}

// String returns the phase's lowercase name, for status reporting.
func (p Phase) String() string {
	if int(p) < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}

	return phaseNames[p]
}

// Mode selects which of the three provider dialects' end-of-round
// semantics a source follows.
type Mode int

const (
	ModeRefreshOnly Mode = iota
	ModeRefreshAndPersist
	ModeDirSync
)

// Disposition is what a Tick call decided should happen to this source
// next, for the external run queue (internal/scheduler) to act on.
type Disposition int

const (
	DispositionRescheduled Disposition = iota
	DispositionPaused
	DispositionRemoved
	DispositionTerminated
)

var dispositionNames = [...]string{
	DispositionRescheduled: "rescheduled",
	DispositionPaused: "paused",
	DispositionRemoved: "removed",
	DispositionTerminated: "terminated",
}

// String returns the disposition's lowercase name, for status reporting.
func (d Disposition) String() string {
	if int(d) < 0 || int(d) >= len(dispositionNames) {
		return "unknown"
	}

	return dispositionNames[d]
}

// Result is the outcome of one Tick call.
type Result struct {
	Disposition Disposition
	NextInterval time.Duration
	Err error
}

// SearchFunc issues one sync search round and returns its result. The
// production implementation (built by internal/daemon) wraps wire.Dial/RunSync;
// tests inject a canned SearchFunc instead, so the retry logic can be
// exercised without a real backing service.
type SearchFunc func(ctx context.Context, syncCookie []byte) (*wire.SyncResult, error)

// Source is one configured provider descriptor plus every collaborator
// its tick loop drives. Construct one per `[[source]]` directive;
// sources sharing a Database share one *cookie.State.
type Source struct {
	Name string // "rid=<n> <provider>", used as the refresh-mutex holder name
	RID int32
	SID int32
	Mode Mode

	Base string
	Filter string
	SizeLimit int
	TimeLimit int

	IntervalSeconds int // steady-state reschedule interval on success

	Decoder decode.Decoder
	Applier *apply.Applier
	Conflict *conflict.Resolver
	CookieUpdater *cookieupdate.Updater
	NonPresent *nonpresent.Reconciler
	PresentSet *presentset.Set
	CookieState *cookie.State
	Retry *retry.Schedule
	Logger *slog.Logger

	// Dir and LogBase/LogFilter/CSNAttr back the Conflict Resolver's
	// acquire-the-peer-entry-and-reconcile-against-newer-log-records
	// path. A nil Dir or an empty CSNAttr disables conflict
	// reconciliation; an empty LogBase finds no newer records, so only
	// Reconcile's demotion step runs.
	Dir dirops.Directory
	LogBase string
	LogFilter string
	CSNAttr string

	// CookieOverride seeds the initial sync cookie from a command-line
	// override matching this RID; nil defers to the shared Cookie
	// State, then the directory readback.
	CookieOverride []byte

	// Deleted reports whether the owning configuration directive has
	// been removed; Tick exits cleanly on the next call once true.
	Deleted func() bool

	// Search issues one round. Required.
	Search SearchFunc
	// Connect performs any one-time setup (dial, bind) before the first
	// Search call of a connection lifetime. Nil means no setup needed.
	Connect func(ctx context.Context) error
	// Close tears down whatever Connect set up. Nil means nothing to do.
	Close func() error

	mu sync.Mutex
	connected bool
	tooOld bool
	cookie []byte
	phase Phase
}

// Phase returns the source's current state, for status reporting.
func (s *Source) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.phase
}

// Tick runs one iteration of the source's loop: connect if needed, take
// the refresh slot, run one search round and dispatch it. resume
// is handed to TryBeginRefresh so a sibling source sharing this
// database's Cookie State can wake this source at interval 0 once it
// finishes its own refresh. Only one Tick runs at a time per Source:
// Tick holds the Source's own mutex for the whole call.
func (s *Source) Tick(ctx context.Context, resume cookie.Resumer) (result Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			result = Result{Disposition: DispositionRescheduled, Err: fmt.Errorf("source: panic in tick: %v", r)}
			s.logger().Error("recovered panic in source tick", slog.String("source", s.Name), slog.Any("panic", r))
		}
	}()

	if s.Deleted != nil && s.Deleted() {
		s.phase = PhaseTerminating
		s.teardown()

		return Result{Disposition: DispositionRemoved}
	}

	if !s.connected {
		s.phase = PhaseConnecting
		if err := s.connect(ctx); err != nil {
			return s.classify(err)
		}

		s.connected = true
	}

	granted := s.CookieState.TryBeginRefresh(s.Name, resume)
	if !granted {
		s.phase = PhasePaused

		return Result{Disposition: DispositionPaused}
	}

	s.phase = PhaseRefreshingPresent

	round, err := s.Search(ctx, s.cookie)
	if err != nil {
		s.CookieState.EndRefresh(s.Name, true)

		return s.classify(err)
	}

	err = s.processRound(ctx, round)

	s.CookieState.EndRefresh(s.Name, true)

	if err != nil {
		return s.classify(err)
	}

	s.Retry.Reset()

	return Result{Disposition: DispositionRescheduled, NextInterval: time.Duration(s.IntervalSeconds) * time.Second}
}

func (s *Source) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}

	return slog.Default()
}

func (s *Source) teardown() {
	if s.connected && s.Close != nil {
		if err := s.Close(); err != nil {
			s.logger().Warn("error closing source connection during teardown", slog.String("source", s.Name), slog.String("error", err.Error()))
		}
	}

	s.connected = false
}

// seedCookie resolves the starting cookie in priority order: a
// command-line override matching this rid, else the shared Cookie
// State's committed vector recomposed as a cookie, else whatever
// LoadFromStorage already populated via the directory readback.
func (s *Source) seedCookie(ctx context.Context) error {
	if s.CookieOverride != nil {
		s.cookie = s.CookieOverride

		return nil
	}

	if err := s.CookieState.LoadFromStorage(ctx); err != nil {
		return fmt.Errorf("source: seed cookie: %w", err)
	}

	committed := s.CookieState.Committed()
	if committed.Len() == 0 {
		s.cookie = nil

		return nil
	}

	s.cookie = []byte(csn.Compose(csn.Cookie{RID: s.RID, SID: s.SID, Vector: committed}))

	return nil
}
