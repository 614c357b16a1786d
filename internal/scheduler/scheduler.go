// Package scheduler implements the cooperative run-queue: one goroutine
// per configured source, ticking it on its own schedule, bounding how
// many sources on the same database may be actively
// connecting/searching at once, and reacting to each tick's disposition
// (reschedule, pause, remove, terminate). Refresh mutual exclusion
// itself lives in internal/cookie.State; this package only decides
// when each source's next Tick call happens.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ldapsyncd/ldapsyncd/internal/source"
)

// defaultMaxConcurrentPerDatabase bounds how many sources sharing one
// database may have a tick in flight (connecting, searching, applying)
// at the same time, independent of the Cookie State's stricter refresh
// mutex: a small fixed bound rather than one goroutine per source
// running unbounded, capping concurrency per database rather than
// total worker count.
const defaultMaxConcurrentPerDatabase = 4

// Options configures a Runner.
type Options struct {
	Logger *slog.Logger
	// MaxConcurrentPerDatabase overrides defaultMaxConcurrentPerDatabase.
	// Zero uses the default; negative means unbounded.
	MaxConcurrentPerDatabase int64
}

type runEntry struct {
	src *source.Source
	database string
	wake chan struct{}
	stop atomic.Bool
}

// Runner is the run-queue: insert/remove/wake/isRunning over a set of
// sources, each driven by its own goroutine under an errgroup.Group so
// Stop can wait for every one to exit cleanly.
type Runner struct {
	logger *slog.Logger
	maxPer int64

	mu sync.Mutex
	sems map[string]*semaphore.Weighted // keyed by database
	byRID map[string]*runEntry // keyed by source.Name

	group *errgroup.Group
	ctx context.Context
	cancel context.CancelFunc
}

// New creates a Runner bound to ctx; cancelling ctx (or calling Stop)
// stops every source's tick loop at its next loop boundary, where a
// shutdown flag is polled.
func New(ctx context.Context, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxPer := opts.MaxConcurrentPerDatabase
	if maxPer == 0 {
		maxPer = defaultMaxConcurrentPerDatabase
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)

	return &Runner{
		logger: logger,
		maxPer: maxPer,
		sems: make(map[string]*semaphore.Weighted),
		byRID: make(map[string]*runEntry),
		group: group,
		ctx: groupCtx,
		cancel: cancel,
	}
}

// Insert adds src to the run queue under the given database grouping
// and starts its tick loop. src.Deleted is overwritten: the Runner owns
// deletion for sources it schedules, signaled through Remove.
func (r *Runner) Insert(database string, src *source.Source) error {
	r.mu.Lock()

	if _, exists := r.byRID[src.Name]; exists {
		r.mu.Unlock()

		return fmt.Errorf("scheduler: source %q already running", src.Name)
	}

	re := &runEntry{src: src, database: database, wake: make(chan struct{}, 1)}
	src.Deleted = func() bool { return re.stop.Load() }

	r.byRID[src.Name] = re
	r.mu.Unlock()

	r.group.Go(func() error {
		r.runLoop(re)

		return nil
	})

	return nil
}

// Remove marks src for deletion and wakes it immediately so the next
// tick observes Deleted() == true rather than waiting out whatever
// interval or pause it is currently sleeping through.
func (r *Runner) Remove(name string) {
	r.mu.Lock()
	re, ok := r.byRID[name]
	r.mu.Unlock()

	if !ok {
		return
	}

	re.stop.Store(true)
	r.wake(re)
}

// Wake forces name's tick loop to run again immediately, skipping the
// remainder of its current reschedule interval or pause. Used both by
// Remove and by an operator-triggered "sync now".
func (r *Runner) Wake(name string) bool {
	r.mu.Lock()
	re, ok := r.byRID[name]
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.wake(re)

	return true
}

func (r *Runner) wake(re *runEntry) {
	re.resume()
}

// IsRunning reports whether name still has an active entry in the run
// queue (it may currently be ticking, rescheduled, or paused).
func (r *Runner) IsRunning(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.byRID[name]

	return ok
}

// Stop cancels every source's tick loop and waits for all of them to
// return.
func (r *Runner) Stop() error {
	r.cancel()

	return r.group.Wait()
}

func (r *Runner) semaphoreFor(database string) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()

	sem, ok := r.sems[database]
	if !ok {
		weight := r.maxPer
		if weight < 0 {
			weight = 1 << 30 // effectively unbounded
		}

		sem = semaphore.NewWeighted(weight)
		r.sems[database] = sem
	}

	return sem
}

func (r *Runner) forget(name string) {
	r.mu.Lock()
	delete(r.byRID, name)
	r.mu.Unlock()
}

// resume is handed to Source.Tick as the Cookie State's wake-a-pending-
// sibling callback: the sibling that just finished refreshing calls it
// for the source it is waking, which must skip the rest of its pause
// immediately.
func (re *runEntry) resume() {
	select {
	case re.wake <- struct{}{}:
	default:
	}
}

// runLoop repeatedly ticks re.src, sleeping between ticks according to
// each Result's disposition, until the source is removed/terminated or
// the Runner's context is cancelled.
func (r *Runner) runLoop(re *runEntry) {
	defer r.forget(re.src.Name)

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		sem := r.semaphoreFor(re.database)
		if err := sem.Acquire(r.ctx, 1); err != nil {
			return
		}

		result := re.src.Tick(r.ctx, re.resume)
		sem.Release(1)

		switch result.Disposition {
		case source.DispositionRescheduled:
			if result.Err != nil {
				r.logger.Warn("source tick rescheduled after error",
					slog.String("source", re.src.Name), slog.String("error", result.Err.Error()),
					slog.Duration("next", result.NextInterval))
			}

			if !r.sleep(result.NextInterval, re.wake) {
				return
			}

		case source.DispositionPaused:
			if !r.sleep(0, re.wake) {
				return
			}

		case source.DispositionRemoved:
			r.logger.Info("source removed from run queue", slog.String("source", re.src.Name),
				slog.Any("error", result.Err))

			return

		case source.DispositionTerminated:
			return
		}
	}
}

// sleep waits for d (or, if d <= 0, indefinitely — the paused-source
// case, which only a sibling's wake or shutdown ever ends), returning
// false if the Runner's context was cancelled first.
func (r *Runner) sleep(d time.Duration, wake <-chan struct{}) bool {
	if d <= 0 {
		select {
		case <-r.ctx.Done():
			return false
		case <-wake:
			return true
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-r.ctx.Done():
		return false
	case <-wake:
		return true
	case <-timer.C:
		return true
	}
}
