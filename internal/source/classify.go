package source

import (
	"context"
	"errors"
	"log/slog"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/ldapsyncd/ldapsyncd/internal/apply"
	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
)

// ErrProtocol marks a message this source could not decode or dispatch
// (an undecodable entry or an unrecognized message type): close the
// connection and retry, same disposition as a transient failure but
// always forcing a reconnect first. Errors returned by Search, including
// internal/wire's duplicate or missing sync-state control errors, are
// not wrapped with it; they take the transient path and keep the
// connection.
var ErrProtocol = errors.New("source: protocol error")

// classify turns one tick's failure into a scheduling Result. The retry
// schedule (internal/retry.Schedule) is the source of truth for which
// step is current and whether it is exhausted; go-retry supplies the
// jitter so that many sources sharing the same schedule text don't
// all wake the provider in lockstep after an outage.
func (s *Source) classify(err error) Result {
	if errors.Is(err, context.Canceled) {
		s.phase = PhaseTerminating
		s.teardown()

		return Result{Disposition: DispositionTerminated, Err: err}
	}

	switch {
	case errors.Is(err, ErrProtocol):
		// "close connection, retry": force a fresh connect (and cookie
		// reseed) on the next tick rather than resuming the stream.
		s.teardown()

	case errors.Is(err, apply.ErrRestartRequired):
		// No-such-object during persist invalidates this connection's
		// view; restart from a fresh connect.
		s.teardown()

	case errors.Is(err, dirops.ErrNonLeaf):
		// The Entry Applier already promotes this to a glue conversion
		// internally; classify should never see it surface as a tick
		// failure, but treat it as transient rather than fatal if it does.

	default:
		// Transient connection/timeout failures: keep the connection
		// state as-is and let the next tick's Search call retry it.
	}

	s.Retry.Consume()

	if s.Retry.Exhausted() {
		s.logger().Warn("retry schedule exhausted, removing source", slog.String("source", s.Name), slog.String("error", err.Error()))
		s.teardown()

		return Result{Disposition: DispositionRemoved, Err: err}
	}

	interval, _ := s.Retry.Current()

	return Result{Disposition: DispositionRescheduled, NextInterval: jitteredInterval(interval), Err: err}
}

// jitteredInterval spreads retrying sources' wakeups across a +/-10%
// window around the schedule's configured interval, via go-retry's
// constant backoff plus percentage jitter. A zero or negative base
// (e.g. an immediate retry step) passes through unchanged.
func jitteredInterval(base time.Duration) time.Duration {
	if base <= 0 {
		return base
	}

	b, err := goretry.NewConstant(base)
	if err != nil {
		return base
	}

	b = goretry.WithJitterPercent(10, b)

	d, _ := b.Next()

	return d
}
