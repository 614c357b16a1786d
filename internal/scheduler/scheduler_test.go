package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldapsyncd/ldapsyncd/internal/cookie"
	"github.com/ldapsyncd/ldapsyncd/internal/cookieupdate"
	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
	"github.com/ldapsyncd/ldapsyncd/internal/dirops/fake"
	"github.com/ldapsyncd/ldapsyncd/internal/retry"
	"github.com/ldapsyncd/ldapsyncd/internal/source"
	"github.com/ldapsyncd/ldapsyncd/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMinimalSource(t *testing.T, name, database string) *source.Source {
	t.Helper()

	dir := fake.New()
	dir.Seed(dirops.Entry{DN: database, Attrs: dirops.Attrs{"objectClass": {"top"}}})

	cs := cookie.New(cookie.Options{
		Database:    database,
		ContextDN:   database,
		ContextAttr: "contextCSN",
		RID:         1,
		SID:         1,
		Dir:         dir,
		Logger:      discardLogger(),
	})

	sched, err := retry.Parse("1 +")
	require.NoError(t, err)

	return &source.Source{
		Name:            name,
		RID:             1,
		SID:             1,
		IntervalSeconds: 60,
		CookieState:     cs,
		CookieUpdater:   &cookieupdate.Updater{State: cs},
		Retry:           sched,
		Logger:          discardLogger(),
		Dir:             dir,
		Search: func(ctx context.Context, cookieBytes []byte) (*wire.SyncResult, error) {
			return &wire.SyncResult{}, nil
		},
	}
}

func TestRunner_InsertTicksAndIsRunning(t *testing.T) {
	r := New(context.Background(), Options{})
	src := newMinimalSource(t, "rid=1 test", "dc=example,dc=com")

	ticked := make(chan struct{}, 1)
	src.Search = func(ctx context.Context, cookieBytes []byte) (*wire.SyncResult, error) {
		select {
		case ticked <- struct{}{}:
		default:
		}

		return &wire.SyncResult{}, nil
	}

	require.NoError(t, r.Insert("dc=example,dc=com", src))
	assert.True(t, r.IsRunning("rid=1 test"))

	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("source never ticked")
	}

	require.NoError(t, r.Stop())
}

func TestRunner_InsertDuplicateNameErrors(t *testing.T) {
	r := New(context.Background(), Options{})
	src := newMinimalSource(t, "rid=1 dup", "dc=example,dc=com")

	require.NoError(t, r.Insert("dc=example,dc=com", src))
	err := r.Insert("dc=example,dc=com", newMinimalSource(t, "rid=1 dup", "dc=example,dc=com"))
	assert.Error(t, err)

	require.NoError(t, r.Stop())
}

func TestRunner_RemoveStopsTheLoop(t *testing.T) {
	r := New(context.Background(), Options{})
	src := newMinimalSource(t, "rid=1 removeme", "dc=example,dc=com")
	src.IntervalSeconds = 3600 // long enough that only Remove's wake ends the sleep

	require.NoError(t, r.Insert("dc=example,dc=com", src))

	// Let the first tick happen and settle into its reschedule sleep.
	time.Sleep(50 * time.Millisecond)

	r.Remove("rid=1 removeme")

	require.Eventually(t, func() bool {
		return !r.IsRunning("rid=1 removeme")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Stop())
}

func TestRunner_WakeEndsAPause(t *testing.T) {
	r := New(context.Background(), Options{})
	src := newMinimalSource(t, "rid=1 paused", "dc=example,dc=com")

	attempts := 0
	first := make(chan struct{})
	src.Search = func(ctx context.Context, cookieBytes []byte) (*wire.SyncResult, error) {
		attempts++
		if attempts == 1 {
			close(first)
		}

		return &wire.SyncResult{}, nil
	}

	// Occupy the refresh slot so the source's very first tick pauses.
	granted := src.CookieState.TryBeginRefresh("someone-else", func() {})
	require.True(t, granted)

	require.NoError(t, r.Insert("dc=example,dc=com", src))

	ok := r.Wake("rid=1 paused")
	assert.True(t, ok)

	src.CookieState.EndRefresh("someone-else", true)
	assert.True(t, r.Wake("rid=1 paused"))

	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("source never got past its pause")
	}

	require.NoError(t, r.Stop())
}

func TestRunner_StopCancelsInFlightSources(t *testing.T) {
	r := New(context.Background(), Options{})
	src := newMinimalSource(t, "rid=1 blocked", "dc=example,dc=com")

	src.Search = func(ctx context.Context, cookieBytes []byte) (*wire.SyncResult, error) {
		<-ctx.Done()

		return nil, ctx.Err()
	}

	require.NoError(t, r.Insert("dc=example,dc=com", src))

	done := make(chan error, 1)

	go func() {
		done <- r.Stop()
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}

func TestRunner_MaxConcurrentPerDatabaseSerializesTicks(t *testing.T) {
	r := New(context.Background(), Options{MaxConcurrentPerDatabase: 1})

	var inFlight, maxSeen int
	block := make(chan struct{})

	mk := func(name string) *source.Source {
		s := newMinimalSource(t, name, "dc=example,dc=com")
		s.Search = func(ctx context.Context, cookieBytes []byte) (*wire.SyncResult, error) {
			inFlight++
			if inFlight > maxSeen {
				maxSeen = inFlight
			}

			<-block

			inFlight--

			return &wire.SyncResult{}, errors.New("stop after one round")
		}
		s.IntervalSeconds = 3600

		return s
	}

	require.NoError(t, r.Insert("dc=example,dc=com", mk("rid=1 a")))
	require.NoError(t, r.Insert("dc=example,dc=com", mk("rid=2 b")))

	time.Sleep(100 * time.Millisecond)
	close(block)

	require.Eventually(t, func() bool { return maxSeen > 0 }, time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, maxSeen, 1)

	require.NoError(t, r.Stop())
}
