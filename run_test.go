package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldapsyncd/ldapsyncd/internal/config"
	"github.com/ldapsyncd/ldapsyncd/internal/cookie"
	"github.com/ldapsyncd/ldapsyncd/internal/daemon"
	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
	"github.com/ldapsyncd/ldapsyncd/internal/dirops/fake"
	"github.com/ldapsyncd/ldapsyncd/internal/scheduler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSourceName(t *testing.T) {
	t.Parallel()

	name := sourceName(config.SourceSection{RID: 3, Provider: "ldap://provider.example:389"})
	assert.Equal(t, "rid=3 ldap://provider.example:389", name)
}

func newFakeDatabase(name string) *daemon.Database {
	dir := fake.New()
	dir.Seed(dirops.Entry{DN: name, Attrs: dirops.Attrs{"objectClass": {"top"}}})

	state := cookie.New(cookie.Options{
		Database:    name,
		ContextDN:   name,
		ContextAttr: "contextCSN",
		RID:         0,
		SID:         0,
		Dir:         dir,
		Logger:      discardLogger(),
	})

	return &daemon.Database{
		Name:        name,
		ContextDN:   name,
		ContextAttr: "contextCSN",
		StampAttr:   "entryCSN",
		Dir:         dir,
		State:       state,
	}
}

func newTestDaemonState(t *testing.T, databases map[string]*daemon.Database) *daemonState {
	t.Helper()

	logger := discardLogger()

	return &daemonState{
		databases: databases,
		runner:    scheduler.New(context.Background(), scheduler.Options{Logger: logger}),
		active:    make(map[string]bool),
		logger:    logger,
	}
}

func TestReconcile_InsertsNewSources(t *testing.T) {
	t.Parallel()

	databases := map[string]*daemon.Database{"db1": newFakeDatabase("db1")}
	ds := newTestDaemonState(t, databases)

	cfg := &config.Config{
		Sources: []config.SourceSection{
			{RID: 1, Provider: "ldap://p1.example", Database: "db1", Retry: "60 +", Type: "refreshOnly"},
		},
	}

	require.NoError(t, ds.reconcile(cfg))
	assert.True(t, ds.active[sourceName(cfg.Sources[0])])
	assert.True(t, ds.runner.IsRunning(sourceName(cfg.Sources[0])))

	require.NoError(t, ds.runner.Stop())
}

func TestReconcile_RemovesDroppedSources(t *testing.T) {
	t.Parallel()

	databases := map[string]*daemon.Database{"db1": newFakeDatabase("db1")}
	ds := newTestDaemonState(t, databases)

	sec := config.SourceSection{RID: 1, Provider: "ldap://p1.example", Database: "db1", Retry: "60 +", Type: "refreshOnly"}
	cfg := &config.Config{Sources: []config.SourceSection{sec}}

	require.NoError(t, ds.reconcile(cfg))
	require.True(t, ds.active[sourceName(sec)])

	require.NoError(t, ds.reconcile(&config.Config{}))
	assert.False(t, ds.active[sourceName(sec)])
	assert.False(t, ds.runner.IsRunning(sourceName(sec)))

	require.NoError(t, ds.runner.Stop())
}

func TestReconcile_UnknownDatabaseErrors(t *testing.T) {
	t.Parallel()

	ds := newTestDaemonState(t, map[string]*daemon.Database{})

	cfg := &config.Config{
		Sources: []config.SourceSection{
			{RID: 1, Provider: "ldap://p1.example", Database: "missing", Retry: "60 +"},
		},
	}

	assert.Error(t, ds.reconcile(cfg))

	require.NoError(t, ds.runner.Stop())
}

func TestCloseDatabases_ClosesEveryEntry(t *testing.T) {
	t.Parallel()

	// nil conn fields make Close a no-op; this just exercises the loop
	// and logging path without a live LDAP connection.
	databases := map[string]*daemon.Database{
		"db1": newFakeDatabase("db1"),
		"db2": newFakeDatabase("db2"),
	}

	closeDatabases(databases, discardLogger())
}
