package main

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cmdWithCLIContext(cc *CLIContext) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, cc))

	return cmd
}

func TestRunCookieShow_MissingCookieErrors(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	cc := &CLIContext{Store: store, Logger: discardLogger()}

	err := runCookieShow(cmdWithCLIContext(cc), []string{"db1"})
	assert.Error(t, err)
}

func TestRunCookieShow_PersistedCookie(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "db1", 1, "rid=1,sid=1,csn=1:a"))

	cc := &CLIContext{Store: store, Logger: discardLogger()}

	err := runCookieShow(cmdWithCLIContext(cc), []string{"db1"})
	assert.NoError(t, err)
}

func TestRunCookieReset_WithoutForceLeavesCookieIntact(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "db1", 1, "rid=1,sid=1,csn=1:a"))

	cc := &CLIContext{Store: store, Logger: discardLogger(), Flags: Flags{}}

	require.NoError(t, runCookieReset(cmdWithCLIContext(cc), []string{"db1"}, false))

	raw, err := store.Get(ctx, "db1")
	require.NoError(t, err)
	assert.Equal(t, "rid=1,sid=1,csn=1:a", raw)
}

func TestRunCookieReset_WithForceClearsCookie(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "db1", 1, "rid=1,sid=1,csn=1:a"))

	cc := &CLIContext{Store: store, Logger: discardLogger(), Flags: Flags{Quiet: true}}

	require.NoError(t, runCookieReset(cmdWithCLIContext(cc), []string{"db1"}, true))

	raw, err := store.Get(ctx, "db1")
	require.NoError(t, err)
	assert.Empty(t, raw)
}
