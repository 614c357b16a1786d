package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldapsyncd/ldapsyncd/internal/config"
	"github.com/ldapsyncd/ldapsyncd/internal/cookiestore"
)

func openTestStore(t *testing.T) *cookiestore.Store {
	t.Helper()

	s, err := cookiestore.Open(context.Background(), ":memory:", discardLogger())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func TestBuildSourceStatuses_NeverSynced(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	cfg := &config.Config{
		Sources: []config.SourceSection{
			{RID: 1, Provider: "ldap://p1.example", Database: "db1", Type: "refreshOnly"},
		},
	}

	statuses := buildSourceStatuses(context.Background(), cfg, store)
	require.Len(t, statuses, 1)
	assert.Equal(t, "never synced", statuses[0].CookieState)
	assert.Empty(t, statuses[0].LastSaved)
}

func TestBuildSourceStatuses_Persisted(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "db1", 1, "rid=1,sid=1,csn=1:a"))

	cfg := &config.Config{
		Sources: []config.SourceSection{
			{RID: 1, Provider: "ldap://p1.example", Database: "db1", Type: "refreshOnly"},
		},
	}

	statuses := buildSourceStatuses(ctx, cfg, store)
	require.Len(t, statuses, 1)
	assert.Equal(t, "persisted", statuses[0].CookieState)
	assert.NotEmpty(t, statuses[0].LastSaved)
}
