package wire

import (
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSyncState_Basic(t *testing.T) {
	u := uuid.New()

	ctrl := &ldap.ControlSyncState{
		State:     ldap.SyncStateAdd,
		EntryUUID: u,
		Cookie:    []byte("c"),
	}

	out, err := ParseSyncState([]ldap.Control{ctrl})
	require.NoError(t, err)
	assert.Equal(t, SyncStateAdd, out.State)
	assert.Equal(t, [16]byte(u), out.UUID)
	assert.Equal(t, []byte("c"), out.Cookie)
}

func TestParseSyncState_MissingIsError(t *testing.T) {
	_, err := ParseSyncState(nil)
	assert.Error(t, err)
}

func TestParseSyncState_DuplicateIsError(t *testing.T) {
	ctrl := &ldap.ControlSyncState{State: ldap.SyncStatePresent}

	_, err := ParseSyncState([]ldap.Control{ctrl, ctrl})
	assert.Error(t, err)
}

func TestParseSyncDone_Basic(t *testing.T) {
	ctrl := &ldap.ControlSyncDone{Cookie: []byte("c"), RefreshDeletes: true}

	out, found, err := ParseSyncDone([]ldap.Control{ctrl})
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, out.RefreshDeletes)
}

func TestParseSyncDone_AbsentIsNotError(t *testing.T) {
	_, found, err := ParseSyncDone(nil)
	require.NoError(t, err)
	assert.False(t, found)
}
