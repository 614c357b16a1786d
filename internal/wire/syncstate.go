package wire

import (
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// SyncStateType mirrors RFC 4533's syncStateEnum.
type SyncStateType int

const (
	SyncStatePresent SyncStateType = iota
	SyncStateAdd
	SyncStateModify
	SyncStateDelete
)

// SyncState is the parsed form of a per-entry Sync State control.
type SyncState struct {
	State SyncStateType
	UUID [16]byte
	Cookie []byte // nil unless this entry carries a cookie update
}

// ParseSyncState extracts a SyncState (state, uuid, optional cookie)
// from an entry's control list. Rejects an entry carrying more than one
// Sync State control as a protocol error.
func ParseSyncState(controls []ldap.Control) (SyncState, error) {
	var (
		found bool
		out SyncState
	)

	for _, ctrl := range controls {
		sc, ok := ctrl.(*ldap.ControlSyncState)
		if !ok {
			continue
		}

		if found {
			return SyncState{}, fmt.Errorf("wire: entry carries more than one sync state control")
		}

		found = true
		out = SyncState{
			State: SyncStateType(sc.State),
			UUID: [16]byte(sc.EntryUUID),
			Cookie: sc.Cookie,
		}
	}

	if !found {
		return SyncState{}, fmt.Errorf("wire: entry is missing a sync state control")
	}

	return out, nil
}
