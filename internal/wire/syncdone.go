package wire

import (
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// SyncDone is the parsed form of the final-result Sync Done control.
type SyncDone struct {
	Cookie []byte
	RefreshDeletes bool
}

// ParseSyncDone extracts a SyncDone from a search-result-done control
// list. Its absence is not itself an error here; callers decide whether
// a missing Sync Done control on a refresh-and-persist dialect's final
// result is a protocol error (
// result as a protocol error" case), since an ordinary end-of-refresh
// result in refresh-only mode carries one while a persist-phase error
// result may not.
func ParseSyncDone(controls []ldap.Control) (SyncDone, bool, error) {
	var (
		found bool
		out SyncDone
	)

	for _, ctrl := range controls {
		sd, ok := ctrl.(*ldap.ControlSyncDone)
		if !ok {
			continue
		}

		if found {
			return SyncDone{}, false, fmt.Errorf("wire: result carries more than one sync done control")
		}

		found = true
		out = SyncDone{Cookie: sd.Cookie, RefreshDeletes: sd.RefreshDeletes}
	}

	return out, found, nil
}
