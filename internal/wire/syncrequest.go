package wire

import "github.com/go-ldap/ldap/v3"

// BuildSyncRequest builds the outbound LDAP Sync Request control (RFC
// 4533 §2.2) for the full-sync dialect, using go-ldap/ldap/v3's own
// ControlSyncRequest type.
func BuildSyncRequest(mode ldap.ControlSyncRequestMode, cookie []byte, reloadHint bool) *ldap.ControlSyncRequest {
	return ldap.NewControlSyncRequest(mode, cookie, reloadHint)
}
