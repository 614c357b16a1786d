package dirops

import "github.com/google/uuid"

// formatUUID renders the canonical "8-4-4-4-12" hex string LDAP servers
// expect in entryUUID filters.
func formatUUID(u [16]byte) string {
	return uuid.UUID(u).String()
}

// parseUUID parses either the canonical hex-dash string form or a raw
// 16-byte binary string, matching how entryUUID may be returned depending
// on server and syntax negotiation.
func parseUUID(raw string) ([16]byte, error) {
	if len(raw) == 16 {
		var out [16]byte
		copy(out[:], raw)

		return out, nil
	}

	parsed, err := uuid.Parse(raw)
	if err != nil {
		return [16]byte{}, err
	}

	return [16]byte(parsed), nil
}
