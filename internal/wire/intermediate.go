package wire

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/google/uuid"
)

// syncInfoOID is the LDAP Sync Info intermediate response's responseName
// (RFC 4533 §2.5).
const syncInfoOID = "1.3.6.1.4.1.4203.1.9.1.4"

// IntermediateKind tags which of the four syncInfoValue CHOICE arms an
// IntermediateSyncInfo carries.
type IntermediateKind int

const (
	IntermediateNewCookie IntermediateKind = iota
	IntermediateRefreshDelete
	IntermediateRefreshPresent
	IntermediateSyncIDSet
)

// IntermediateSyncInfo is the parsed body of an RFC 4533 Sync Info
// intermediate response, matching.
type IntermediateSyncInfo struct {
	Kind IntermediateKind
	Cookie []byte
	RefreshDone bool // NEW_COOKIE has none; defaults to true for REFRESH_{PRESENT,DELETE}
	RefreshDeletes bool // SYNC_ID_SET only
	UUIDs [][16]byte
}

// ParseIntermediate decodes an LDAP IntermediateResponse's responseValue
// for responseName == syncInfoOID into an IntermediateSyncInfo. The
// syncInfoValue CHOICE is tagged implicitly by context-specific tag
// number (0=newcookie, 1=refreshDelete, 2=refreshPresent, 3=syncIdSet),
// matching RFC 4533's ASN.1 and the same tagged-choice decode shape used
// by go-ldap/ldap/v3's own (unexported in the stable release) syncrepl
// control handling.
func ParseIntermediate(responseName string, responseValue []byte) (IntermediateSyncInfo, error) {
	if responseName != "" && responseName != syncInfoOID {
		return IntermediateSyncInfo{}, fmt.Errorf("wire: unexpected intermediate response OID %q", responseName)
	}

	pkt, err := ber.DecodePacketErr(responseValue)
	if err != nil {
		return IntermediateSyncInfo{}, fmt.Errorf("wire: decoding syncInfoValue: %w", err)
	}

	switch IntermediateKind(pkt.Identifier.Tag) {
	case IntermediateNewCookie:
		return IntermediateSyncInfo{Kind: IntermediateNewCookie, Cookie: pkt.ByteValue}, nil
	case IntermediateRefreshDelete:
		cookie, refreshDone := parseRefreshBody(pkt)

		return IntermediateSyncInfo{Kind: IntermediateRefreshDelete, Cookie: cookie, RefreshDone: refreshDone}, nil
	case IntermediateRefreshPresent:
		cookie, refreshDone := parseRefreshBody(pkt)

		return IntermediateSyncInfo{Kind: IntermediateRefreshPresent, Cookie: cookie, RefreshDone: refreshDone}, nil
	case IntermediateSyncIDSet:
		return parseSyncIDSet(pkt)
	default:
		return IntermediateSyncInfo{}, fmt.Errorf("wire: unknown syncInfoValue tag %d", pkt.Identifier.Tag)
	}
}

// parseRefreshBody decodes the shared SEQUENCE { cookie OPTIONAL,
// refreshDone BOOLEAN DEFAULT TRUE } body of refreshDelete/refreshPresent.
func parseRefreshBody(pkt *ber.Packet) (cookie []byte, refreshDone bool) {
	refreshDone = true

	switch len(pkt.Children) {
	case 0:
	case 1:
		cookie = pkt.Children[0].ByteValue
	default:
		cookie = pkt.Children[0].ByteValue
		if b, ok := pkt.Children[1].Value.(bool); ok {
			refreshDone = b
		}
	}

	return cookie, refreshDone
}

// parseSyncIDSet decodes SEQUENCE { cookie OPTIONAL, refreshDeletes
// BOOLEAN DEFAULT FALSE, syncUUIDs SET OF entryUUID }.
func parseSyncIDSet(pkt *ber.Packet) (IntermediateSyncInfo, error) {
	out := IntermediateSyncInfo{Kind: IntermediateSyncIDSet}

	if len(pkt.Children) == 0 {
		return out, nil
	}

	idx := 0

	out.Cookie = pkt.Children[idx].ByteValue
	idx++

	if idx < len(pkt.Children) {
		if b, ok := pkt.Children[idx].Value.(bool); ok {
			out.RefreshDeletes = b
			idx++
		}
	}

	if idx < len(pkt.Children) {
		for _, child := range pkt.Children[idx].Children {
			u, err := uuid.FromBytes(child.ByteValue)
			if err != nil {
				return IntermediateSyncInfo{}, fmt.Errorf("wire: decoding syncUUIDs entry: %w", err)
			}

			out.UUIDs = append(out.UUIDs, [16]byte(u))
		}
	}

	return out, nil
}
