// Package csn implements change-stamp and sync-cookie vector algebra:
// compare, merge, and age-checking over ordered (serverID, changeStamp)
// vectors.1.
package csn

import (
	"bytes"
	"strconv"
	"strings"
)

// NoSID is the sentinel meaning "no serverID" or "hole" in a vector,
// per the GLOSSARY.
const NoSID int32 = -1

// Stamp is a totally ordered opaque change-stamp. Ordering is lexicographic
// on the underlying bytes; parsing yields the embedded serverID but
// comparison never requires it.
type Stamp []byte

// Compare returns -1, 0, or 1 the way bytes.Compare does: lexicographic
// order on the raw stamp bytes.
func (s Stamp) Compare(o Stamp) int {
	return bytes.Compare(s, o)
}

// Less reports whether s sorts strictly before o.
func (s Stamp) Less(o Stamp) bool {
	return s.Compare(o) < 0
}

// String renders the stamp as-is; LDAP change stamps (CSNs) are already
// printable ASCII (e.g. "20240101000000.000001Z#000001#000#000000").
func (s Stamp) String() string {
	return string(s)
}

// Clone returns an independent copy of the stamp.
func (s Stamp) Clone() Stamp {
	if s == nil {
		return nil
	}

	out := make(Stamp, len(s))
	copy(out, s)

	return out
}

// SID extracts the embedded serverID from a CSN-format stamp
// ("<timestamp>.<usec>Z#<count>#<sid>#<mod>", hex sid field), reporting
// ok=false if the stamp isn't in that shape. Used only by the age check
// in internal/apply, which needs the embedded sid; every other
// comparison in this package stays byte-wise per the package doc
// comment.
func (s Stamp) SID() (sid int32, ok bool) {
	fields := strings.Split(string(s), "#")
	if len(fields) != 4 {
		return 0, false
	}

	v, err := strconv.ParseInt(fields[2], 16, 32)
	if err != nil {
		return 0, false
	}

	return int32(v), true
}
