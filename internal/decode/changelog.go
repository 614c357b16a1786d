package decode

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
)

// changeLogUUIDNamespace is a fixed namespace used to derive a stable
// 16-byte UUID from a change-log provider's native unique-ID attribute,
// which is not itself always a standard UUID. Deterministic per input so
// the same remote entry always maps to the same local UUID across runs.
var changeLogUUIDNamespace = uuid.MustParse("6f6e1e6a-8e1a-4b4e-9b1a-1da95cd00000")

// ChangeLogDecoder decodes legacy change-log dialect records: DN,
// changeType, a diff blob in sequential-records format, a provider
// unique-ID attribute, and a decimal change number.
type ChangeLogDecoder struct {
	UniqueIDAttr string // provider's native unique-ID attribute name
}

// Decode implements Decoder.
func (d *ChangeLogDecoder) Decode(raw Raw) (Message, error) {
	mods := parseSequentialRecords(raw.ChangesBlob)

	uuidVal := raw.UUID
	if uuidVal == ([16]byte{}) {
		if vals := raw.Attrs[d.UniqueIDAttr]; len(vals) > 0 {
			uuidVal = normalizeUniqueID(vals[0])
		}
	}

	return OpMessage{
		ChangeType: raw.ChangeType,
		TargetDN: raw.DN,
		Mods: mods,
		UUID: uuidVal,
		Stamp: raw.Stamp,
		ChangeNumber: raw.ChangeNumber,
	}, nil
}

// normalizeUniqueID appends a synthetic separator to the provider's
// native unique ID and derives a stable UUID from it via SHA-1 (RFC
// 4122 version 5), so a non-UUID-shaped native identifier still maps to
// a fixed 16-byte value this module can key on.
func normalizeUniqueID(native string) [16]byte {
	return [16]byte(uuid.NewSHA1(changeLogUUIDNamespace, []byte(native+"\x00ldapsyncd")))
}

// parseSequentialRecords parses a "sequential records" diff blob: lines
// of "attr: value"; blank lines are skipped, and all values of one
// attribute across the blob are gathered into a single replace
// modification, one per attribute in first-seen order (the change-log
// dialect has no native add/delete-value distinction; it replaces the
// whole attribute).
func parseSequentialRecords(blob string) []dirops.Mod {
	var mods []dirops.Mod

	grouped := make(map[string][]string)
	order := make([]string, 0)

	for _, line := range strings.Split(blob, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}

		attr, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		attr = strings.TrimSpace(attr)
		val = strings.TrimPrefix(val, " ")

		if _, seen := grouped[attr]; !seen {
			order = append(order, attr)
		}

		grouped[attr] = append(grouped[attr], val)
	}

	for _, attr := range order {
		mods = append(mods, dirops.Mod{Op: dirops.ModReplace, Attr: attr, Values: grouped[attr]})
	}

	return mods
}

// ParseChangeNumber parses a change-log provider's decimal change-number
// attribute value into the local high-water-mark counter type. Exported
// for the wire layer to use when building a Raw record.
func ParseChangeNumber(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
