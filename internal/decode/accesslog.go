package decode

import (
	"strings"

	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
)

// opChar maps an access-log change-line operator to a Mod op.
var opChar = map[byte]dirops.ModOp{
	'+': dirops.ModAdd,
	'-': dirops.ModDelete,
	'=': dirops.ModReplace,
	'#': dirops.ModIncrement,
}

// AccessLogDecoder decodes access-log dialect delta records: targetDN,
// changeType, a "changes" blob of "attr:OP value" lines, and rename
// fields.
type AccessLogDecoder struct {
	SingleValued map[string]bool // attributes to apply single-valued rewrite rules to
	ExcludeAttrs map[string]bool
	DynamicAttrs map[string]bool // e.g. pwdFailureTime, never replicated
}

// Decode implements Decoder.
func (d *AccessLogDecoder) Decode(raw Raw) (Message, error) {
	mods := d.parseChanges(raw.ChangesBlob)

	return OpMessage{
		ChangeType: raw.ChangeType,
		TargetDN: raw.DN,
		NewRDN: raw.NewRDN,
		NewSuperior: raw.NewSuperior,
		DeleteOldRDN: raw.DeleteOldRDN,
		Mods: mods,
		UUID: raw.UUID,
		Stamp: raw.Stamp,
	}, nil
}

func (d *AccessLogDecoder) parseChanges(blob string) []dirops.Mod {
	var mods []dirops.Mod

	var cur *dirops.Mod

	for _, line := range strings.Split(blob, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || line == "-" {
			cur = nil

			continue
		}

		attr, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		attr = strings.TrimSpace(attr)

		if rest == "" {
			cur = nil

			continue
		}

		if len(rest) < 1 {
			continue
		}

		opB := rest[0]
		value := strings.TrimPrefix(rest[1:], " ")

		op, known := opChar[opB]
		if !known {
			continue
		}

		lower := strings.ToLower(attr)
		if d.ExcludeAttrs[lower] || d.DynamicAttrs[lower] {
			continue
		}

		if d.SingleValued[lower] {
			switch op {
			case dirops.ModAdd:
				op = dirops.ModReplace
			case dirops.ModDelete:
				// Soft-delete: a specific-value delete tolerates a
				// concurrent replace better than delete-all would.
				op = dirops.ModDelete
			}
		}

		if cur != nil && cur.Attr == attr && cur.Op == op {
			cur.Values = append(cur.Values, value)

			continue
		}

		mods = append(mods, dirops.Mod{Op: op, Attr: attr, Values: []string{value}})
		cur = &mods[len(mods)-1]
	}

	return mods
}
