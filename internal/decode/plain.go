package decode

import (
	"strings"

	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
)

// DNRewriter rewrites a DN-valued attribute value through the source's
// configured suffix-massage rule. A nil DNRewriter leaves values as-is.
type DNRewriter func(dn string) string

// PlainDecoder decodes full-sync dialect entries: a DN plus a complete
// attribute/value list, already parsed out of the wire layer's BER
// attribute sequence into Raw.Attrs.
type PlainDecoder struct {
	// ContextEntryDN and ContextAttr identify the local context-vector
	// attribute to drop from any incoming update to the database's
	// context entry — a peer's own contextCSN value must never overwrite
	// ours.
	ContextEntryDN string
	ContextAttr string

	// DNSyntaxAttrs names attributes whose values are themselves DNs and
	// so must pass through Rewrite (e.g. "manager", "member").
	DNSyntaxAttrs map[string]bool
	Rewrite DNRewriter
}

// Decode implements Decoder.
func (d *PlainDecoder) Decode(raw Raw) (Message, error) {
	attrs := make(dirops.Attrs, len(raw.Attrs))

	dropContextAttr := strings.EqualFold(raw.DN, d.ContextEntryDN)

	for attr, vals := range raw.Attrs {
		if dropContextAttr && strings.EqualFold(attr, d.ContextAttr) {
			continue
		}

		out := vals
		if d.DNSyntaxAttrs[strings.ToLower(attr)] && d.Rewrite != nil {
			out = make([]string, len(vals))
			for i, v := range vals {
				out[i] = d.Rewrite(v)
			}
		}

		attrs[attr] = out
	}

	return EntryMessage{
		State: StateAdd, // caller overwrites with the sync-state control's actual state
		UUID: raw.UUID,
		DN: raw.DN,
		Attrs: attrs,
		Stamp: raw.Stamp,
	}, nil
}
