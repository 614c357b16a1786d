package decode

import "github.com/ldapsyncd/ldapsyncd/internal/dirops"

// DirSyncDecoder decodes dir-sync dialect differential entries:
// attributes tagged "incremental add" or "incremental delete" become
// soft-add / soft-delete modifications; the absence of a deletion marker
// plus presence of a whenCreated attribute indicates an add; a deletion
// flag indicates delete; otherwise modify.
type DirSyncDecoder struct {
	// CreatedAttr names the attribute whose presence signals the entry
	// was newly created this round ("whenCreated" on most providers).
	CreatedAttr string
}

// Decode implements Decoder.
//
// Dir-sync records carry their incremental add/delete tags as distinct
// attribute sets rather than a single current-value snapshot, so unlike
// PlainDecoder this produces an OpMessage with explicit modifications
// instead of an EntryMessage the applier would need to diff — the
// provider has already done the diffing for us.
func (d *DirSyncDecoder) Decode(raw Raw) (Message, error) {
	mods := make([]dirops.Mod, 0, len(raw.IncrementalAdds)+len(raw.IncrementalDels))

	for attr, vals := range raw.IncrementalDels {
		mods = append(mods, dirops.Mod{Op: dirops.ModDelete, Attr: attr, Values: vals})
	}

	for attr, vals := range raw.IncrementalAdds {
		mods = append(mods, dirops.Mod{Op: dirops.ModAdd, Attr: attr, Values: vals})
	}

	changeType := ChangeModify

	switch {
	case raw.HasDeleteFlag:
		changeType = ChangeDelete
	case raw.HasWhenCreated:
		changeType = ChangeAdd

		// A synthesized add also carries a createTimestamp replace so
		// the applier has a stamp-comparable attribute even when the
		// provider's native whenCreated syntax differs from ours.
		if vals := raw.Attrs[d.CreatedAttr]; len(vals) > 0 {
			mods = append(mods, dirops.Mod{Op: dirops.ModReplace, Attr: "createTimestamp", Values: vals})
		}
	}

	return OpMessage{
		ChangeType: changeType,
		TargetDN: raw.DN,
		Mods: mods,
		UUID: raw.UUID,
		Stamp: raw.Stamp,
	}, nil
}
