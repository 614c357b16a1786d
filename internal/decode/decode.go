package decode

import "github.com/ldapsyncd/ldapsyncd/internal/dirops"

// Decoder turns one provider-specific raw record into a Message.
type Decoder interface {
	Decode(raw Raw) (Message, error)
}

// Raw is a provider-agnostic carrier for whatever a dialect decoder
// needs: a plain decoder reads Attrs/DN/UUID, an access-log decoder
// reads the changes blob, a change-log decoder reads the diff blob and
// change number, a dir-sync decoder reads Attrs with incremental
// add/delete tags already applied by the wire layer.
type Raw struct {
	DN           string
	UUID         [16]byte
	Attrs        dirops.Attrs
	Stamp        []byte
	ChangeNumber int64

	// Delta-dialect fields (access-log / change-log / dir-sync).
	ChangeType      ChangeType
	NewRDN          string
	NewSuperior     string
	DeleteOldRDN    bool
	ChangesBlob     string // access-log "attr:OP value" lines
	IncrementalAdds dirops.Attrs
	IncrementalDels dirops.Attrs
	HasWhenCreated  bool
	HasDeleteFlag   bool
}
