// Package decode turns provider-specific wire records (plain full-sync
// entries, access-log delta records, change-log delta records, dir-sync
// differential entries) into the common internal Message representation
// the Entry Applier consumes, a tagged-variant union rather than a single
// struct with unused fields per dialect.
package decode

import "github.com/ldapsyncd/ldapsyncd/internal/dirops"

// Message is the tagged-variant union the Entry Applier matches on.
// Exactly one of the concrete types below is returned by a Decode call.
type Message interface {
	isMessage()
}

// EntryMessage is a full-sync entry update ready for the Entry Applier.
// It carries the sync-state classification, UUID, DN, and the complete
// incoming attribute set (already passed through context-attribute
// dropping and DN rewriting) — the Entry Applier diffs Attrs against the
// local peer's current attributes (internal/diff), it does not receive
// a pre-made modification list, since that diff needs the peer's
// current state which the decoder never sees.
type EntryMessage struct {
	State State
	UUID [16]byte
	DN string
	Attrs dirops.Attrs
	Stamp []byte // entryCSN / changeStamp for this operation, if known
}

func (EntryMessage) isMessage() {}

// State classifies what kind of directory change a message represents.
type State int

const (
	StatePresent State = iota
	StateAdd
	StateModify
	StateDelete
)

// OpMessage is a delta-dialect record that has not yet been resolved to
// a peer entry (access-log / change-log / dir-sync raw op), still
// carrying its raw change-type and attribute-operation list before the
// Entry Applier's peer lookup and diff step.
type OpMessage struct {
	ChangeType ChangeType
	TargetDN string
	NewRDN string
	NewSuperior string
	DeleteOldRDN bool
	Mods []dirops.Mod
	UUID [16]byte
	Stamp []byte
	ChangeNumber int64 // change-log dialect only; 0 if not applicable
}

func (OpMessage) isMessage() {}

// ChangeType mirrors the four LDAP changelog/access-log change types.
type ChangeType int

const (
	ChangeAdd ChangeType = iota
	ChangeDelete
	ChangeModify
	ChangeModRDN
)

// CookieOnlyMessage carries just a cookie update with no entry payload
// (the NEW_COOKIE intermediate response).
type CookieOnlyMessage struct {
	Cookie []byte
}

func (CookieOnlyMessage) isMessage() {}

// RefreshPhase distinguishes which phase a RefreshPhaseMessage reports.
type RefreshPhase int

const (
	RefreshPhasePresent RefreshPhase = iota
	RefreshPhaseDelete
)

// RefreshPhaseMessage records a REFRESH_PRESENT / REFRESH_DELETE
// intermediate response.
type RefreshPhaseMessage struct {
	Phase RefreshPhase
	Cookie []byte
	RefreshDone bool
}

func (RefreshPhaseMessage) isMessage() {}

// PresentSetMessage is a SYNC_ID_SET intermediate response carrying
// entries to mark present (RefreshDeletes == false) or a non-present
// reconciliation input list (RefreshDeletes == true).
type PresentSetMessage struct {
	UUIDs [][16]byte
	RefreshDeletes bool
	Cookie []byte
}

func (PresentSetMessage) isMessage() {}

// FinalResultMessage is the terminal search-result-done message.
type FinalResultMessage struct {
	Cookie []byte
	RefreshDeletes bool
	HasSyncDone bool
}

func (FinalResultMessage) isMessage() {}
