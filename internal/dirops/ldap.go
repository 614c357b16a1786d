package dirops

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// internalControlOID tags a modify/add as a non-replicated,
// consumer-internal write, such as the Cookie Updater's contextCSN
// rewrite. The OID is arbitrary within this module's private space;
// servers that don't recognize it simply ignore an unknown
// non-critical control.
const internalControlOID = "1.3.6.1.4.1.99999.1.1"

// LDAPDirectory is the production Directory implementation, talking
// LDAPv3 over a single *ldap.Conn. The "host directory" this consumer
// writes resolved entries into is itself addressed over LDAP, since no
// in-process directory backend ships with this module.
type LDAPDirectory struct {
	conn *ldap.Conn
	uuidAttr string
	entryUUIDAttr string
}

// NewLDAPDirectory wraps an already-bound *ldap.Conn. uuidAttr names the
// entry-identity attribute this directory uses (entryUUID for most
// servers; operators may override via config for servers that expose it
// under a different name).
func NewLDAPDirectory(conn *ldap.Conn, uuidAttr string) *LDAPDirectory {
	if uuidAttr == "" {
		uuidAttr = "entryUUID"
	}

	return &LDAPDirectory{conn: conn, uuidAttr: uuidAttr, entryUUIDAttr: uuidAttr}
}

func internalControls(internal Internal) []ldap.Control {
	if !internal {
		return nil
	}

	return []ldap.Control{ldap.NewControlString(internalControlOID, false, "")}
}

func (d *LDAPDirectory) Add(ctx context.Context, dn string, attrs Attrs, internal Internal) error {
	req := ldap.NewAddRequest(dn, internalControls(internal))
	for attr, vals := range attrs {
		req.Attribute(attr, vals)
	}

	if err := d.conn.Add(req); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists) {
			return fmt.Errorf("%w: %s: %w", ErrAlreadyExists, dn, err)
		}

		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return fmt.Errorf("%w: %s: %w", ErrNotFound, dn, err)
		}

		return fmt.Errorf("dirops: add %s: %w", dn, err)
	}

	return nil
}

func (d *LDAPDirectory) Modify(ctx context.Context, dn string, mods []Mod, internal Internal) error {
	req := ldap.NewModifyRequest(dn, internalControls(internal))

	for _, m := range mods {
		switch m.Op {
		case ModAdd:
			req.Add(m.Attr, m.Values)
		case ModDelete:
			req.Delete(m.Attr, m.Values)
		case ModReplace:
			req.Replace(m.Attr, m.Values)
		case ModIncrement:
			req.Increment(m.Attr, m.Values[0])
		default:
			return fmt.Errorf("dirops: unknown mod op %d for attr %s", m.Op, m.Attr)
		}
	}

	if err := d.conn.Modify(req); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return fmt.Errorf("%w: %s: %w", ErrNotFound, dn, err)
		}

		return fmt.Errorf("dirops: modify %s: %w", dn, err)
	}

	return nil
}

func (d *LDAPDirectory) ModRDN(ctx context.Context, dn, newRDN, newSuperior string, deleteOldRDN bool) error {
	req := ldap.NewModifyDNRequest(dn, newRDN, deleteOldRDN, newSuperior)

	if err := d.conn.ModifyDN(req); err != nil {
		return fmt.Errorf("dirops: modrdn %s -> %s: %w", dn, newRDN, err)
	}

	return nil
}

func (d *LDAPDirectory) Delete(ctx context.Context, dn string) error {
	req := ldap.NewDelRequest(dn, nil)

	if err := d.conn.Del(req); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNotAllowedOnNonLeaf) {
			return fmt.Errorf("%w: %s: %w", ErrNonLeaf, dn, err)
		}

		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return fmt.Errorf("%w: %s: %w", ErrNotFound, dn, err)
		}

		return fmt.Errorf("dirops: delete %s: %w", dn, err)
	}

	return nil
}

func (d *LDAPDirectory) Search(ctx context.Context, base, filter string, sizeLimit int, attrs []string) ([]Entry, error) {
	req := ldap.NewSearchRequest(
		base, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		sizeLimit, 0, false,
		filter, attrs, nil,
	)

	res, err := d.conn.SearchWithPaging(req, 1000)
	if err != nil {
		return nil, fmt.Errorf("dirops: search base=%s filter=%s: %w", base, filter, err)
	}

	out := make([]Entry, 0, len(res.Entries))
	for _, e := range res.Entries {
		out = append(out, d.toEntry(e))
	}

	return out, nil
}

func (d *LDAPDirectory) FetchByUUID(ctx context.Context, base string, uuid [16]byte) (Entry, error) {
	filter := fmt.Sprintf("(%s=%s)", d.entryUUIDAttr, formatUUID(uuid))

	req := ldap.NewSearchRequest(
		base, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		1, 0, false,
		filter, []string{"*", "+"}, nil,
	)

	res, err := d.conn.Search(req)
	if err != nil {
		return Entry{}, fmt.Errorf("dirops: fetch by uuid %s: %w", formatUUID(uuid), err)
	}

	if len(res.Entries) == 0 {
		return Entry{}, ErrNotFound
	}

	return d.toEntry(res.Entries[0]), nil
}

func (d *LDAPDirectory) FetchByDN(ctx context.Context, dn string) (Entry, error) {
	req := ldap.NewSearchRequest(
		dn, ldap.ScopeBaseObject, ldap.NeverDerefAliases,
		1, 0, false,
		"(objectClass=*)", []string{"*", "+"}, nil,
	)

	res, err := d.conn.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return Entry{}, ErrNotFound
		}

		return Entry{}, fmt.Errorf("dirops: fetch by dn %s: %w", dn, err)
	}

	if len(res.Entries) == 0 {
		return Entry{}, ErrNotFound
	}

	return d.toEntry(res.Entries[0]), nil
}

func (d *LDAPDirectory) toEntry(e *ldap.Entry) Entry {
	attrs := make(Attrs, len(e.Attributes))
	for _, a := range e.Attributes {
		attrs[a.Name] = a.Values
	}

	var uuid [16]byte
	if raw := e.GetAttributeValue(d.entryUUIDAttr); raw != "" {
		if parsed, err := parseUUID(raw); err == nil {
			uuid = parsed
		}
	}

	return Entry{DN: e.DN, Attrs: attrs, UUID: uuid}
}
