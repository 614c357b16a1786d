// Package fake provides an in-memory dirops.Directory for tests of
// internal/apply, internal/glue, internal/nonpresent, internal/cookie,
// and internal/source, none of which should need a real LDAP server to
// exercise their logic.
package fake

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
)

// Directory is an in-memory dirops.Directory keyed by normalized DN.
// Safe for concurrent use.
type Directory struct {
	mu      sync.Mutex
	entries map[string]dirops.Entry // key: lowercased DN
	byUUID  map[[16]byte]string     // uuid -> lowercased DN

	// InternalWrites records every Add/Modify call made with
	// internal=true, for assertions that the Cookie Updater's writes
	// are tagged correctly.
	InternalWrites int
}

// New returns an empty fake directory.
func New() *Directory {
	return &Directory{
		entries: make(map[string]dirops.Entry),
		byUUID:  make(map[[16]byte]string),
	}
}

func normDN(dn string) string {
	return strings.ToLower(strings.TrimSpace(dn))
}

// Seed inserts an entry directly, bypassing Add, for test setup.
func (d *Directory) Seed(e dirops.Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e.NormDN = normDN(e.DN)
	d.entries[e.NormDN] = e
	d.byUUID[e.UUID] = e.NormDN
}

func (d *Directory) Add(ctx context.Context, dn string, attrs dirops.Attrs, internal dirops.Internal) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := normDN(dn)
	if _, exists := d.entries[key]; exists {
		return fmt.Errorf("%w: %s", dirops.ErrAlreadyExists, dn)
	}

	if parent := parentDN(dn); parent != "" {
		if _, ok := d.entries[normDN(parent)]; !ok {
			return fmt.Errorf("%w: parent of %s missing", dirops.ErrNotFound, dn)
		}
	}

	cp := make(dirops.Attrs, len(attrs))
	for k, v := range attrs {
		cp[k] = append([]string(nil), v...)
	}

	var uuid [16]byte
	if vals, ok := cp["entryUUID"]; ok && len(vals) > 0 {
		copy(uuid[:], vals[0])
	}

	d.entries[key] = dirops.Entry{DN: dn, NormDN: key, Attrs: cp, UUID: uuid}
	if uuid != ([16]byte{}) {
		d.byUUID[uuid] = key
	}

	if internal {
		d.InternalWrites++
	}

	return nil
}

func (d *Directory) Modify(ctx context.Context, dn string, mods []dirops.Mod, internal dirops.Internal) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := normDN(dn)

	e, ok := d.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", dirops.ErrNotFound, dn)
	}

	for _, m := range mods {
		applyMod(&e, m)
	}

	d.entries[key] = e

	if internal {
		d.InternalWrites++
	}

	return nil
}

func applyMod(e *dirops.Entry, m dirops.Mod) {
	cur := e.Attrs[m.Attr]

	switch m.Op {
	case dirops.ModAdd:
		e.Attrs[m.Attr] = append(cur, m.Values...)
	case dirops.ModDelete:
		if len(m.Values) == 0 {
			delete(e.Attrs, m.Attr)

			return
		}

		remove := make(map[string]bool, len(m.Values))
		for _, v := range m.Values {
			remove[v] = true
		}

		kept := cur[:0]
		for _, v := range cur {
			if !remove[v] {
				kept = append(kept, v)
			}
		}

		e.Attrs[m.Attr] = kept
	case dirops.ModReplace:
		if len(m.Values) == 0 {
			delete(e.Attrs, m.Attr)

			return
		}

		e.Attrs[m.Attr] = append([]string(nil), m.Values...)
	case dirops.ModIncrement:
		// Not meaningfully supported in-memory; tests that need real
		// increment semantics exercise the real-server path instead.
	}
}

func (d *Directory) ModRDN(ctx context.Context, dn, newRDN, newSuperior string, deleteOldRDN bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := normDN(dn)

	e, ok := d.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", dirops.ErrNotFound, dn)
	}

	superior := newSuperior
	if superior == "" {
		superior = parentDN(e.DN)
	}

	newDN := newRDN + "," + superior
	newKey := normDN(newDN)

	delete(d.entries, key)
	e.DN = newDN
	e.NormDN = newKey
	d.entries[newKey] = e

	if e.UUID != ([16]byte{}) {
		d.byUUID[e.UUID] = newKey
	}

	return nil
}

func parentDN(dn string) string {
	_, rest, ok := strings.Cut(dn, ",")
	if !ok {
		return ""
	}

	return rest
}

func (d *Directory) Delete(ctx context.Context, dn string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := normDN(dn)

	e, ok := d.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", dirops.ErrNotFound, dn)
	}

	for k := range d.entries {
		if k != key && strings.HasSuffix(k, ","+key) {
			return fmt.Errorf("%w: %s", dirops.ErrNonLeaf, dn)
		}
	}

	delete(d.entries, key)
	delete(d.byUUID, e.UUID)

	return nil
}

func (d *Directory) Search(ctx context.Context, base, filter string, sizeLimit int, attrs []string) ([]dirops.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	baseKey := normDN(base)

	var out []dirops.Entry

	keys := make([]string, 0, len(d.entries))
	for k := range d.entries {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		if k != baseKey && !strings.HasSuffix(k, ","+baseKey) {
			continue
		}

		e := d.entries[k]
		if !matchFilter(e, filter) {
			continue
		}

		out = append(out, e)
		if sizeLimit > 0 && len(out) >= sizeLimit {
			break
		}
	}

	return out, nil
}

// matchFilter supports the handful of filter shapes this module's own
// code ever issues against a directory: "(objectClass=*)",
// "(entryUUID=<value>)", and the bare presence filter "(attr=*)". It is
// not a general LDAP filter evaluator.
func matchFilter(e dirops.Entry, filter string) bool {
	filter = strings.TrimPrefix(filter, "(")
	filter = strings.TrimSuffix(filter, ")")

	attr, val, ok := strings.Cut(filter, "=")
	if !ok {
		return true
	}

	if val == "*" {
		_, present := e.Attrs[attr]

		return present || strings.EqualFold(attr, "objectClass")
	}

	if strings.EqualFold(attr, "entryUUID") {
		return formatUUIDString(e.UUID) == val
	}

	for _, v := range e.Attrs[attr] {
		if v == val {
			return true
		}
	}

	return false
}

func (d *Directory) FetchByUUID(ctx context.Context, base string, uuid [16]byte) (dirops.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key, ok := d.byUUID[uuid]
	if !ok {
		return dirops.Entry{}, dirops.ErrNotFound
	}

	baseKey := normDN(base)
	if key != baseKey && !strings.HasSuffix(key, ","+baseKey) {
		return dirops.Entry{}, dirops.ErrNotFound
	}

	return d.entries[key], nil
}

func (d *Directory) FetchByDN(ctx context.Context, dn string) (dirops.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[normDN(dn)]
	if !ok {
		return dirops.Entry{}, dirops.ErrNotFound
	}

	return e, nil
}

func formatUUIDString(u [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", u[0:4], u[4:6], u[6:8], u[8:10], u[10:16])
}
