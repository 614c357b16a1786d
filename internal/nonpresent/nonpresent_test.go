package nonpresent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldapsyncd/ldapsyncd/internal/csn"
	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
	"github.com/ldapsyncd/ldapsyncd/internal/dirops/fake"
	"github.com/ldapsyncd/ldapsyncd/internal/glue"
	"github.com/ldapsyncd/ldapsyncd/internal/presentset"
)

func uuidFor(b byte) [16]byte {
	var u [16]byte
	u[15] = b

	return u
}

func seed(dir *fake.Directory, dn string, uuid [16]byte, extra dirops.Attrs) {
	attrs := dirops.Attrs{"objectClass": {"top"}}
	for k, v := range extra {
		attrs[k] = v
	}

	dir.Seed(dirops.Entry{DN: dn, UUID: uuid, Attrs: attrs})
}

func newReconciler(dir *fake.Directory, ps *presentset.Set) *Reconciler {
	gen := &csn.Generator{SID: 1, Now: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }}
	b := &glue.Builder{Dir: dir, Suffix: "dc=example,dc=com", StampAttr: "entryCSN", Gen: gen}

	return &Reconciler{
		Dir:        dir,
		Glue:       b,
		PresentSet: ps,
		Base:       "dc=example,dc=com",
		Filter:     "(objectClass=*)",
		CSNAttr:    "entryCSN",
	}
}

func TestRun_RemovesAnnouncedUUIDFromPresentSet(t *testing.T) {
	dir := fake.New()
	seed(dir, "dc=example,dc=com", uuidFor(0), nil)
	seed(dir, "uid=alice,dc=example,dc=com", uuidFor(1), nil)

	ps := presentset.New()
	ps.Insert(uuidFor(0))
	ps.Insert(uuidFor(1))

	r := newReconciler(dir, ps)

	deleted, err := r.Run(context.Background(), nil, DeleteStamp{})
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
	assert.Equal(t, 0, ps.Len())

	_, err = dir.FetchByDN(context.Background(), "uid=alice,dc=example,dc=com")
	assert.NoError(t, err)
}

func TestRun_DeletesUnannouncedEntries(t *testing.T) {
	dir := fake.New()
	seed(dir, "dc=example,dc=com", uuidFor(0), nil)
	seed(dir, "uid=alice,dc=example,dc=com", uuidFor(1), nil)
	seed(dir, "uid=bob,dc=example,dc=com", uuidFor(2), nil)

	ps := presentset.New()
	ps.Insert(uuidFor(0))
	ps.Insert(uuidFor(1)) // alice was announced; bob was not

	r := newReconciler(dir, ps)

	deleted, err := r.Run(context.Background(), nil, DeleteStamp{Explicit: csn.Stamp("20260101000000.000000Z#000000#001#000000")})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = dir.FetchByDN(context.Background(), "uid=alice,dc=example,dc=com")
	assert.NoError(t, err)

	_, err = dir.FetchByDN(context.Background(), "uid=bob,dc=example,dc=com")
	assert.ErrorIs(t, err, dirops.ErrNotFound)
}

func TestRun_PromotesNonLeafUnannouncedEntryToGlue(t *testing.T) {
	dir := fake.New()
	seed(dir, "dc=example,dc=com", uuidFor(0), nil)
	seed(dir, "ou=people,dc=example,dc=com", uuidFor(1), nil)
	seed(dir, "uid=carol,ou=people,dc=example,dc=com", uuidFor(2), nil)

	ps := presentset.New()
	ps.Insert(uuidFor(0))
	ps.Insert(uuidFor(2)) // carol announced; ou=people was not, but still has a child

	r := newReconciler(dir, ps)

	deleted, err := r.Run(context.Background(), nil, DeleteStamp{Explicit: csn.Stamp("20260101000000.000000Z#000000#001#000000")})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	ou, err := dir.FetchByDN(context.Background(), "ou=people,dc=example,dc=com")
	require.NoError(t, err)
	assert.Contains(t, ou.Attrs["objectClass"], "glue")
	assert.Equal(t, []string{"glue"}, ou.Attrs["structuralObjectClass"])
}

func TestRun_ExcludesEntriesNewerThanHorizon(t *testing.T) {
	dir := fake.New()
	seed(dir, "dc=example,dc=com", uuidFor(0), nil)
	seed(dir, "uid=dave,dc=example,dc=com", uuidFor(1), dirops.Attrs{
		"entryCSN": {"20260601000000.000000Z#000000#001#000000"},
	})

	ps := presentset.New()
	ps.Insert(uuidFor(0))

	r := newReconciler(dir, ps)

	maxReceived := csn.Stamp("20260101000000.000000Z#000000#001#000000")

	deleted, err := r.Run(context.Background(), maxReceived, DeleteStamp{Explicit: maxReceived})
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	_, err = dir.FetchByDN(context.Background(), "uid=dave,dc=example,dc=com")
	assert.NoError(t, err)
}

func TestDeleteStamp_Resolve_PrefersExplicit(t *testing.T) {
	d := DeleteStamp{
		Explicit:  csn.Stamp("explicit"),
		Committed: csn.Vector{SIDs: []int32{1}, Stamps: []csn.Stamp{csn.Stamp("committed")}},
		LocalSID:  1,
	}
	assert.Equal(t, csn.Stamp("explicit"), d.Resolve())
}

func TestDeleteStamp_Resolve_FallsBackToLocalSIDComponent(t *testing.T) {
	d := DeleteStamp{
		Committed: csn.Vector{SIDs: []int32{1, 2}, Stamps: []csn.Stamp{csn.Stamp("one"), csn.Stamp("two")}},
		LocalSID:  2,
	}
	assert.Equal(t, csn.Stamp("two"), d.Resolve())
}

func TestDeleteStamp_Resolve_FallsBackToFirstComponent(t *testing.T) {
	d := DeleteStamp{
		Committed: csn.Vector{SIDs: []int32{5, 9}, Stamps: []csn.Stamp{csn.Stamp("five"), csn.Stamp("nine")}},
		LocalSID:  99,
	}
	assert.Equal(t, csn.Stamp("five"), d.Resolve())
}

func TestDeleteStamp_Resolve_NilWhenNothingAvailable(t *testing.T) {
	var d DeleteStamp
	assert.Nil(t, d.Resolve())
}
