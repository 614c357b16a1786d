package fake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
)

func TestAdd_ThenFetchByDN(t *testing.T) {
	d := New()
	ctx := context.Background()

	err := d.Add(ctx, "cn=alice,dc=example,dc=com", dirops.Attrs{
		"cn": {"alice"},
	}, false)
	require.NoError(t, err)

	e, err := d.FetchByDN(ctx, "CN=Alice,DC=example,DC=com")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, e.Attrs["cn"])
}

func TestAdd_Duplicate_Errors(t *testing.T) {
	d := New()
	ctx := context.Background()

	require.NoError(t, d.Add(ctx, "cn=alice,dc=example,dc=com", dirops.Attrs{"cn": {"alice"}}, false))
	err := d.Add(ctx, "cn=alice,dc=example,dc=com", dirops.Attrs{"cn": {"alice"}}, false)
	assert.Error(t, err)
}

func TestModify_ReplaceAndDelete(t *testing.T) {
	d := New()
	ctx := context.Background()

	require.NoError(t, d.Add(ctx, "cn=alice,dc=example,dc=com", dirops.Attrs{
		"cn":   {"alice"},
		"mail": {"a@example.com"},
	}, false))

	err := d.Modify(ctx, "cn=alice,dc=example,dc=com", []dirops.Mod{
		{Op: dirops.ModReplace, Attr: "mail", Values: []string{"new@example.com"}},
		{Op: dirops.ModDelete, Attr: "cn"},
	}, true)
	require.NoError(t, err)

	e, err := d.FetchByDN(ctx, "cn=alice,dc=example,dc=com")
	require.NoError(t, err)
	assert.Equal(t, []string{"new@example.com"}, e.Attrs["mail"])
	assert.NotContains(t, e.Attrs, "cn")
	assert.Equal(t, 1, d.InternalWrites)
}

func TestDelete_NonLeaf_Rejected(t *testing.T) {
	d := New()
	ctx := context.Background()

	require.NoError(t, d.Add(ctx, "dc=example,dc=com", dirops.Attrs{"dc": {"example"}}, false))
	require.NoError(t, d.Add(ctx, "cn=alice,dc=example,dc=com", dirops.Attrs{"cn": {"alice"}}, false))

	err := d.Delete(ctx, "dc=example,dc=com")
	assert.Error(t, err)
}

func TestModRDN_MovesEntry(t *testing.T) {
	d := New()
	ctx := context.Background()

	require.NoError(t, d.Add(ctx, "cn=alice,dc=example,dc=com", dirops.Attrs{"cn": {"alice"}}, false))

	err := d.ModRDN(ctx, "cn=alice,dc=example,dc=com", "cn=alicia", "", true)
	require.NoError(t, err)

	_, err = d.FetchByDN(ctx, "cn=alice,dc=example,dc=com")
	assert.ErrorIs(t, err, dirops.ErrNotFound)

	e, err := d.FetchByDN(ctx, "cn=alicia,dc=example,dc=com")
	require.NoError(t, err)
	assert.Equal(t, "cn=alicia,dc=example,dc=com", e.DN)
}

func TestSearch_SubtreeScoped(t *testing.T) {
	d := New()
	ctx := context.Background()

	require.NoError(t, d.Add(ctx, "dc=example,dc=com", dirops.Attrs{"dc": {"example"}}, false))
	require.NoError(t, d.Add(ctx, "cn=alice,dc=example,dc=com", dirops.Attrs{"cn": {"alice"}}, false))
	require.NoError(t, d.Add(ctx, "cn=bob,dc=other,dc=com", dirops.Attrs{"cn": {"bob"}}, false))

	entries, err := d.Search(ctx, "dc=example,dc=com", "(objectClass=*)", 0, nil)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFetchByUUID_RoundTrip(t *testing.T) {
	d := New()

	var uuid [16]byte
	uuid[0] = 0xAB

	d.Seed(dirops.Entry{DN: "cn=alice,dc=example,dc=com", UUID: uuid, Attrs: dirops.Attrs{"cn": {"alice"}}})

	e, err := d.FetchByUUID(context.Background(), "dc=example,dc=com", uuid)
	require.NoError(t, err)
	assert.Equal(t, "cn=alice,dc=example,dc=com", e.DN)
}

func TestFetchByUUID_NotFound(t *testing.T) {
	d := New()

	_, err := d.FetchByUUID(context.Background(), "dc=example,dc=com", [16]byte{1})
	assert.ErrorIs(t, err, dirops.ErrNotFound)
}
