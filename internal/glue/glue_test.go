package glue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldapsyncd/ldapsyncd/internal/csn"
	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
	"github.com/ldapsyncd/ldapsyncd/internal/dirops/fake"
)

func newBuilder(dir dirops.Directory) *Builder {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	return &Builder{
		Dir:       dir,
		Suffix:    "dc=example,dc=com",
		StampAttr: "entryCSN",
		Gen:       &csn.Generator{SID: 1, Now: func() time.Time { return fixed }},
	}
}

func TestEnsureAncestors_CreatesMissingLevelsTopDown(t *testing.T) {
	dir := fake.New()
	dir.Seed(dirops.Entry{DN: "dc=example,dc=com", Attrs: dirops.Attrs{"objectClass": {"dcObject"}}})

	b := newBuilder(dir)

	err := b.EnsureAncestors(context.Background(), "uid=alice,ou=people,ou=active,dc=example,dc=com")
	require.NoError(t, err)

	for _, dn := range []string{"ou=active,dc=example,dc=com", "ou=people,ou=active,dc=example,dc=com"} {
		e, err := dir.FetchByDN(context.Background(), dn)
		require.NoError(t, err)
		assert.Contains(t, e.Attrs["objectClass"], "glue")
		assert.Equal(t, []string{"glue"}, e.Attrs["structuralObjectClass"])
	}
}

func TestEnsureAncestors_SkipsExistingLevels(t *testing.T) {
	dir := fake.New()
	dir.Seed(dirops.Entry{DN: "dc=example,dc=com"})
	dir.Seed(dirops.Entry{DN: "ou=people,dc=example,dc=com", Attrs: dirops.Attrs{"objectClass": {"organizationalUnit"}}})

	b := newBuilder(dir)

	err := b.EnsureAncestors(context.Background(), "uid=alice,ou=people,dc=example,dc=com")
	require.NoError(t, err)

	e, err := dir.FetchByDN(context.Background(), "ou=people,dc=example,dc=com")
	require.NoError(t, err)
	assert.NotContains(t, e.Attrs["objectClass"], "glue")
}

func TestEnsureAncestors_NeverBuildsAtOrAboveSuffix(t *testing.T) {
	dir := fake.New()
	dir.Seed(dirops.Entry{DN: "dc=example,dc=com"})

	b := newBuilder(dir)

	err := b.EnsureAncestors(context.Background(), "uid=alice,dc=example,dc=com")
	require.NoError(t, err)

	_, err = dir.FetchByDN(context.Background(), "dc=com")
	assert.Error(t, err)
}

func TestPromoteToGlue_ReplacesObjectClassAndStamp(t *testing.T) {
	dir := fake.New()
	dir.Seed(dirops.Entry{DN: "ou=people,dc=example,dc=com", Attrs: dirops.Attrs{"objectClass": {"organizationalUnit"}}})

	b := newBuilder(dir)

	err := b.PromoteToGlue(context.Background(), "ou=people,dc=example,dc=com")
	require.NoError(t, err)

	e, err := dir.FetchByDN(context.Background(), "ou=people,dc=example,dc=com")
	require.NoError(t, err)
	assert.Equal(t, []string{"top", "glue"}, e.Attrs["objectClass"])
	assert.Equal(t, []string{"glue"}, e.Attrs["structuralObjectClass"])
	assert.NotEmpty(t, e.Attrs["entryCSN"])
}

func TestPromoteToGlue_RepeatedCallsGetDistinctStamps(t *testing.T) {
	dir := fake.New()
	dir.Seed(dirops.Entry{DN: "ou=a,dc=example,dc=com"})
	dir.Seed(dirops.Entry{DN: "ou=b,dc=example,dc=com"})

	b := newBuilder(dir)

	require.NoError(t, b.PromoteToGlue(context.Background(), "ou=a,dc=example,dc=com"))
	require.NoError(t, b.PromoteToGlue(context.Background(), "ou=b,dc=example,dc=com"))

	a, _ := dir.FetchByDN(context.Background(), "ou=a,dc=example,dc=com")
	bEntry, _ := dir.FetchByDN(context.Background(), "ou=b,dc=example,dc=com")

	assert.NotEqual(t, a.Attrs["entryCSN"][0], bEntry.Attrs["entryCSN"][0])
}
