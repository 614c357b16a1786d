package presentset

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randUUID(t *testing.T) [16]byte {
	t.Helper()

	var u [16]byte
	_, err := rand.Read(u[:])
	require.NoError(t, err)

	return u
}

func TestInsert_ReturnsFalseOnDuplicate(t *testing.T) {
	s := New()
	u := randUUID(t)

	assert.True(t, s.Insert(u))
	assert.False(t, s.Insert(u))
	assert.Equal(t, 1, s.Len())
}

func TestFind_ReflectsInsertAndDelete(t *testing.T) {
	s := New()
	u := randUUID(t)

	assert.False(t, s.Find(u))

	s.Insert(u)
	assert.True(t, s.Find(u))

	s.Delete(u)
	assert.False(t, s.Find(u))
	assert.Equal(t, 0, s.Len())
}

func TestDelete_Missing_NoOp(t *testing.T) {
	s := New()
	u := randUUID(t)

	s.Delete(u)
	assert.Equal(t, 0, s.Len())
}

func TestFreeAll_ReportsPopulationAndClears(t *testing.T) {
	s := New()

	for range 100 {
		s.Insert(randUUID(t))
	}

	count := s.FreeAll()
	assert.Equal(t, 100, count)
	assert.Equal(t, 0, s.Len())
}

func TestEach_VisitsAllMembers(t *testing.T) {
	s := New()

	want := make(map[[16]byte]struct{})
	for range 50 {
		u := randUUID(t)
		want[u] = struct{}{}
		s.Insert(u)
	}

	got := make(map[[16]byte]struct{})
	s.Each(func(u [16]byte) { got[u] = struct{}{} })

	assert.Equal(t, want, got)
}

func TestSharedPrefixUUIDsAreDistinguished(t *testing.T) {
	s := New()

	var a, b [16]byte
	a[0], a[1] = 0x01, 0x02
	b[0], b[1] = 0x01, 0x02
	a[15] = 0x00
	b[15] = 0x01

	s.Insert(a)
	assert.True(t, s.Find(a))
	assert.False(t, s.Find(b))
}
