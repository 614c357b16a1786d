package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
)

func TestChangeLogDecoder_ParsesSequentialRecordsAsReplaces(t *testing.T) {
	dec := &ChangeLogDecoder{}

	msg, err := dec.Decode(Raw{
		DN:           "uid=alice,ou=people,dc=example,dc=com",
		ChangeType:   ChangeModify,
		ChangesBlob:  "cn: Alice Smith\nmail: alice@example.com\nmail: a.smith@example.com\n",
		ChangeNumber: 42,
	})
	require.NoError(t, err)

	op := msg.(OpMessage)
	require.Len(t, op.Mods, 2)
	assert.Equal(t, dirops.ModReplace, op.Mods[0].Op)
	assert.Equal(t, "cn", op.Mods[0].Attr)
	assert.Equal(t, []string{"Alice Smith"}, op.Mods[0].Values)
	assert.Equal(t, []string{"alice@example.com", "a.smith@example.com"}, op.Mods[1].Values)
	assert.EqualValues(t, 42, op.ChangeNumber)
}

func TestChangeLogDecoder_DerivesStableUUIDFromUniqueIDAttr(t *testing.T) {
	dec := &ChangeLogDecoder{UniqueIDAttr: "nsUniqueId"}

	raw := Raw{Attrs: dirops.Attrs{"nsUniqueId": {"abc123"}}}

	msg1, err := dec.Decode(raw)
	require.NoError(t, err)
	msg2, err := dec.Decode(raw)
	require.NoError(t, err)

	op1 := msg1.(OpMessage)
	op2 := msg2.(OpMessage)
	assert.Equal(t, op1.UUID, op2.UUID)
	assert.NotEqual(t, [16]byte{}, op1.UUID)
}

func TestChangeLogDecoder_DifferentNativeIDsYieldDifferentUUIDs(t *testing.T) {
	dec := &ChangeLogDecoder{UniqueIDAttr: "nsUniqueId"}

	msgA, err := dec.Decode(Raw{Attrs: dirops.Attrs{"nsUniqueId": {"a"}}})
	require.NoError(t, err)
	msgB, err := dec.Decode(Raw{Attrs: dirops.Attrs{"nsUniqueId": {"b"}}})
	require.NoError(t, err)

	assert.NotEqual(t, msgA.(OpMessage).UUID, msgB.(OpMessage).UUID)
}

func TestChangeLogDecoder_PrefersRawUUIDWhenSet(t *testing.T) {
	dec := &ChangeLogDecoder{UniqueIDAttr: "nsUniqueId"}

	want := [16]byte{1, 2, 3}
	msg, err := dec.Decode(Raw{UUID: want, Attrs: dirops.Attrs{"nsUniqueId": {"a"}}})
	require.NoError(t, err)

	assert.Equal(t, want, msg.(OpMessage).UUID)
}

func TestParseChangeNumber(t *testing.T) {
	n, err := ParseChangeNumber("  1024 ")
	require.NoError(t, err)
	assert.EqualValues(t, 1024, n)

	_, err = ParseChangeNumber("not-a-number")
	assert.Error(t, err)
}
