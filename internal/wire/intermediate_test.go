package wire

import (
	"testing"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeNewCookie(cookie []byte) []byte {
	pkt := ber.Encode(ber.ClassContext, ber.TypePrimitive, ber.Tag(IntermediateNewCookie), nil, "newcookie")
	pkt.Data.Write(cookie)
	pkt.ByteValue = cookie

	return pkt.Bytes()
}

func encodeRefresh(tag IntermediateKind, cookie []byte, refreshDone bool) []byte {
	pkt := ber.Encode(ber.ClassContext, ber.TypeConstructed, ber.Tag(tag), nil, "refresh")
	if cookie != nil {
		c := ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(cookie), "cookie")
		pkt.AppendChild(c)
	}

	pkt.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, refreshDone, "refreshDone"))

	return pkt.Bytes()
}

func encodeSyncIDSet(cookie []byte, refreshDeletes bool, uuids []uuid.UUID) []byte {
	pkt := ber.Encode(ber.ClassContext, ber.TypeConstructed, ber.Tag(IntermediateSyncIDSet), nil, "syncIdSet")

	c := ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(cookie), "cookie")
	pkt.AppendChild(c)
	pkt.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, refreshDeletes, "refreshDeletes"))

	set := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSet, nil, "syncUUIDs")
	for _, u := range uuids {
		b := u[:]
		set.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(b), "uuid"))
	}
	pkt.AppendChild(set)

	return pkt.Bytes()
}

func TestParseIntermediate_NewCookie(t *testing.T) {
	raw := encodeNewCookie([]byte("cookie-value"))

	out, err := ParseIntermediate(syncInfoOID, raw)
	require.NoError(t, err)
	assert.Equal(t, IntermediateNewCookie, out.Kind)
	assert.Equal(t, []byte("cookie-value"), out.Cookie)
}

func TestParseIntermediate_RefreshPresentWithDone(t *testing.T) {
	raw := encodeRefresh(IntermediateRefreshPresent, []byte("c1"), true)

	out, err := ParseIntermediate(syncInfoOID, raw)
	require.NoError(t, err)
	assert.Equal(t, IntermediateRefreshPresent, out.Kind)
	assert.True(t, out.RefreshDone)
	assert.Equal(t, []byte("c1"), out.Cookie)
}

func TestParseIntermediate_RefreshDeleteNoCookie(t *testing.T) {
	pkt := ber.Encode(ber.ClassContext, ber.TypeConstructed, ber.Tag(IntermediateRefreshDelete), nil, "refresh")
	raw := pkt.Bytes()

	out, err := ParseIntermediate(syncInfoOID, raw)
	require.NoError(t, err)
	assert.Equal(t, IntermediateRefreshDelete, out.Kind)
	assert.True(t, out.RefreshDone)
	assert.Nil(t, out.Cookie)
}

func TestParseIntermediate_SyncIDSet(t *testing.T) {
	u1 := uuid.New()
	u2 := uuid.New()

	raw := encodeSyncIDSet([]byte("c2"), true, []uuid.UUID{u1, u2})

	out, err := ParseIntermediate(syncInfoOID, raw)
	require.NoError(t, err)
	assert.Equal(t, IntermediateSyncIDSet, out.Kind)
	assert.True(t, out.RefreshDeletes)
	require.Len(t, out.UUIDs, 2)
	assert.Equal(t, [16]byte(u1), out.UUIDs[0])
	assert.Equal(t, [16]byte(u2), out.UUIDs[1])
}

func TestParseIntermediate_WrongOIDRejected(t *testing.T) {
	raw := encodeNewCookie([]byte("x"))

	_, err := ParseIntermediate("1.2.3.4", raw)
	assert.Error(t, err)
}
