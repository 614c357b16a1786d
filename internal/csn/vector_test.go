package csn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(pairs ...any) Vector {
	var v Vector

	for i := 0; i < len(pairs); i += 2 {
		v.SIDs = append(v.SIDs, int32(pairs[i].(int)))
		v.Stamps = append(v.Stamps, Stamp(pairs[i+1].(string)))
	}

	return v
}

func TestCompare_Antisymmetric(t *testing.T) {
	cases := []struct{ a, b Vector }{
		{vec(1, "a"), vec(1, "b")},
		{vec(1, "a", 2, "b"), vec(1, "a")},
		{vec(1, "a"), vec(1, "a")},
		{vec(1, "a", 3, "c"), vec(1, "a", 2, "b", 3, "c")},
	}

	for _, tc := range cases {
		ordAB, _ := Compare(tc.a, tc.b)
		ordBA, _ := Compare(tc.b, tc.a)

		switch ordAB {
		case Less:
			assert.Equal(t, Greater, ordBA)
		case Greater:
			assert.Equal(t, Less, ordBA)
		case Equal:
			assert.Equal(t, Equal, ordBA)
		}
	}
}

func TestCompare_ShorterVectorIsLess(t *testing.T) {
	a := vec(1, "a")
	b := vec(1, "a", 2, "b")

	ord, witness := Compare(a, b)
	assert.Equal(t, Less, ord)
	assert.Equal(t, 1, witness)
}

func TestCompare_MissingSIDIsLess(t *testing.T) {
	a := vec(1, "a", 3, "c")
	b := vec(1, "a", 2, "b", 3, "c")

	ord, witness := Compare(a, b)
	assert.Equal(t, Less, ord)
	assert.Equal(t, 1, witness)
}

func TestCompare_SkipsNoSIDHoles(t *testing.T) {
	a := vec(1, "a")
	b := Vector{SIDs: []int32{NoSID, 1}, Stamps: []Stamp{"ignored", "a"}}

	ord, _ := Compare(a, b)
	assert.Equal(t, Equal, ord)
}

func TestMerge_FastPathElementwiseMax(t *testing.T) {
	dst := vec(1, "a", 2, "m")
	src := vec(1, "b", 2, "a")

	changed := Merge(&dst, src)
	require.True(t, changed)
	assert.Equal(t, Stamp("b"), dst.Stamps[0])
	assert.Equal(t, Stamp("m"), dst.Stamps[1])
}

func TestMerge_SlowPathUnion(t *testing.T) {
	dst := vec(1, "a", 2, "c")
	src := vec(1, "b", 3, "z")

	changed := Merge(&dst, src)
	require.True(t, changed)

	assert.Equal(t, []int32{1, 2, 3}, dst.SIDs)
	assert.Equal(t, Stamp("b"), dst.Stamps[0])
	assert.Equal(t, Stamp("c"), dst.Stamps[1])
	assert.Equal(t, Stamp("z"), dst.Stamps[2])
}

func TestMerge_Idempotent(t *testing.T) {
	a := vec(1, "a", 2, "c")
	b := vec(1, "b", 3, "z")

	m1 := a.Clone()
	Merge(&m1, b)

	m2 := m1.Clone()
	Merge(&m2, b)

	assert.Equal(t, m1.SIDs, m2.SIDs)
	for i := range m1.Stamps {
		assert.Equal(t, m1.Stamps[i], m2.Stamps[i])
	}
}

func TestMerge_Commutative(t *testing.T) {
	a := vec(1, "a", 2, "c")
	b := vec(1, "b", 3, "z")

	ab := a.Clone()
	Merge(&ab, b)

	ba := b.Clone()
	Merge(&ba, a)

	assert.Equal(t, ab.SIDs, ba.SIDs)
	for i := range ab.Stamps {
		assert.Equal(t, ab.Stamps[i], ba.Stamps[i])
	}
}

func TestCheckAge_OK(t *testing.T) {
	v := vec(1, "20240101000000.000005Z#1")

	res := CheckAge(v, 1, Stamp("20240101000000.000010Z#1"))
	assert.Equal(t, AgeOK, res.Kind)
	assert.Equal(t, 0, res.Slot)
}

func TestCheckAge_TooOld(t *testing.T) {
	v := vec(1, "20240101000000.000010Z#1")

	res := CheckAge(v, 1, Stamp("20240101000000.000005Z#1"))
	assert.Equal(t, AgeTooOld, res.Kind)
}

func TestCheckAge_NewSIDInsertionSlot(t *testing.T) {
	v := vec(1, "a", 3, "c")

	res := CheckAge(v, 2, Stamp("b"))
	assert.Equal(t, AgeNewSID, res.Kind)
	assert.Equal(t, 1, res.Slot)
}

func TestCheckAge_NewSIDAtEnd(t *testing.T) {
	v := vec(1, "a")

	res := CheckAge(v, 5, Stamp("z"))
	assert.Equal(t, AgeNewSID, res.Kind)
	assert.Equal(t, 1, res.Slot)
}

func TestInsertAt_PreservesOrder(t *testing.T) {
	v := vec(1, "a", 3, "c")
	v.InsertAt(1, 2, Stamp("b"))

	assert.Equal(t, []int32{1, 2, 3}, v.SIDs)
	assert.Equal(t, []Stamp{"a", "b", "c"}, v.Stamps)
}

func TestS4_MultiMasterMergeScenario(t *testing.T) {
	//: local [sid=1:A', sid=2:C] with A'<A merges with
	// received [sid=1:A, sid=3:B] to [sid=1:A, sid=2:C, sid=3:B].
	aPrime := "20240101000000.000001Z#000000#001#000000"
	a := "20240101000000.000002Z#000000#001#000000"
	local := vec(1, aPrime, 2, "C")
	received := vec(1, a, 3, "B")

	changed := Merge(&local, received)
	require.True(t, changed)

	assert.Equal(t, []int32{1, 2, 3}, local.SIDs)
	assert.Equal(t, Stamp(a), local.Stamps[0])
	assert.Equal(t, Stamp("C"), local.Stamps[1])
	assert.Equal(t, Stamp("B"), local.Stamps[2])
}
