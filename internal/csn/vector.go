package csn

import "sort"

// Vector is a sync cookie's ctxcsn[]/sids[] pair: change stamps indexed
// implicitly by position, with a parallel serverID vector. Both slices are
// kept sorted by SIDs ascending; each serverID appears at most once, except
// that NoSID holes may repeat and are skipped by every operation here.
type Vector struct {
	SIDs []int32
	Stamps []Stamp
}

// Len returns the number of (sid, stamp) pairs, including any NoSID holes.
func (v Vector) Len() int {
	return len(v.SIDs)
}

// Clone returns a deep, independent copy of v.
func (v Vector) Clone() Vector {
	out := Vector{
		SIDs: append([]int32(nil), v.SIDs...),
		Stamps: make([]Stamp, len(v.Stamps)),
	}

	for i, s := range v.Stamps {
		out.Stamps[i] = s.Clone()
	}

	return out
}

// indexOf returns the position of sid in v (skipping NoSID holes), or -1.
func (v Vector) indexOf(sid int32) int {
	if sid == NoSID {
		return -1
	}

	for i, s := range v.SIDs {
		if s == sid {
			return i
		}
	}

	return -1
}

// Get returns the stamp for sid and whether it is present.
func (v Vector) Get(sid int32) (Stamp, bool) {
	idx := v.indexOf(sid)
	if idx < 0 {
		return nil, false
	}

	return v.Stamps[idx], true
}

// Ordering is the result of Compare.
type Ordering int

const (
	Less Ordering = iota
	Equal
	Greater
)

// Compare orders a against b, returning the ordering and the index of
// the first position that decided it (or -1 when none did).
//
// - If a has fewer entries than b (NoSID holes not counted): returns Less
// with witnessIndex = first position where the SIDs diverge.
// - Else, for each (sid, csn) in b (skipping NoSID holes), finds sid in a:
// - missing in a: returns Less, witnessIndex = position in b;
// - present: compares stamps lexicographically; a strictly smaller
// returns Less at that position; a strictly greater records Greater
// and continues;
// - if every position is equal or greater, returns Greater when some
// stamp of a was greater or a holds more entries than b, else Equal.
func Compare(a, b Vector) (Ordering, int) {
	aLen, bLen := 0, 0

	for _, sid := range a.SIDs {
		if sid != NoSID {
			aLen++
		}
	}

	for _, sid := range b.SIDs {
		if sid != NoSID {
			bLen++
		}
	}

	if aLen < bLen {
		return Less, firstDivergence(a, b)
	}

	sawGreater := false

	for i, sid := range b.SIDs {
		if sid == NoSID {
			continue
		}

		aStamp, ok := a.Get(sid)
		if !ok {
			return Less, i
		}

		switch aStamp.Compare(b.Stamps[i]) {
		case -1:
			return Less, i
		case 1:
			sawGreater = true
		}
	}

	if sawGreater || aLen > bLen {
		return Greater, -1
	}

	return Equal, -1
}

// firstDivergence returns the first index where a.SIDs and b.SIDs differ,
// or the length of the shorter vector if one is a prefix of the other.
func firstDivergence(a, b Vector) int {
	n := a.Len()
	if b.Len() < n {
		n = b.Len()
	}

	for i := range n {
		if a.SIDs[i] != b.SIDs[i] {
			return i
		}
	}

	return n
}

// Merge folds src into dst, mutating dst in place, and reports whether
// anything changed.
//
// - Fast path: if SIDs coincide element-wise, adopts the element-wise
// maximum stamp.
// - Slow path: produces a new vector by ordered union over SIDs, taking
// the max stamp per sid, skipping NoSID holes.
func Merge(dst *Vector, src Vector) (changed bool) {
	if sameSIDs(dst.SIDs, src.SIDs) {
		for i := range dst.Stamps {
			if src.Stamps[i].Compare(dst.Stamps[i]) > 0 {
				dst.Stamps[i] = src.Stamps[i].Clone()
				changed = true
			}
		}

		return changed
	}

	merged, changed := unionMerge(*dst, src)
	*dst = merged

	return changed
}

func sameSIDs(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// unionMerge computes the ordered union of dst and src over SIDs (skipping
// NoSID holes), taking the max stamp per sid.
func unionMerge(dst, src Vector) (Vector, bool) {
	sidSet := make(map[int32]Stamp, dst.Len()+src.Len())

	changed := false

	for i, sid := range dst.SIDs {
		if sid == NoSID {
			continue
		}

		sidSet[sid] = dst.Stamps[i]
	}

	for i, sid := range src.SIDs {
		if sid == NoSID {
			continue
		}

		cur, ok := sidSet[sid]
		if !ok || src.Stamps[i].Compare(cur) > 0 {
			sidSet[sid] = src.Stamps[i]
			changed = true
		}
	}

	sids := make([]int32, 0, len(sidSet))
	for sid := range sidSet {
		sids = append(sids, sid)
	}

	sort.Slice(sids, func(i, j int) bool { return sids[i] < sids[j] })

	stamps := make([]Stamp, len(sids))
	for i, sid := range sids {
		stamps[i] = sidSet[sid].Clone()
	}

	return Vector{SIDs: sids, Stamps: stamps}, changed
}

// AgeKind classifies the result of CheckAge.
type AgeKind int

const (
	AgeOK AgeKind = iota
	AgeTooOld
	AgeNewSID
)

// AgeResult is the outcome of CheckAge.
type AgeResult struct {
	Kind AgeKind
	Slot int // insertion/overwrite slot index
}

// CheckAge scans v's SIDs ascending, stopping at the first sid' >= sid.
// If sid' differs, the sid is new (insertion slot = stop position).
// Else if the vector's stamp at that slot is >= stamp, the incoming
// stamp is too old. Otherwise it is ok to apply, overwriting that slot.
func CheckAge(v Vector, sid int32, stamp Stamp) AgeResult {
	i := 0
	for ; i < len(v.SIDs); i++ {
		if v.SIDs[i] >= sid {
			break
		}
	}

	if i >= len(v.SIDs) || v.SIDs[i] != sid {
		return AgeResult{Kind: AgeNewSID, Slot: i}
	}

	if v.Stamps[i].Compare(stamp) >= 0 {
		return AgeResult{Kind: AgeTooOld, Slot: i}
	}

	return AgeResult{Kind: AgeOK, Slot: i}
}

// InsertAt inserts (sid, stamp) into v at slot, shifting later elements
// right. Used when CheckAge (or PreCommit) reports AgeNewSID.
func (v *Vector) InsertAt(slot int, sid int32, stamp Stamp) {
	v.SIDs = append(v.SIDs, 0)
	copy(v.SIDs[slot+1:], v.SIDs[slot:])
	v.SIDs[slot] = sid

	v.Stamps = append(v.Stamps, nil)
	copy(v.Stamps[slot+1:], v.Stamps[slot:])
	v.Stamps[slot] = stamp
}

// SetAt overwrites the stamp at an existing slot.
func (v *Vector) SetAt(slot int, stamp Stamp) {
	v.Stamps[slot] = stamp
}
