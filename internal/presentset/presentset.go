// Package presentset implements the Present Set: a set of
// 16-byte UUIDs seen during the present phase of a refresh, used for
// non-present (delete) reconciliation. It is split into a 65,536-bucket
// prefix table keyed by the first two bytes of the UUID and a map of the
// remaining 14 bytes per bucket, so that insert/find/delete stay close to
// O(1) even at the 10^7-entry scale, and a full scan
// during non-present reconciliation only visits non-empty buckets.
package presentset

import "sync"

type suffix [14]byte

// bucket holds the suffixes sharing a UUID prefix, guarded by its own
// mutex so concurrent inserts from different buckets never contend.
type bucket struct {
	mu sync.Mutex
	vals map[suffix]struct{}
}

// Set is a Present Set for a single refresh cycle. The zero value is an
// empty set; New returns one.
type Set struct {
	buckets [65536]*bucket
	count int64
	countMu sync.Mutex
}

// New returns an empty Present Set.
func New() *Set {
	return &Set{}
}

func split(uuid [16]byte) (prefix uint16, suf suffix) {
	prefix = uint16(uuid[0])<<8 | uint16(uuid[1])
	copy(suf[:], uuid[2:])

	return prefix, suf
}

func (s *Set) bucketFor(prefix uint16) *bucket {
	b := s.buckets[prefix]
	if b != nil {
		return b
	}

	s.countMu.Lock()
	defer s.countMu.Unlock()

	if s.buckets[prefix] == nil {
		s.buckets[prefix] = &bucket{vals: make(map[suffix]struct{})}
	}

	return s.buckets[prefix]
}

// Insert adds uuid to the set. It returns false if uuid was already
// present.
func (s *Set) Insert(uuid [16]byte) bool {
	prefix, suf := split(uuid)
	b := s.bucketFor(prefix)

	b.mu.Lock()
	_, existed := b.vals[suf]
	b.vals[suf] = struct{}{}
	b.mu.Unlock()

	if !existed {
		s.countMu.Lock()
		s.count++
		s.countMu.Unlock()
	}

	return !existed
}

// Find reports whether uuid is a member of the set.
func (s *Set) Find(uuid [16]byte) bool {
	prefix, suf := split(uuid)

	b := s.buckets[prefix]
	if b == nil {
		return false
	}

	b.mu.Lock()
	_, ok := b.vals[suf]
	b.mu.Unlock()

	return ok
}

// Delete removes uuid from the set, if present.
func (s *Set) Delete(uuid [16]byte) {
	prefix, suf := split(uuid)

	b := s.buckets[prefix]
	if b == nil {
		return
	}

	b.mu.Lock()
	_, existed := b.vals[suf]
	delete(b.vals, suf)
	b.mu.Unlock()

	if existed {
		s.countMu.Lock()
		s.count--
		s.countMu.Unlock()
	}
}

// Len reports the current population.
func (s *Set) Len() int {
	s.countMu.Lock()
	defer s.countMu.Unlock()

	return int(s.count)
}

// FreeAll destroys the set's contents and reports the population at the
// time of destruction.
func (s *Set) FreeAll() int {
	s.countMu.Lock()
	defer s.countMu.Unlock()

	count := int(s.count)

	for i := range s.buckets {
		s.buckets[i] = nil
	}

	s.count = 0

	return count
}

// Each calls fn for every UUID currently in the set, in no particular
// order. Used by non-present reconciliation to walk everything NOT
// announced during a refresh's present phase. fn must not call back into
// s; Each holds each bucket's lock only for the duration of the snapshot
// copy, not for the full iteration.
func (s *Set) Each(fn func(uuid [16]byte)) {
	for prefix, b := range s.buckets {
		if b == nil {
			continue
		}

		b.mu.Lock()
		suffixes := make([]suffix, 0, len(b.vals))
		for suf := range b.vals {
			suffixes = append(suffixes, suf)
		}
		b.mu.Unlock()

		for _, suf := range suffixes {
			var uuid [16]byte
			uuid[0] = byte(prefix >> 8)
			uuid[1] = byte(prefix)
			copy(uuid[2:], suf[:])
			fn(uuid)
		}
	}
}
