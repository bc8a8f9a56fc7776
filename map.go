// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package robinhood is a Go implementation of an open-addressing hash map
// using Robin Hood hashing with backward-shift deletion. See also:
// https://cs.uwaterloo.ca/research/tr/1986/CS-86-14.pdf and
// https://programming.guide/robin-hood-hashing.html.
//
// # Robin Hood hashing
//
// Entries live in a single power-of-two sized array of buckets and collisions
// are resolved with linear probing. Every entry has an ideal bucket, given by
// its hash modulo the number of buckets, and a displacement: how far past the
// ideal bucket it actually sits. On insertion, an entry that has probed
// further than the occupant of a bucket takes that bucket and the occupant
// continues probing in its place ("stealing from the rich"). This keeps the
// variance of probe lengths low and gives the table an ordering invariant:
// within a run of full buckets, the displacement of a bucket is at most one
// more than the displacement of the bucket before it. A lookup can therefore
// stop as soon as it meets a bucket less displaced than its own probe count,
// without reaching an empty bucket.
//
// Deletion does not use tombstones. The entries following the deleted one
// are shifted back by one bucket until an empty bucket, or an entry already
// at its ideal bucket, is reached. The table is never polluted by deleted
// markers, so it never needs rehashing in place.
//
// # Layout
//
// The table is stored as three parallel slices: hash tags, keys and values.
// A tag is the 64-bit hash of the key, with 0 reserved to mark an empty
// bucket (a real hash of 0 is stored as 1). Checking occupancy is a single
// integer comparison, and comparing tags filters almost all unequal keys
// before the keys themselves are compared.
//
// # Capacity
//
// The maximum load factor is 10/11 (~90.9%). Capacity reports the logical
// capacity, the number of entries the map holds before it has to grow. The
// raw capacity, the number of buckets, is a power of two and at least 32
// once anything has been inserted.
//
// # Hash flooding
//
// A poor or hostile hash function produces long probe sequences. When an
// insertion probes 128 buckets or more, the map records it and the next
// insertion (or Reserve) doubles the table early, provided the table is at
// least half full. The half-full condition prevents an attacker from turning
// long probe sequences into unbounded memory growth.
//
// # Errors
//
// Every operation that can allocate comes in two forms. The Try form returns
// ErrAllocation or ErrCapacityOverflow and leaves the map unchanged. The
// plain form panics with the same error.
package robinhood

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Map is an unordered map from keys to values with Insert, Get, Remove, and
// All operations, implemented with Robin Hood hashing. By default, a
// Map[K,V] uses the same hash function as Go's builtin map[K]V with a random
// seed, though a different hash function can be specified using the WithHash
// option.
//
// A Map is NOT goroutine-safe. Concurrent readers are safe as long as no
// mutation is in flight.
type Map[K comparable, V any] struct {
	// The hash function for keys of type K.
	hash func(key K) uint64
	// The allocator to use for the tags, keys and values slices.
	allocator Allocator[K, V]
	logger    *zap.Logger
	table     table[K, V]
}

// New constructs a new Map with room for initialCapacity entries. If
// initialCapacity is 0 the map will start out with zero capacity, allocates
// nothing, and will grow on the first insert. The zero value for a Map is not
// usable. New panics if the initial table cannot be allocated; see TryNew.
func New[K comparable, V any](initialCapacity int, options ...option[K, V]) *Map[K, V] {
	m, err := TryNew[K, V](initialCapacity, options...)
	if err != nil {
		panic(err)
	}
	return m
}

// TryNew is like New but returns an error instead of panicking if the
// initial table cannot be allocated.
func TryNew[K comparable, V any](initialCapacity int, options ...option[K, V]) (*Map[K, V], error) {
	m := &Map[K, V]{
		allocator: defaultAllocator[K, V]{},
	}
	for _, op := range options {
		op.apply(m)
	}
	if m.hash == nil {
		m.hash = defaultHash[K]()
	}
	if m.logger == nil {
		m.logger = zap.L()
	}

	if initialCapacity != 0 {
		raw, err := rawCapacity(initialCapacity)
		if err != nil {
			return nil, err
		}
		if m.table, err = newTable(m.allocator, raw); err != nil {
			return nil, err
		}
	}
	m.checkInvariants()
	return m, nil
}

// Close closes the map, releasing any memory back to its configured
// allocator. It is unnecessary to close a map using the default allocator. It
// is invalid to use a Map after it has been closed, though Close itself is
// idempotent.
func (m *Map[K, V]) Close() {
	if m.allocator != nil {
		m.table.free(m.allocator)
	}
	m.allocator = nil
}

// Insert inserts an entry into the map, overwriting the value of an existing
// entry with the same key. It returns the previous value and whether there
// was one. Insert panics if the map needs to grow and cannot; see TryInsert.
func (m *Map[K, V]) Insert(key K, value V) (prev V, replaced bool) {
	prev, replaced, err := m.TryInsert(key, value)
	if err != nil {
		panic(err)
	}
	return prev, replaced
}

// TryInsert is like Insert but returns an error, leaving the map unchanged,
// if the map needs to grow and cannot.
func (m *Map[K, V]) TryInsert(key K, value V) (prev V, replaced bool, err error) {
	// Insertion always reserves room for one more entry first, even if the
	// key turns out to be present. This is also where early growth due to
	// long probe sequences happens.
	if err := m.tryReserve(1); err != nil {
		return prev, false, err
	}
	_, prev, replaced = m.table.insert(m.tagOf(key), key, value)
	m.checkInvariants()
	return prev, replaced, nil
}

// Upsert returns a pointer to the value for key, inserting the value
// returned by init first if key is not present. The pointer is valid until
// the next mutation of the map (Insert, Upsert, Remove, Retain, Drain, Clear,
// Reserve, ShrinkToFit): besides resizing, Robin Hood stealing and backward
// shifting move values between buckets. init must not use the map.
// Upsert panics if the map needs to grow and cannot; see TryUpsert.
func (m *Map[K, V]) Upsert(key K, init func() V) *V {
	v, err := m.TryUpsert(key, init)
	if err != nil {
		panic(err)
	}
	return v
}

// TryUpsert is like Upsert but returns an error, leaving the map unchanged,
// if the map needs to grow and cannot.
func (m *Map[K, V]) TryUpsert(key K, init func() V) (*V, error) {
	if err := m.tryReserve(1); err != nil {
		return nil, err
	}
	tag := m.tagOf(key)
	b, dist, res := m.table.search(tag, key)
	if res != searchFound {
		m.table.insertVacant(b, dist, res, tag, key, init())
		m.checkInvariants()
	}
	return b.value(), nil
}

// Get retrieves the value from the map for the specified key, return ok=false
// if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	b, _, res := m.table.search(m.tagOf(key), key)
	if res != searchFound {
		return value, false
	}
	return *b.value(), true
}

// GetPtr returns a pointer to the value for the specified key, or nil if the
// key is not present. The pointer is valid until the next mutation of the
// map; see Upsert.
func (m *Map[K, V]) GetPtr(key K) *V {
	b, _, res := m.table.search(m.tagOf(key), key)
	if res != searchFound {
		return nil
	}
	return b.value()
}

// Contains returns true if the key is present in the map.
func (m *Map[K, V]) Contains(key K) bool {
	_, _, res := m.table.search(m.tagOf(key), key)
	return res == searchFound
}

// Remove removes the entry corresponding to the specified key from the map
// and returns the stored key and value. It is a noop to remove a
// non-existent key.
func (m *Map[K, V]) Remove(key K) (k K, v V, ok bool) {
	b, _, res := m.table.search(m.tagOf(key), key)
	if res != searchFound {
		return k, v, false
	}
	k, v = m.table.remove(b)
	m.checkInvariants()
	return k, v, true
}

// Reserve makes room for at least additional more entries without growing.
// It may also grow the table early if probe sequences have become long; see
// the package documentation. Reserve panics if the map cannot grow; see
// TryReserve.
func (m *Map[K, V]) Reserve(additional int) {
	if err := m.TryReserve(additional); err != nil {
		panic(err)
	}
}

// TryReserve is like Reserve but returns an error, leaving the map
// unchanged, if the map cannot grow.
func (m *Map[K, V]) TryReserve(additional int) error {
	return m.tryReserve(additional)
}

// ShrinkToFit shrinks the table to the smallest capacity that holds the
// current entries. An empty map releases its table entirely. ShrinkToFit
// panics if the new table cannot be allocated; see TryShrinkToFit.
func (m *Map[K, V]) ShrinkToFit() {
	if err := m.TryShrinkToFit(); err != nil {
		panic(err)
	}
}

// TryShrinkToFit is like ShrinkToFit but returns an error, leaving the map
// unchanged, if the new table cannot be allocated.
func (m *Map[K, V]) TryShrinkToFit() error {
	return m.tryShrinkToFit()
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.table.size
}

// IsEmpty returns true if the map has no entries.
func (m *Map[K, V]) IsEmpty() bool {
	return m.table.size == 0
}

// Capacity returns the number of entries the map can hold before it has to
// grow.
func (m *Map[K, V]) Capacity() int {
	return logicalCapacity(m.table.rawCapacity())
}

// All calls yield sequentially for each key and value present in the map. If
// yield returns false, All stops the iteration. The map can be mutated
// during iteration, though there is no guarantee that the mutations will be
// visible to the iteration. All has the signature of a range-over-func
// iterator:
//
//	for k, v := range m.All {
//	  fmt.Printf("%v: %v\n", k, v)
//	}
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	// Snapshot the slices so that iteration remains valid if the map is
	// resized during iteration.
	tags, keys, values := m.table.tags, m.table.keys, m.table.values
	for i := range tags {
		if tags[i] != emptyTag {
			if !yield(keys[i], values[i]) {
				return
			}
		}
	}
}

// Keys calls yield sequentially for each key present in the map. See All.
func (m *Map[K, V]) Keys(yield func(key K) bool) {
	m.All(func(k K, _ V) bool {
		return yield(k)
	})
}

// Values calls yield sequentially for each value present in the map. See
// All.
func (m *Map[K, V]) Values(yield func(value V) bool) {
	m.All(func(_ K, v V) bool {
		return yield(v)
	})
}

// Drain calls yield sequentially for each key and value present in the map,
// removing them. The map is empty when Drain returns, even if yield returned
// false before every entry was visited. Drain keeps the map's capacity. The
// map must not be used by yield.
func (m *Map[K, V]) Drain(yield func(key K, value V) bool) {
	t := &m.table
	defer func() {
		t.clear()
		m.checkInvariants()
	}()
	for i := range t.tags {
		b := t.at(uintptr(i))
		if !b.full() {
			continue
		}
		// Buckets are emptied without shifting; the table is inconsistent
		// until the deferred clear.
		if !yield(b.take()) {
			return
		}
	}
}

// Retain removes every entry for which keep returns false. The buckets are
// visited once, in reverse order, starting just before the head bucket.
// Going backwards means the backward shift performed by a removal only ever
// moves entries that were already visited. keep must not use the map.
func (m *Map[K, V]) Retain(keep func(key K, value V) bool) {
	t := &m.table
	if t.size == 0 {
		return
	}
	left := t.size
	b := t.headBucket().prev()
	tail := b.idx
	for {
		if b.full() {
			left--
			if !keep(b.key(), *b.value()) {
				t.remove(b)
			}
		}
		b = b.prev()
		if b.idx == tail || left == 0 {
			break
		}
	}
	m.checkInvariants()
}

// Clear deletes all entries from the map resulting in an empty map. The
// capacity is retained.
func (m *Map[K, V]) Clear() {
	m.table.clear()
	m.checkInvariants()
}

// Clone returns a copy of the map using the same hash function, allocator and
// logger. Keys and values are copied with assignment. Clone panics if the
// copy cannot be allocated or the map has been closed; see TryClone.
func (m *Map[K, V]) Clone() *Map[K, V] {
	c, err := m.TryClone()
	if err != nil {
		panic(err)
	}
	return c
}

// TryClone is like Clone but returns an error instead of panicking. A closed
// map returns ErrClosed.
func (m *Map[K, V]) TryClone() (*Map[K, V], error) {
	if m.allocator == nil {
		return nil, errors.Wrap(ErrClosed, "clone")
	}
	c := &Map[K, V]{
		hash:      m.hash,
		allocator: m.allocator,
		logger:    m.logger,
	}
	nt, err := newTable(m.allocator, m.table.rawCapacity())
	if err != nil {
		return nil, err
	}
	copy(nt.tags, m.table.tags)
	copy(nt.keys, m.table.keys)
	copy(nt.values, m.table.values)
	nt.size = m.table.size
	nt.longProbe = m.table.longProbe
	c.table = nt
	c.checkInvariants()
	return c, nil
}

func (m *Map[K, V]) tagOf(key K) uint64 {
	return makeTag(m.hash(key))
}

func (m *Map[K, V]) checkInvariants() {
	if invariants {
		if err := m.table.validate(m.hash); err != nil {
			m.logger.Error("invariant failed", zap.Error(err))
			panic(errors.Wrapf(err, "invariant failed\n%s", m.table.debugString()))
		}
	}
}
