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

package robinhood

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// emptyTag marks an empty bucket. Occupied buckets hold the (non-zero) hash
// tag of their key, so occupancy is a single integer comparison.
const emptyTag = 0

// makeTag converts the output of the hash function into a hash tag, remapping
// a real hash of 0 so that it cannot be confused with emptyTag.
func makeTag(h uint64) uint64 {
	if h == emptyTag {
		return 1
	}
	return h
}

// table is the storage block of a Map: three parallel slices indexed by
// bucket position. The raw capacity (len(tags)) is either 0, in which case
// nothing is allocated, or a power of two. It never changes in place; a
// resize builds a new table.
type table[K comparable, V any] struct {
	tags   []uint64
	keys   []K
	values []V
	// mask is rawCapacity-1 and is used to compute i%rawCapacity.
	mask uintptr
	// The number of full buckets.
	size int
	// longProbe is set when an insertion probed displacementThreshold or
	// more buckets. Map.tryReserve consults it to grow early.
	longProbe bool
}

// newTable allocates a table with the given raw capacity. A failure of any
// of the three allocations releases the others and returns ErrAllocation.
func newTable[K comparable, V any](a Allocator[K, V], rawCapacity int) (table[K, V], error) {
	if rawCapacity == 0 {
		return table[K, V]{}, nil
	}
	tags := a.AllocTags(rawCapacity)
	if len(tags) != rawCapacity {
		return table[K, V]{}, errors.Wrapf(ErrAllocation, "allocating %d tags", rawCapacity)
	}
	keys := a.AllocKeys(rawCapacity)
	if len(keys) != rawCapacity {
		a.FreeTags(tags)
		return table[K, V]{}, errors.Wrapf(ErrAllocation, "allocating %d keys", rawCapacity)
	}
	values := a.AllocValues(rawCapacity)
	if len(values) != rawCapacity {
		a.FreeTags(tags)
		a.FreeKeys(keys)
		return table[K, V]{}, errors.Wrapf(ErrAllocation, "allocating %d values", rawCapacity)
	}
	return table[K, V]{
		tags:   tags,
		keys:   keys,
		values: values,
		mask:   uintptr(rawCapacity - 1),
	}, nil
}

// free releases the slices of t to the allocator and leaves t empty.
func (t *table[K, V]) free(a Allocator[K, V]) {
	if len(t.tags) > 0 {
		a.FreeTags(t.tags)
		a.FreeKeys(t.keys)
		a.FreeValues(t.values)
	}
	*t = table[K, V]{}
}

func (t *table[K, V]) rawCapacity() int {
	return len(t.tags)
}

// clear empties every bucket, keeping the allocation.
func (t *table[K, V]) clear() {
	clear(t.tags)
	clear(t.keys)
	clear(t.values)
	t.size = 0
	t.longProbe = false
}

// headBucket returns the first full bucket with displacement 0, scanning
// forward from index 0. Every non-empty table has one: the first bucket of a
// run of full buckets always sits at its ideal index.
func (t *table[K, V]) headBucket() bucket[K, V] {
	b := t.at(0)
	for i := 0; i < len(t.tags); i++ {
		if b.full() && b.displacement() == 0 {
			return b
		}
		b = b.next()
	}
	return t.at(0)
}

func (t *table[K, V]) at(i uintptr) bucket[K, V] {
	return bucket[K, V]{t: t, idx: i & t.mask}
}

// ideal returns the bucket at the ideal index for tag.
func (t *table[K, V]) ideal(tag uint64) bucket[K, V] {
	return bucket[K, V]{t: t, idx: uintptr(tag) & t.mask}
}

// bucket is a cursor into a table. It owns no data. The index is always
// reduced modulo the raw capacity, so next and prev wrap around. A bucket
// must not be created for a table with zero raw capacity.
type bucket[K comparable, V any] struct {
	t   *table[K, V]
	idx uintptr
}

func (b bucket[K, V]) full() bool {
	return b.t.tags[b.idx] != emptyTag
}

func (b bucket[K, V]) tag() uint64 {
	return b.t.tags[b.idx]
}

func (b bucket[K, V]) key() K {
	return b.t.keys[b.idx]
}

func (b bucket[K, V]) value() *V {
	return &b.t.values[b.idx]
}

func (b bucket[K, V]) next() bucket[K, V] {
	b.idx = (b.idx + 1) & b.t.mask
	return b
}

func (b bucket[K, V]) prev() bucket[K, V] {
	b.idx = (b.idx - 1) & b.t.mask
	return b
}

// displacement returns how far a full bucket sits past its ideal index. The
// subtraction wraps, so the result is always in [0, rawCapacity).
func (b bucket[K, V]) displacement() uintptr {
	return (b.idx - uintptr(b.tag())) & b.t.mask
}

// put fills an empty bucket.
func (b bucket[K, V]) put(tag uint64, key K, value V) {
	b.t.tags[b.idx] = tag
	b.t.keys[b.idx] = key
	b.t.values[b.idx] = value
	b.t.size++
}

// take empties a full bucket, returning its contents.
func (b bucket[K, V]) take() (K, V) {
	key, value := b.t.keys[b.idx], b.t.values[b.idx]
	var zeroK K
	var zeroV V
	b.t.tags[b.idx] = emptyTag
	b.t.keys[b.idx] = zeroK
	b.t.values[b.idx] = zeroV
	b.t.size--
	return key, value
}

// replace swaps the contents of a full bucket with the supplied entry and
// returns the previous contents.
func (b bucket[K, V]) replace(tag uint64, key K, value V) (uint64, K, V) {
	t := b.t
	t.tags[b.idx], tag = tag, t.tags[b.idx]
	t.keys[b.idx], key = key, t.keys[b.idx]
	t.values[b.idx], value = value, t.values[b.idx]
	return tag, key, value
}

// shiftFrom moves the entry in the full bucket src into the empty bucket b,
// leaving src empty.
func (b bucket[K, V]) shiftFrom(src bucket[K, V]) {
	t := b.t
	t.tags[b.idx], t.tags[src.idx] = t.tags[src.idx], emptyTag
	t.keys[b.idx] = t.keys[src.idx]
	t.values[b.idx] = t.values[src.idx]
	var zeroK K
	var zeroV V
	t.keys[src.idx] = zeroK
	t.values[src.idx] = zeroV
}

// validate checks the structural invariants of t: the occupied count, that
// every tag belongs to its key, the Robin Hood ordering between neighboring
// buckets, and that every entry can be found by search.
func (t *table[K, V]) validate(hash func(key K) uint64) error {
	if len(t.tags) == 0 {
		if t.size != 0 {
			return errors.AssertionFailedf("empty table has size %d", t.size)
		}
		return nil
	}
	if len(t.tags)&(len(t.tags)-1) != 0 {
		return errors.AssertionFailedf("raw capacity %d is not a power of two", len(t.tags))
	}
	var used int
	for i := range t.tags {
		b := t.at(uintptr(i))
		if !b.full() {
			continue
		}
		used++
		if tag := makeTag(hash(b.key())); tag != b.tag() {
			return errors.AssertionFailedf("bucket %d: tag %016x does not match key %v (%016x)",
				i, b.tag(), b.key(), tag)
		}
		if n := b.next(); n.full() && n.displacement() > b.displacement()+1 {
			return errors.AssertionFailedf("bucket %d: displacement %d follows %d",
				n.idx, n.displacement(), b.displacement())
		}
		if found, _, res := t.search(b.tag(), b.key()); res != searchFound || found.idx != b.idx {
			return errors.AssertionFailedf("bucket %d: %v not found", i, b.key())
		}
	}
	if used != t.size {
		return errors.AssertionFailedf("found %d full buckets, but size is %d", used, t.size)
	}
	if c := logicalCapacity(len(t.tags)); t.size > c {
		return errors.AssertionFailedf("size %d exceeds capacity %d", t.size, c)
	}
	return nil
}

func (t *table[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  size=%d  long-probe=%t\n", len(t.tags), t.size, t.longProbe)
	for i := range t.tags {
		b := t.at(uintptr(i))
		if !b.full() {
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
			continue
		}
		fmt.Fprintf(&buf, "  %4d: %v [tag=%016x disp=%d]\n", i, b.key(), b.tag(), b.displacement())
	}
	return buf.String()
}
