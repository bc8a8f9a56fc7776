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

import "github.com/cockroachdb/errors"

// displacementThreshold is the probe distance at which an insertion marks
// the table as having a long probe sequence. With a good hash function the
// probability of reaching it at a 90% load factor is about 1.6e-11, so
// hitting it means the hash function is poor or is being attacked.
const displacementThreshold = 128

type searchResult uint8

const (
	// The table has zero raw capacity: the key is absent and there is no
	// bucket to insert into.
	searchEmptyTable searchResult = iota
	// The returned bucket holds the key.
	searchFound
	// The key is absent and the returned bucket is empty: insert directly.
	searchVacant
	// The key is absent and the returned bucket holds an entry that is less
	// displaced than the key would be. Inserting there requires stealing
	// the bucket and moving its occupant along.
	searchSteal
)

// search looks for key starting at the ideal bucket for tag. It returns the
// bucket holding key, or the bucket where key would be inserted together
// with the probe distance of that bucket from key's ideal index.
//
// Search stops early at a full bucket whose displacement is less than the
// number of probes taken: Robin Hood ordering would have placed key before
// that bucket had it been present.
func (t *table[K, V]) search(tag uint64, key K) (bucket[K, V], uintptr, searchResult) {
	if len(t.tags) == 0 {
		return bucket[K, V]{}, 0, searchEmptyTable
	}
	b := t.ideal(tag)
	for dist := uintptr(0); ; dist++ {
		if !b.full() {
			return b, dist, searchVacant
		}
		if b.displacement() < dist {
			return b, dist, searchSteal
		}
		if b.tag() == tag && b.key() == key {
			return b, dist, searchFound
		}
		if invariants && int(dist) > t.size {
			panic(errors.AssertionFailedf("probe distance %d exceeds size %d for %v\n%s",
				dist, t.size, key, t.debugString()))
		}
		b = b.next()
	}
}

// insert adds or overwrites the entry for key. The caller must have
// reserved room for one more entry. It returns the bucket holding the
// entry's value and the previous value if key was already present.
func (t *table[K, V]) insert(tag uint64, key K, value V) (b bucket[K, V], prev V, replaced bool) {
	b, dist, res := t.search(tag, key)
	switch res {
	case searchFound:
		prev, *b.value() = *b.value(), value
		return b, prev, true
	case searchEmptyTable:
		panic(errors.AssertionFailedf("insert into table with zero capacity"))
	}
	t.insertVacant(b, dist, res, tag, key, value)
	return b, prev, false
}

// insertVacant finishes an insertion at a bucket returned by search with
// searchVacant or searchSteal. The new entry ends up in b either way.
func (t *table[K, V]) insertVacant(
	b bucket[K, V], dist uintptr, res searchResult, tag uint64, key K, value V,
) {
	t.noteProbe(dist)
	if res == searchSteal {
		t.robinHood(b, b.displacement(), tag, key, value)
		return
	}
	b.put(tag, key, value)
}

func (t *table[K, V]) noteProbe(dist uintptr) {
	if dist >= displacementThreshold {
		t.longProbe = true
	}
}

// robinHood places an entry into the full bucket b, whose occupant has
// displacement disp, and carries the evicted occupant forward. Whenever the
// carried entry meets an entry that is less displaced than itself, they trade
// places and the newly evicted entry is carried instead. The loop ends at the
// first empty bucket.
func (t *table[K, V]) robinHood(b bucket[K, V], disp uintptr, tag uint64, key K, value V) {
	start := b.idx
	tag, key, value = b.replace(tag, key, value)
	for {
		disp++
		b = b.next()
		if invariants && b.idx == start {
			panic(errors.AssertionFailedf("robin hood insertion wrapped around\n%s", t.debugString()))
		}
		if !b.full() {
			b.put(tag, key, value)
			return
		}
		if d := b.displacement(); d < disp {
			disp = d
			tag, key, value = b.replace(tag, key, value)
		}
	}
}

// insertFresh inserts an entry that is known not to be in the table, using
// Robin Hood placement but skipping the key comparisons.
func (t *table[K, V]) insertFresh(tag uint64, key K, value V) {
	b := t.ideal(tag)
	for dist := uintptr(0); ; dist++ {
		if !b.full() {
			b.put(tag, key, value)
			return
		}
		if d := b.displacement(); d < dist {
			t.robinHood(b, d, tag, key, value)
			return
		}
		b = b.next()
	}
}

// insertOrdered places an entry known not to be in the table at the first
// empty bucket at or after its ideal index. It is only correct when entries
// arrive in the order of their ideal indexes, which holds while growing a
// table by walking the old table from its head bucket.
func (t *table[K, V]) insertOrdered(tag uint64, key K, value V) {
	b := t.ideal(tag)
	start := b.idx
	for b.full() {
		b = b.next()
		if invariants && b.idx == start {
			panic(errors.AssertionFailedf("ordered insertion wrapped around\n%s", t.debugString()))
		}
	}
	b.put(tag, key, value)
}

// remove empties the full bucket b and closes the gap with a backward shift:
// each following entry that is not at its ideal index moves back one bucket,
// until an empty bucket or an entry with displacement 0 is reached. No
// deletion markers are left behind.
func (t *table[K, V]) remove(b bucket[K, V]) (K, V) {
	key, value := b.take()
	gap := b
	for {
		n := gap.next()
		if !n.full() || n.displacement() == 0 {
			break
		}
		gap.shiftFrom(n)
		gap = n
	}
	return key, value
}
