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
	"math"
	"math/bits"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// minRawCapacity is the smallest non-zero raw capacity of a table.
const minRawCapacity = 32

// rawCapacity returns the number of buckets needed to hold n entries without
// exceeding the maximum load factor of 10/11 (~90.9%): n*11/10 rounded up to
// a power of two, and at least minRawCapacity. Zero entries need no buckets.
func rawCapacity(n int) (int, error) {
	if n < 0 {
		return 0, errors.Wrapf(ErrCapacityOverflow, "negative capacity %d", n)
	}
	if n == 0 {
		return 0, nil
	}
	hi, lo := bits.Mul(uint(n), 11)
	if hi != 0 {
		return 0, errors.Wrapf(ErrCapacityOverflow, "capacity %d", n)
	}
	// Round up so that logicalCapacity(raw) >= n.
	raw := lo / 10
	if lo%10 != 0 {
		raw++
	}
	shift := bits.Len(raw - 1)
	if shift >= bits.UintSize-1 {
		return 0, errors.Wrapf(ErrCapacityOverflow, "capacity %d", n)
	}
	return max(int(1)<<shift, minRawCapacity), nil
}

// logicalCapacity returns the number of entries a table with the given raw
// capacity holds before it must grow: floor(raw*10/11).
func logicalCapacity(raw int) int {
	hi, lo := bits.Mul(uint(raw), 10)
	q, _ := bits.Div(hi, lo, 11)
	return int(q)
}

// tryReserve makes room for additional more entries. If the table is short
// of headroom it is rebuilt with enough buckets for Len()+additional.
// Otherwise, if an insertion observed a long probe sequence and the table is
// at least half full, the table doubles anyway. Requiring the table to be
// half full bounds the memory an attacker can make the map waste by forcing
// long probe sequences.
func (m *Map[K, V]) tryReserve(additional int) error {
	if additional < 0 {
		return errors.Wrapf(ErrCapacityOverflow, "negative reservation %d", additional)
	}
	t := &m.table
	remaining := logicalCapacity(t.rawCapacity()) - t.size
	if remaining < additional {
		if t.size > math.MaxInt-additional {
			return errors.Wrapf(ErrCapacityOverflow, "reserving %d with %d present", additional, t.size)
		}
		raw, err := rawCapacity(t.size + additional)
		if err != nil {
			return err
		}
		return m.resize(raw)
	}
	if t.longProbe && remaining <= t.size {
		raw := t.rawCapacity()
		if raw > math.MaxInt/2 {
			return errors.Wrapf(ErrCapacityOverflow, "doubling raw capacity %d", raw)
		}
		m.logger.Warn("long probe sequence detected, growing early",
			zap.Int("len", t.size), zap.Int("from", raw), zap.Int("to", 2*raw))
		return m.resize(2 * raw)
	}
	return nil
}

// tryShrinkToFit rebuilds the table with the smallest raw capacity that
// holds the current entries, if that differs from the current one.
func (m *Map[K, V]) tryShrinkToFit() error {
	raw, err := rawCapacity(m.table.size)
	if err != nil {
		return err
	}
	if raw == m.table.rawCapacity() {
		return nil
	}
	return m.resize(raw)
}

// resize replaces the table with a new one of the given raw capacity. The
// new table is allocated before anything else happens, so an allocation
// failure leaves the map as it was. Entries are moved in bucket order
// starting at the head bucket; when growing, each entry can then simply be
// placed at the first empty bucket at or after its ideal index. The old
// table is released only once every entry has been moved.
func (m *Map[K, V]) resize(newRawCapacity int) error {
	nt, err := newTable(m.allocator, newRawCapacity)
	if err != nil {
		m.logger.Debug("resize failed",
			zap.Int("from", m.table.rawCapacity()), zap.Int("to", newRawCapacity), zap.Error(err))
		return err
	}

	old := &m.table
	m.logger.Debug("resize",
		zap.Int("len", old.size), zap.Int("from", old.rawCapacity()), zap.Int("to", newRawCapacity))

	if old.size > 0 {
		grow := newRawCapacity >= old.rawCapacity()
		b := old.headBucket()
		for moved := 0; moved < old.size; b = b.next() {
			if !b.full() {
				continue
			}
			if grow {
				nt.insertOrdered(b.tag(), b.key(), *b.value())
			} else {
				nt.insertFresh(b.tag(), b.key(), *b.value())
			}
			moved++
		}
	}

	old.free(m.allocator)
	m.table = nt
	m.checkInvariants()
	return nil
}
