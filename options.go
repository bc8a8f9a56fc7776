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
	"runtime"

	"go.uber.org/zap"
)

// option provide an interface to do work on Map while it is being created.
type option[K comparable, V any] interface {
	apply(m *Map[K, V])
}

type hashOption[K comparable, V any] struct {
	hash func(key K) uint64
}

func (op hashOption[K, V]) apply(m *Map[K, V]) {
	m.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a Map[K,V].
// Equal keys must produce equal hashes. The quality of the hash function only
// affects performance: a poor or hostile hash function produces long probe
// sequences, which the map counters by growing early once it is half full.
func WithHash[K comparable, V any](hash func(key K) uint64) option[K, V] {
	return hashOption[K, V]{hash}
}

// Allocator specifies an interface for allocating and releasing memory used
// by a Map. The default allocator utilizes Go's builtin make() and allows the
// GC to reclaim memory.
//
// An allocator reports an allocation failure by returning a slice whose
// length differs from the requested length (nil is fine). The Map then
// returns ErrAllocation from the fallible API and leaves its contents
// untouched.
//
// If the allocator is manually managing memory and requires that tags, keys
// and values be freed then Map.Close must be called in order to ensure the
// Free methods are called.
type Allocator[K comparable, V any] interface {
	// AllocTags should return a slice equivalent to make([]uint64, n).
	AllocTags(n int) []uint64

	// AllocKeys should return a slice equivalent to make([]K, n).
	AllocKeys(n int) []K

	// AllocValues should return a slice equivalent to make([]V, n).
	AllocValues(n int) []V

	// FreeTags can optional release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by AllocTags.
	FreeTags(v []uint64)

	// FreeKeys can optional release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by AllocKeys.
	FreeKeys(v []K)

	// FreeValues can optional release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocValues.
	FreeValues(v []V)
}

type defaultAllocator[K comparable, V any] struct{}

func (defaultAllocator[K, V]) AllocTags(n int) []uint64 {
	return safeMake[uint64](n)
}

func (defaultAllocator[K, V]) AllocKeys(n int) []K {
	return safeMake[K](n)
}

func (defaultAllocator[K, V]) AllocValues(n int) []V {
	return safeMake[V](n)
}

func (defaultAllocator[K, V]) FreeTags(v []uint64) {
}

func (defaultAllocator[K, V]) FreeKeys(v []K) {
}

func (defaultAllocator[K, V]) FreeValues(v []V) {
}

// safeMake is make([]T, n) that returns nil instead of panicking when the
// runtime rejects the length (e.g. the byte size overflows). Running out of
// memory is fatal in Go and cannot be reported here.
func safeMake[T any](n int) (s []T) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(runtime.Error); !ok {
				panic(r)
			}
			s = nil
		}
	}()
	return make([]T, n)
}

type allocatorOption[K comparable, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(m *Map[K, V]) {
	m.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Map[K,V].
func WithAllocator[K comparable, V any](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}

type loggerOption[K comparable, V any] struct {
	logger *zap.Logger
}

func (op loggerOption[K, V]) apply(m *Map[K, V]) {
	m.logger = op.logger
}

// WithLogger is an option to specify the logger a Map[K,V] reports resizes
// and early growth to. The default is the global zap logger at the time the
// map is created.
func WithLogger[K comparable, V any](logger *zap.Logger) option[K, V] {
	return loggerOption[K, V]{logger}
}
