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
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/dolthub/maphash"
	"github.com/segmentio/fasthash/fnv1a"
	"github.com/twmb/murmur3"
	"github.com/zeebo/xxh3"
)

// defaultHash returns the runtime hash function for K with a random seed. It
// is the same function Go's builtin map[K]V uses.
func defaultHash[K comparable]() func(key K) uint64 {
	return maphash.NewHasher[K]().Hash
}

// XXHashString hashes a string key with xxHash64. Use it with WithHash for
// string keyed maps that need a stable, seedless hash.
func XXHashString(key string) uint64 {
	return xxhash.Sum64String(key)
}

// XXH3String hashes a string key with XXH3.
func XXH3String(key string) uint64 {
	return xxh3.HashString(key)
}

// FNV1aString hashes a string key with 64-bit FNV-1a. FNV-1a is fast on
// short keys but is trivially attacked; a map using it relies on early
// growth to keep probe sequences short under hostile input.
func FNV1aString(key string) uint64 {
	return fnv1a.HashString64(key)
}

// Murmur3Uint64 hashes an integer key with MurmurHash3 over its
// little-endian encoding.
func Murmur3Uint64(key uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return murmur3.Sum64(buf[:])
}
