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

var (
	// ErrCapacityOverflow is returned when the capacity needed to hold the
	// requested number of entries does not fit in an int.
	ErrCapacityOverflow = errors.New("robinhood: capacity overflow")

	// ErrAllocation is returned when the Allocator fails to provide the
	// memory for a new table.
	ErrAllocation = errors.New("robinhood: allocation failed")

	// ErrClosed is returned when cloning a map after Close.
	ErrClosed = errors.New("robinhood: map is closed")
)
