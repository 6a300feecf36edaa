// Copyright 2025 Esteban Alvarez. All Rights Reserved.
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

// Package kv defines the flat key-value backing-store contract the labeled
// object graph is built on (spec.md section 2, "KV Backing Store"). The
// hypervisor, the LMDB/TiKV backends themselves, and the blob store on disk
// are all external collaborators; this package only describes the small
// interface the core depends on, plus two concrete adapters
// (internal/kv/memstore, internal/kv/redisstore).
package kv

import "errors"

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("kv: key not found")

// ErrKeyExists is returned by Add when the key is already reserved.
var ErrKeyExists = errors.New("kv: key already exists")

// ErrCASConflict is returned by CAS when the observed value did not match
// expected; Current carries what was actually stored so the caller can retry.
type ErrCASConflict struct {
	Current []byte
	Found   bool
}

func (e *ErrCASConflict) Error() string { return "kv: compare-and-swap conflict" }

// Store is the flat key -> value contract described in spec.md section 2.
// Implementations must make Get/Put/Add/CAS/Del safe for concurrent use.
type Store interface {
	// Get returns the current value for key, or ErrNotFound.
	Get(key []byte) ([]byte, error)
	// Put unconditionally writes value for key.
	Put(key []byte, value []byte) error
	// Add reserves key with value only if key is absent; returns
	// ErrKeyExists otherwise. Used by the object graph for UID reservation.
	Add(key []byte, value []byte) error
	// CAS sets key to newValue only if the current value equals expected
	// (a nil expected means "key must not currently exist"). On mismatch it
	// returns *ErrCASConflict carrying the observed value.
	CAS(key []byte, expected []byte, newValue []byte) error
	// Del removes key. Deleting an absent key is not an error.
	Del(key []byte) error
}

// Enumerable is an optional capability a Store backend may implement to
// support a privileged full-keyspace scan, used by the object graph's
// garbage collector (spec.md section 4.1's "ListUIDs"). Not every backend
// can offer this cheaply, so it is kept separate from Store rather than
// folded into the core interface.
type Enumerable interface {
	Keys() ([][]byte, error)
}
