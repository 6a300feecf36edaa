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

// Package memstore is an in-process kv.Store used for tests and for
// singlevm-style single-node deployments. It is grounded on the sync.Map +
// atomic bookkeeping style of internal/ratelimiter/core.Store.
package memstore

import (
	"bytes"
	"sync"

	"faasten/internal/kv"
)

// Store is an in-memory, concurrency-safe kv.Store.
type Store struct {
	mu   sync.Mutex
	data map[string][]byte
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, kv.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Store) Put(key []byte, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *Store) Add(key []byte, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[string(key)]; ok {
		return kv.ErrKeyExists
	}
	s.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *Store) CAS(key []byte, expected []byte, newValue []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.data[string(key)]
	if expected == nil {
		if ok {
			return &kv.ErrCASConflict{Current: current, Found: true}
		}
	} else {
		if !ok {
			return &kv.ErrCASConflict{Found: false}
		}
		if !bytes.Equal(current, expected) {
			return &kv.ErrCASConflict{Current: current, Found: true}
		}
	}
	s.data[string(key)] = append([]byte(nil), newValue...)
	return nil
}

func (s *Store) Del(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

// Keys returns a snapshot of all keys currently stored, satisfying
// kv.Enumerable for the privileged garbage-collection admin path
// (internal/objstore.Graph.ListUIDs/Sweep).
func (s *Store) Keys() ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, 0, len(s.data))
	for k := range s.data {
		out = append(out, []byte(k))
	}
	return out, nil
}
