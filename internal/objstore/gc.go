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

package objstore

import (
	"encoding/binary"

	"faasten/internal/kv"
	"faasten/internal/label"
)

// ListUIDs enumerates every UID currently reserved in the backing store.
// It requires a kv.Enumerable-capable backend and is meant for the
// privileged garbage-collection admin path, not the hot request path
// (spec.md section 4.1's NEW GC supplement, "ListUIDs").
func (g *Graph) ListUIDs() ([]UID, error) {
	en, ok := g.store.(kv.Enumerable)
	if !ok {
		return nil, ErrNotEnumerable
	}
	keys, err := en.Keys()
	if err != nil {
		return nil, err
	}
	uids := make([]UID, 0, len(keys))
	for _, k := range keys {
		if len(k) != 8 {
			continue
		}
		uids = append(uids, UID(binary.BigEndian.Uint64(k)))
	}
	return uids, nil
}

// Sweep runs a privileged mark-and-sweep pass over the graph and returns
// every UID unreachable from RootUID, i.e. safe to delete (spec.md section
// 4.1's NEW GC supplement). clearance bounds what the collector may read
// while walking facets: a facet whose label does not flow to clearance is
// marked reachable but not traversed further, the conservative "never
// collected" resolution recorded for that Open Question.
func (g *Graph) Sweep(clearance label.Buckle) ([]UID, error) {
	all, err := g.ListUIDs()
	if err != nil {
		return nil, err
	}
	reachable := make(map[UID]bool)
	g.mark(RootUID, KindDirectory, clearance, reachable)

	var garbage []UID
	for _, uid := range all {
		if !reachable[uid] {
			garbage = append(garbage, uid)
		}
	}
	return garbage, nil
}

// mark walks the object graph depth-first from uid, recording every UID it
// visits in seen. Directories recurse into their entries by declared Kind;
// faceted directories recurse into each facet's directory (unless the
// facet's label is unreadable under clearance); redirect gates recurse
// into their next hop. Files, services, and blobs are leaves.
func (g *Graph) mark(uid UID, kind Kind, clearance label.Buckle, seen map[UID]bool) {
	if seen[uid] {
		return
	}
	seen[uid] = true
	switch kind {
	case KindDirectory:
		dir, err := g.GetDirectory(uid)
		if err != nil || !dir.Label.FlowsTo(clearance) {
			return
		}
		for _, entry := range dir.Payload.Entries {
			g.mark(entry.UID, entry.Kind, clearance, seen)
		}
	case KindFacetedDirectory:
		fd, err := g.GetFacetedDirectory(uid)
		if err != nil {
			return
		}
		for _, facet := range fd.Facets {
			if !facet.Label.FlowsTo(clearance) {
				seen[facet.Dir] = true
				continue
			}
			g.mark(facet.Dir, KindDirectory, clearance, seen)
		}
	case KindGate:
		gate, err := g.GetGate(uid)
		if err != nil || !gate.Label.FlowsTo(clearance) {
			return
		}
		if gate.Payload.Kind == GateRedirect {
			g.mark(gate.Payload.NextGate, KindGate, clearance, seen)
		}
	}
}
