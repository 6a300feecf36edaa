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
	"encoding/json"
	"errors"

	"faasten/internal/kv"
	"faasten/internal/label"
)

// Link adds name -> entry to the directory at dirUID. It is a CAS loop
// (spec.md section 4.1): on optimistic conflict it re-reads and retries.
// Returns ErrLinkExists if name is already present, ErrCannotWrite if the
// task's current label cannot flow into the directory's label.
func (g *Graph) Link(t *TaskState, dirUID UID, name string, entry DirEntry) error {
	for {
		cur, err := getLabeled[Directory](g.store, dirUID)
		if err != nil {
			return err
		}
		if err := t.Unlabel(cur.Label); err != nil {
			return err
		}
		if !t.CanWrite(cur.Label) {
			return ErrCannotWrite
		}
		if _, exists := cur.Payload.Entries[name]; exists {
			return ErrLinkExists
		}
		next := Labeled[Directory]{Label: cur.Label, Payload: Directory{Entries: cloneEntries(cur.Payload.Entries)}}
		next.Payload.Entries[name] = entry
		if err := casLabeled(g.store, dirUID, cur, next); err != nil {
			var conflict *kv.ErrCASConflict
			if errors.As(err, &conflict) {
				continue
			}
			return err
		}
		return nil
	}
}

// Unlink removes name from the directory at dirUID. Returns
// ErrUnlinkNotFound if absent.
func (g *Graph) Unlink(t *TaskState, dirUID UID, name string) error {
	for {
		cur, err := getLabeled[Directory](g.store, dirUID)
		if err != nil {
			return err
		}
		if err := t.Unlabel(cur.Label); err != nil {
			return err
		}
		if !t.CanWrite(cur.Label) {
			return ErrCannotWrite
		}
		if _, exists := cur.Payload.Entries[name]; !exists {
			return ErrUnlinkNotFound
		}
		next := Labeled[Directory]{Label: cur.Label, Payload: Directory{Entries: cloneEntries(cur.Payload.Entries)}}
		delete(next.Payload.Entries, name)
		if err := casLabeled(g.store, dirUID, cur, next); err != nil {
			var conflict *kv.ErrCASConflict
			if errors.As(err, &conflict) {
				continue
			}
			return err
		}
		return nil
	}
}

// List returns the names in the directory at dirUID, tainting t's current
// label with the directory's label first.
func (g *Graph) List(t *TaskState, dirUID UID) ([]string, error) {
	cur, err := getLabeled[Directory](g.store, dirUID)
	if err != nil {
		return nil, err
	}
	if err := t.Unlabel(cur.Label); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cur.Payload.Entries))
	for name := range cur.Payload.Entries {
		names = append(names, name)
	}
	return names, nil
}

// WriteFile overwrites the content of the file at fileUID, enforcing
// current_label ⊑ label(file) with privilege (spec.md's write guard).
func (g *Graph) WriteFile(t *TaskState, fileUID UID, data []byte) error {
	for {
		cur, err := getLabeled[File](g.store, fileUID)
		if err != nil {
			return err
		}
		if !t.CanWrite(cur.Label) {
			return ErrCannotWrite
		}
		next := Labeled[File]{Label: cur.Label, Payload: File{Data: append([]byte(nil), data...)}}
		if err := casLabeled(g.store, fileUID, cur, next); err != nil {
			var conflict *kv.ErrCASConflict
			if errors.As(err, &conflict) {
				continue
			}
			return err
		}
		return nil
	}
}

// ReadFile taints t with the file's label and returns its bytes.
func (g *Graph) ReadFile(t *TaskState, fileUID UID) ([]byte, error) {
	cur, err := getLabeled[File](g.store, fileUID)
	if err != nil {
		return nil, err
	}
	if err := t.Unlabel(cur.Label); err != nil {
		return nil, err
	}
	return cur.Payload.Data, nil
}

// OpenFacet returns the directory materializing facet within the faceted
// directory at fdUID, allocating it lazily via CAS on first open (spec.md
// section 4.1: "the facet is created lazily on first open via CAS").
// Opening taints t's current label with facet itself, matching the
// Glossary's "reading a facet raises the reader's label to that facet".
func (g *Graph) OpenFacet(t *TaskState, fdUID UID, facet label.Buckle) (UID, error) {
	if err := t.Unlabel(facet); err != nil {
		return 0, err
	}
	for {
		raw, err := g.store.Get(fdUID.Bytes())
		if err != nil {
			return 0, err
		}
		var fd FacetedDirectory
		if err := json.Unmarshal(raw, &fd); err != nil {
			return 0, err
		}
		for _, f := range fd.Facets {
			if f.Label.Equal(facet) {
				return f.Dir, nil
			}
		}
		newDirUID, err := g.newUID()
		if err != nil {
			return 0, err
		}
		dirRaw, err := json.Marshal(Labeled[Directory]{Label: facet, Payload: NewDirectory()})
		if err != nil {
			return 0, err
		}
		if err := g.store.Put(newDirUID.Bytes(), dirRaw); err != nil {
			return 0, err
		}
		nextFD := FacetedDirectory{Facets: append(append([]Facet{}, fd.Facets...), Facet{Label: facet, Dir: newDirUID})}
		nextRaw, err := json.Marshal(nextFD)
		if err != nil {
			return 0, err
		}
		if err := g.store.CAS(fdUID.Bytes(), raw, nextRaw); err != nil {
			var conflict *kv.ErrCASConflict
			if errors.As(err, &conflict) {
				// Someone else may have created the same facet concurrently;
				// loop and re-check rather than leaking the orphaned directory.
				_ = g.store.Del(newDirUID.Bytes())
				continue
			}
			return 0, err
		}
		return newDirUID, nil
	}
}

// ListFacets returns only the facets whose label flows to clearance,
// tainting t's current label to the lub of all of them (spec.md section
// 4.3, FsFacetedList: "taint up to clearance; return only readable
// facets").
func (g *Graph) ListFacets(t *TaskState, fdUID UID, clearance label.Buckle) ([]label.Buckle, error) {
	fd, err := g.GetFacetedDirectory(fdUID)
	if err != nil {
		return nil, err
	}
	var out []label.Buckle
	for _, f := range fd.Facets {
		if f.Label.FlowsTo(clearance) {
			out = append(out, f.Label)
			if err := t.Unlabel(f.Label); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func cloneEntries(m map[string]DirEntry) map[string]DirEntry {
	out := make(map[string]DirEntry, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
