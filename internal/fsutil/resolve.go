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

package fsutil

import "faasten/internal/objstore"

// Resolver walks a Path against a labeled object graph, tainting the
// caller's TaskState at every hop (spec.md section 4.2: "every hop calls
// unlabel on the traversed object so the label rises monotonically").
type Resolver struct {
	graph *objstore.Graph
}

// NewResolver builds a Resolver over graph.
func NewResolver(graph *objstore.Graph) *Resolver {
	return &Resolver{graph: graph}
}

// Resolve walks path starting at the root directory, returning the final
// DirEntry reached. Non-existent components and type mismatches (e.g. a
// descriptor hop into a faceted directory, or any hop through a file) yield
// ErrBadPath, matching the donor's get_direntry.
func (r *Resolver) Resolve(t *objstore.TaskState, path Path) (objstore.DirEntry, error) {
	cur := objstore.DirEntry{Kind: objstore.KindDirectory, UID: objstore.RootUID}
	for _, comp := range path.Components {
		next, err := r.step(t, cur, comp)
		if err != nil {
			return objstore.DirEntry{}, err
		}
		cur = next
	}
	return cur, nil
}

// ResolveParent resolves path's parent directory and returns it alongside
// the final component's descriptor name, for create/write/delete operations
// that need to link/unlink a name within a directory.
func (r *Resolver) ResolveParent(t *objstore.TaskState, path Path) (objstore.UID, string, error) {
	parent, ok := path.Parent()
	name, isName := path.FileName()
	if !ok || !isName {
		return 0, "", objstore.ErrBadPath
	}
	entry, err := r.Resolve(t, parent)
	if err != nil {
		return 0, "", err
	}
	if entry.Kind != objstore.KindDirectory {
		return 0, "", objstore.ErrNotADir
	}
	return entry.UID, name, nil
}

func (r *Resolver) step(t *objstore.TaskState, cur objstore.DirEntry, comp Component) (objstore.DirEntry, error) {
	switch comp.Kind {
	case CompDescriptor:
		if cur.Kind != objstore.KindDirectory {
			return objstore.DirEntry{}, objstore.ErrBadPath
		}
		dir, err := r.graph.GetDirectory(cur.UID)
		if err != nil {
			return objstore.DirEntry{}, err
		}
		if err := t.Unlabel(dir.Label); err != nil {
			return objstore.DirEntry{}, err
		}
		entry, ok := dir.Payload.Entries[comp.Name]
		if !ok {
			return objstore.DirEntry{}, objstore.ErrBadPath
		}
		return entry, nil
	case CompFacet:
		if cur.Kind != objstore.KindFacetedDirectory {
			return objstore.DirEntry{}, objstore.ErrBadPath
		}
		dirUID, err := r.graph.OpenFacet(t, cur.UID, comp.Facet)
		if err != nil {
			return objstore.DirEntry{}, err
		}
		return objstore.DirEntry{Kind: objstore.KindDirectory, UID: dirUID}, nil
	default:
		return objstore.DirEntry{}, objstore.ErrBadPath
	}
}
