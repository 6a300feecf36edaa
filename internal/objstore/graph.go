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
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"

	"faasten/internal/kv"
	"faasten/internal/label"
)

// Graph is a typed view over a kv.Store implementing the labeled object
// graph (spec.md section 4.1).
type Graph struct {
	store kv.Store
}

// New wraps store as a labeled object graph. The caller is responsible for
// seeding UID 0 with an empty root directory on first use (see Bootstrap).
func New(store kv.Store) *Graph {
	return &Graph{store: store}
}

// Bootstrap ensures UID 0 exists as an empty, publicly-labeled root
// directory. Safe to call repeatedly; a pre-existing root is left alone.
func (g *Graph) Bootstrap() error {
	root := Labeled[Directory]{Label: label.Public(), Payload: NewDirectory()}
	err := putLabeledIfAbsent(g.store, RootUID, root)
	var conflict *kv.ErrCASConflict
	if err != nil && !errors.Is(err, kv.ErrKeyExists) && !errors.As(err, &conflict) {
		return err
	}
	return nil
}

// newUID generates a random UID and reserves it in the store via Add,
// retrying on collision (spec.md section 4.1, "create").
func (g *Graph) newUID() (UID, error) {
	for {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			return 0, err
		}
		uid := UID(binary.BigEndian.Uint64(b[:]))
		if uid == RootUID {
			continue
		}
		if err := g.store.Add(uid.Bytes(), []byte{}); err != nil {
			if errors.Is(err, kv.ErrKeyExists) {
				continue
			}
			return 0, err
		}
		return uid, nil
	}
}

func getLabeled[T any](store kv.Store, uid UID) (Labeled[T], error) {
	var out Labeled[T]
	raw, err := store.Get(uid.Bytes())
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func putLabeled[T any](store kv.Store, uid UID, v Labeled[T]) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Put(uid.Bytes(), raw)
}

func putLabeledIfAbsent[T any](store kv.Store, uid UID, v Labeled[T]) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.CAS(uid.Bytes(), nil, raw)
}

func casLabeled[T any](store kv.Store, uid UID, expected, newVal Labeled[T]) error {
	oldRaw, err := json.Marshal(expected)
	if err != nil {
		return err
	}
	newRaw, err := json.Marshal(newVal)
	if err != nil {
		return err
	}
	return store.CAS(uid.Bytes(), oldRaw, newRaw)
}

// CreateDirectory allocates a new, labeled, empty directory.
func (g *Graph) CreateDirectory(l label.Buckle) (UID, error) {
	uid, err := g.newUID()
	if err != nil {
		return 0, err
	}
	if err := putLabeled(g.store, uid, Labeled[Directory]{Label: l, Payload: NewDirectory()}); err != nil {
		return 0, err
	}
	return uid, nil
}

// CreateFile allocates a new, labeled, empty file.
func (g *Graph) CreateFile(l label.Buckle) (UID, error) {
	uid, err := g.newUID()
	if err != nil {
		return 0, err
	}
	if err := putLabeled(g.store, uid, Labeled[File]{Label: l, Payload: File{}}); err != nil {
		return 0, err
	}
	return uid, nil
}

// CreateFacetedDirectory allocates a new, unlabeled faceted directory.
func (g *Graph) CreateFacetedDirectory() (UID, error) {
	uid, err := g.newUID()
	if err != nil {
		return 0, err
	}
	raw, err := json.Marshal(FacetedDirectory{})
	if err != nil {
		return 0, err
	}
	if err := g.store.Put(uid.Bytes(), raw); err != nil {
		return 0, err
	}
	return uid, nil
}

// CreateGate allocates a new labeled gate. The creating task's current
// label (downgraded by its privilege) must flow to l, priv must imply
// gate.Privilege, and priv must also imply gate.Declassify, mirroring
// original_source/snapfaas/src/fs/mod.rs's create_direct_gate/
// create_redirect_gate three-part guard: a task cannot mint a gate whose
// label it could not itself write to, nor one that grants more
// declassifying power than the task's own privilege holds.
func (g *Graph) CreateGate(t *TaskState, l label.Buckle, gate Gate, priv label.Component) (UID, error) {
	if !t.CanWrite(l) {
		return 0, ErrCannotWrite
	}
	if !label.CanDelegate(priv, gate.Privilege) {
		return 0, ErrCannotDelegate
	}
	if !label.CanDelegate(priv, gate.Declassify) {
		return 0, ErrCannotDelegate
	}
	uid, err := g.newUID()
	if err != nil {
		return 0, err
	}
	if err := putLabeled(g.store, uid, Labeled[Gate]{Label: l, Payload: gate}); err != nil {
		return 0, err
	}
	return uid, nil
}

// CreateService allocates a new labeled service descriptor. The creating
// task's current label (downgraded by its privilege) must flow to l
// (original_source/snapfaas/src/fs/mod.rs's create_service guard).
func (g *Graph) CreateService(t *TaskState, l label.Buckle, svc Service) (UID, error) {
	if !t.CanWrite(l) {
		return 0, ErrCannotWrite
	}
	uid, err := g.newUID()
	if err != nil {
		return 0, err
	}
	if err := putLabeled(g.store, uid, Labeled[Service]{Label: l, Payload: svc}); err != nil {
		return 0, err
	}
	return uid, nil
}

// CreateBlob allocates a new labeled blob reference naming blobName in the
// (external) content-addressed blob store.
func (g *Graph) CreateBlob(l label.Buckle, blobName string) (UID, error) {
	uid, err := g.newUID()
	if err != nil {
		return 0, err
	}
	if err := putLabeled(g.store, uid, Labeled[Blob]{Label: l, Payload: Blob{Name: blobName}}); err != nil {
		return 0, err
	}
	return uid, nil
}

// GetDirectory reads a directory by UID without touching any ambient label
// (callers must Unlabel through a TaskState to observe it correctly).
func (g *Graph) GetDirectory(uid UID) (Labeled[Directory], error) {
	return getLabeled[Directory](g.store, uid)
}

// GetFile reads a file by UID.
func (g *Graph) GetFile(uid UID) (Labeled[File], error) {
	return getLabeled[File](g.store, uid)
}

// GetFacetedDirectory reads an (unlabeled) faceted directory by UID.
func (g *Graph) GetFacetedDirectory(uid UID) (FacetedDirectory, error) {
	raw, err := g.store.Get(uid.Bytes())
	if err != nil {
		return FacetedDirectory{}, err
	}
	var fd FacetedDirectory
	if err := json.Unmarshal(raw, &fd); err != nil {
		return FacetedDirectory{}, err
	}
	return fd, nil
}

// GetGate reads a gate by UID.
func (g *Graph) GetGate(uid UID) (Labeled[Gate], error) {
	return getLabeled[Gate](g.store, uid)
}

// GetService reads a service by UID.
func (g *Graph) GetService(uid UID) (Labeled[Service], error) {
	return getLabeled[Service](g.store, uid)
}

// GetBlob reads a blob reference by UID.
func (g *Graph) GetBlob(uid UID) (Labeled[Blob], error) {
	return getLabeled[Blob](g.store, uid)
}
