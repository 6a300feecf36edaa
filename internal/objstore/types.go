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

// Package objstore implements the labeled object graph (spec.md section
// 4.1): typed, labeled objects keyed by 64-bit UIDs and persisted as JSON
// into a kv.Store, with CAS-based create/link/unlink/write and the
// unlabel-then-reveal discipline that keeps the ambient task label
// monotone. It is grounded on original_source/snapfaas/src/fs/mod.rs's
// ObjectRef<T>/Labeled<T>/DirEntry design, translated to Go's lack of
// generics-over-storage by keying every persisted blob with an explicit
// Kind discriminant (spec.md section 9, "Dynamic typing of DirEntry").
package objstore

import (
	"encoding/binary"

	"faasten/internal/label"
)

// UID names a persistent object. UID 0 is the well-known root directory.
type UID uint64

// Bytes returns the big-endian key form used in the kv.Store (spec.md
// section 6, "Persisted layout in KV").
func (u UID) Bytes() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(u))
	return b[:]
}

// RootUID is the well-known UID naming the root directory.
const RootUID UID = 0

// Kind discriminates the persisted payload a UID refers to.
type Kind uint8

const (
	KindDirectory Kind = iota
	KindFile
	KindFacetedDirectory
	KindGate
	KindService
	KindBlob
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	case KindFacetedDirectory:
		return "faceted_directory"
	case KindGate:
		return "gate"
	case KindService:
		return "service"
	case KindBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// DirEntry is the sum-of-references a directory maps names to (spec.md
// section 3, "DirEntry"): a typed pointer to another persisted object.
type DirEntry struct {
	Kind Kind `json:"kind"`
	UID  UID  `json:"uid"`
}

// Labeled wraps any persisted payload with its Buckle label (spec.md
// section 3's generic `Labeled<T>`).
type Labeled[T any] struct {
	Label   label.Buckle `json:"label"`
	Payload T            `json:"payload"`
}

// Directory maps names to DirEntry references. Key order carries no
// meaning (spec.md section 3).
type Directory struct {
	Entries map[string]DirEntry `json:"entries"`
}

func NewDirectory() Directory {
	return Directory{Entries: make(map[string]DirEntry)}
}

// File is a labeled byte blob.
type File struct {
	Data []byte `json:"data"`
}

// Facet pairs a label with the directory that materializes it.
type Facet struct {
	Label label.Buckle `json:"label"`
	Dir   UID          `json:"dir"`
}

// FacetedDirectory is unlabeled; each facet carries its own label (spec.md
// section 3).
type FacetedDirectory struct {
	Facets []Facet `json:"facets"`
}

// GateKind distinguishes a Direct gate (names a function) from a Redirect
// gate (points at the next hop in a resolution chain).
type GateKind uint8

const (
	GateDirect GateKind = iota
	GateRedirect
)

// Gate is a capability: a fixed function plus delegated privilege, or a
// redirect to another gate that compounds privilege/declassify/invoker
// clearance by intersection as the chain is walked (spec.md section 4.1,
// "Gate resolution").
type Gate struct {
	Kind                      GateKind        `json:"kind"`
	Privilege                 label.Component `json:"privilege"`
	InvokerIntegrityClearance label.Buckle    `json:"invoker_integrity_clearance"`
	Declassify                label.Component `json:"declassify"`
	Function                  string          `json:"function,omitempty"`
	NextGate                  UID             `json:"next_gate,omitempty"`
}

// Service is an outbound-HTTP descriptor a syscall session may invoke
// under the label it declares (spec.md section 3).
type Service struct {
	URL                       string          `json:"url"`
	Verb                      string          `json:"verb"`
	InvokerIntegrityClearance label.Buckle    `json:"invoker_integrity_clearance"`
	Taint                     label.Buckle    `json:"taint"`
	Headers                   map[string]string `json:"headers,omitempty"`
}

// Blob names a file in the content-addressed blob store (external
// collaborator, spec.md section 1).
type Blob struct {
	Name string `json:"name"`
}

// FunctionDescriptor names the artifacts and memory budget needed to launch
// a VM for a function (spec.md section 3).
type FunctionDescriptor struct {
	MemoryMiB    int64  `json:"memory_mib"`
	AppImage     string `json:"app_image"`
	RuntimeImage string `json:"runtime_image"`
	Kernel       string `json:"kernel"`
}
