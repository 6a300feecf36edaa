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

import "errors"

// Error kinds from spec.md section 4.1 ("Error kinds").
var (
	ErrBadPath        = errors.New("objstore: bad path")
	ErrNotADir        = errors.New("objstore: not a directory")
	ErrNotAFile       = errors.New("objstore: not a file")
	ErrNotAGate       = errors.New("objstore: not a gate")
	ErrNotABlob       = errors.New("objstore: not a blob")
	ErrNotAService    = errors.New("objstore: not a service")
	ErrCannotRead     = errors.New("objstore: label error: cannot read")
	ErrCannotWrite    = errors.New("objstore: label error: cannot write")
	ErrCannotDelegate = errors.New("objstore: privilege error: cannot delegate")
	ErrLinkExists     = errors.New("objstore: link error: exists")
	ErrUnlinkNotFound = errors.New("objstore: unlink error: does not exist")
	ErrClearance      = errors.New("objstore: clearance exceeded")
	ErrGateCorrupted  = errors.New("objstore: gate error: corrupted")
	ErrNotEnumerable  = errors.New("objstore: backing store cannot enumerate its keyspace")
)
