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

import "faasten/internal/label"

// TaskState is the ambient per-invocation state from spec.md section 3:
// CurrentLabel starts at Public() and rises monotonically with every
// observation; Privilege is fixed for the life of the syscall session;
// Clearance upper-bounds CurrentLabel. This must never be shared across
// concurrent sessions (spec.md section 9, "Global mutable state") — callers
// own one TaskState per syscall processor instance.
type TaskState struct {
	CurrentLabel label.Buckle
	Privilege    label.Component
	Clearance    label.Buckle
}

// NewTaskState builds the ambient state a syscall session starts with.
func NewTaskState(start label.Buckle, priv label.Component, clearance label.Buckle) *TaskState {
	return &TaskState{CurrentLabel: start, Privilege: priv, Clearance: clearance}
}

// Taint raises CurrentLabel to CurrentLabel ⊔ l, failing with
// ErrClearance if the result would no longer flow to Clearance (spec.md
// section 3's invariant: current_label ⊑ clearance at every boundary).
func (t *TaskState) Taint(l label.Buckle) error {
	joined := t.CurrentLabel.Lub(l)
	if !joined.FlowsTo(t.Clearance) {
		return ErrClearance
	}
	t.CurrentLabel = joined
	return nil
}

// Unlabel taints with obj's label, or returns ErrClearance (leaving the
// current label unchanged) if the clearance bound would be violated. Every read through
// the object graph must go through this (spec.md section 4.1, "unlabel").
func (t *TaskState) Unlabel(objLabel label.Buckle) error {
	return t.Taint(objLabel)
}

// CanWrite reports whether the current label may flow into objLabel, taking
// the session's privilege into account via Downgrade (spec.md's write
// guard: current_label ⊑ label(o), optionally using privilege).
func (t *TaskState) CanWrite(objLabel label.Buckle) bool {
	effective := label.Downgrade(t.CurrentLabel, t.Privilege)
	return effective.FlowsTo(objLabel)
}

// Declassify lowers CurrentLabel's secrecy by priv, dropping the secrecy
// clauses priv implies. priv must be implied by t.Privilege, otherwise
// ErrCannotDelegate is returned and the label is left unchanged.
func (t *TaskState) Declassify(priv label.Component) error {
	if !label.CanDelegate(t.Privilege, priv) {
		return ErrCannotDelegate
	}
	t.CurrentLabel = label.Downgrade(t.CurrentLabel, priv)
	return nil
}

// SubPrivilege returns a (non-mutating) narrower privilege, requiring that
// the session's own privilege already implies it.
func (t *TaskState) SubPrivilege(suffix label.Component) (label.Component, error) {
	if !label.CanDelegate(t.Privilege, suffix) {
		return label.DCFormula{}, ErrCannotDelegate
	}
	return suffix, nil
}
