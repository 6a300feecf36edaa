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

// ResolvedGate is the synthetic DirectGate an invoker observes after
// walking a chain of redirects (spec.md section 4.1, "Gate resolution").
type ResolvedGate struct {
	Privilege                 label.Component
	InvokerIntegrityClearance label.Buckle
	Declassify                label.Component
	Function                  string
}

// maxGateChain bounds redirect-chain walks so a cyclic redirect (spec.md
// section 9, "Cyclic graphs") cannot hang resolution.
const maxGateChain = 64

// ResolveGate follows a possibly-empty chain of Redirect gates starting at
// gateUID until it reaches a Direct gate, accumulating privilege,
// invoker_integrity_clearance and declassify by intersection (logical AND
// of the component formulas) at each hop, per the Open Question decision
// recorded in DESIGN.md.
func (g *Graph) ResolveGate(t *TaskState, gateUID UID) (ResolvedGate, error) {
	privilege := label.True()
	clearance := label.Top()
	declassify := label.True()

	uid := gateUID
	for i := 0; i < maxGateChain; i++ {
		cur, err := getLabeled[Gate](g.store, uid)
		if err != nil {
			return ResolvedGate{}, err
		}
		if err := t.Unlabel(cur.Label); err != nil {
			return ResolvedGate{}, err
		}
		privilege = privilege.And(cur.Payload.Privilege)
		declassify = declassify.And(cur.Payload.Declassify)
		clearance = clearance.Glb(cur.Payload.InvokerIntegrityClearance)

		switch cur.Payload.Kind {
		case GateDirect:
			return ResolvedGate{
				Privilege:                 privilege,
				InvokerIntegrityClearance: clearance,
				Declassify:                declassify,
				Function:                  cur.Payload.Function,
			}, nil
		case GateRedirect:
			uid = cur.Payload.NextGate
			continue
		default:
			return ResolvedGate{}, ErrGateCorrupted
		}
	}
	return ResolvedGate{}, ErrGateCorrupted
}

// DupGate deep-copies the gate at origUID into a freshly allocated gate
// object with a new label, used by the DupGate syscall (spec.md section
// 4.3) to let a caller hand out a gate under a different secrecy/integrity
// policy without mutating the original.
func (g *Graph) DupGate(t *TaskState, origUID UID, newLabel label.Buckle) (UID, error) {
	orig, err := getLabeled[Gate](g.store, origUID)
	if err != nil {
		return 0, err
	}
	if err := t.Unlabel(orig.Label); err != nil {
		return 0, err
	}
	return g.CreateGate(t, newLabel, orig.Payload, t.Privilege)
}
