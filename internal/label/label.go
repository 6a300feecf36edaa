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

// Package label implements the Buckle (secrecy, integrity) information-flow
// label used throughout the object graph, path resolver and syscall
// processor. A label is a pair of DCFormulas: the secrecy side grows as data
// is observed, the integrity side shrinks as tainted data is incorporated.
package label

import (
	"encoding/json"
	"sort"
	"strings"
)

// Principal is a dot-path of string tokens, e.g. ["alice", "phone"].
type Principal []string

// String renders a principal as a dot-joined path.
func (p Principal) String() string {
	return strings.Join(p, ".")
}

// Equal reports whether two principals name the same path.
func (p Principal) Equal(o Principal) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// Clause is a disjunction ("or") of principals.
type Clause []Principal

// impliedBy reports whether other entails c. Principals are compared by
// exact equality (exact-set clause containment).
func (c Clause) impliedBy(other Clause) bool {
	// other => c iff every disjunct of other is present in c's disjuncts:
	// a disjunction with fewer principals is the stronger clause, so a
	// clause is implied by any clause that is a subset of it.
	for _, q := range other {
		found := false
		for _, p := range c {
			if p.Equal(q) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c Clause) key() string {
	parts := make([]string, len(c))
	for i, p := range c {
		parts[i] = p.String()
	}
	sort.Strings(parts)
	return strings.Join(parts, "\\/")
}

// DCFormula is a conjunction ("and") of clauses — conjunctive normal form.
// A nil/empty set of clauses together with formTrue==true represents the
// constant DCTrue (empty conjunction, i.e. "no restriction"). formTrue==false
// with no clauses represents DCFalse (the empty disjunction somewhere in the
// conjunction, i.e. unsatisfiable / "everything").
type DCFormula struct {
	isTrue  bool
	isFalse bool
	clauses []Clause
}

// True returns the DCTrue formula (an empty conjunction; always satisfied).
func True() DCFormula { return DCFormula{isTrue: true} }

// False returns the DCFalse formula (unsatisfiable).
func False() DCFormula { return DCFormula{isFalse: true} }

// NewFormula builds a formula from a set of clauses (CNF).
func NewFormula(clauses ...Clause) DCFormula {
	if len(clauses) == 0 {
		return True()
	}
	return DCFormula{clauses: dedupClauses(clauses)}
}

func dedupClauses(cs []Clause) []Clause {
	seen := make(map[string]bool, len(cs))
	out := make([]Clause, 0, len(cs))
	for _, c := range cs {
		k := c.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out
}

// IsTrue reports whether the formula is the constant true.
func (f DCFormula) IsTrue() bool { return f.isTrue }

// IsFalse reports whether the formula is the constant false.
func (f DCFormula) IsFalse() bool { return f.isFalse }

// Clauses returns the formula's clause set (nil for True/False).
func (f DCFormula) Clauses() []Clause { return f.clauses }

// Implies reports whether f logically implies g (f => g), i.e. every clause
// of g is implied by at least one clause of f (conjunction of weaker-or-equal
// clauses implies the weaker formula).
func (f DCFormula) Implies(g DCFormula) bool {
	if g.isTrue {
		return true
	}
	if f.isFalse {
		return true
	}
	if f.isTrue {
		return g.isTrue
	}
	if g.isFalse {
		return false
	}
	for _, gc := range g.clauses {
		satisfied := false
		for _, fc := range f.clauses {
			if gc.impliedBy(fc) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false
		}
	}
	return true
}

// Equal reports logical equivalence (mutual implication).
func (f DCFormula) Equal(g DCFormula) bool {
	return f.Implies(g) && g.Implies(f)
}

// And returns the conjunction of f and g (CNF union of clauses).
func (f DCFormula) And(g DCFormula) DCFormula {
	if f.isFalse || g.isFalse {
		return False()
	}
	if f.isTrue {
		return g
	}
	if g.isTrue {
		return f
	}
	return NewFormula(append(append([]Clause{}, f.clauses...), g.clauses...)...)
}

// Or returns the disjunction of f and g, distributing clauses pairwise.
func (f DCFormula) Or(g DCFormula) DCFormula {
	if f.isTrue || g.isTrue {
		return True()
	}
	if f.isFalse {
		return g
	}
	if g.isFalse {
		return f
	}
	var out []Clause
	for _, fc := range f.clauses {
		for _, gc := range g.clauses {
			merged := append(append(Clause{}, fc...), gc...)
			out = append(out, merged)
		}
	}
	return NewFormula(out...)
}

// String renders the formula in the "S,I"-compatible sub-grammar: "T", "F",
// or semicolon-separated clauses of comma-separated principals.
func (f DCFormula) String() string {
	if f.isTrue {
		return "T"
	}
	if f.isFalse {
		return "F"
	}
	clauses := make([]string, len(f.clauses))
	for i, c := range f.clauses {
		principals := make([]string, len(c))
		for j, p := range c {
			principals[j] = p.String()
		}
		clauses[i] = strings.Join(principals, ",")
	}
	return strings.Join(clauses, ";")
}

// MarshalJSON encodes the formula as its String form, so labels survive the
// object graph's JSON persistence.
func (f DCFormula) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON decodes the String form written by MarshalJSON.
func (f *DCFormula) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseComponent(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
