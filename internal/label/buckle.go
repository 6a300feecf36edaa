package label

import (
	"errors"
	"strings"
)

// Buckle is a (secrecy, integrity) information-flow label.
type Buckle struct {
	Secrecy   DCFormula
	Integrity DCFormula
}

// Public returns the bottom-secrecy, top-integrity label: (True, True).
func Public() Buckle { return Buckle{Secrecy: True(), Integrity: True()} }

// Top returns the universal clearance ceiling: (False, True). Its secrecy
// side is the vacuous (unsatisfiable) formula, which Implies trivially
// satisfies regardless of the other side's secrecy requirement; its
// integrity side is the always-implied True(). Together these make every
// label FlowsTo Top() and make Top() the identity element for Glb, so a
// task seeded with Clearance: Top() may rise to any label and gate
// resolution's intersection-by-Glb (see ResolveGate) starts from a true
// identity rather than silently collapsing integrity to False on the first
// hop.
func Top() Buckle { return Buckle{Secrecy: False(), Integrity: True()} }

// New builds a label from secrecy/integrity formulas.
func New(secrecy, integrity DCFormula) Buckle {
	return Buckle{Secrecy: secrecy, Integrity: integrity}
}

// FlowsTo reports l1 ⊑ l2: l2.secrecy implies l1.secrecy (l2 is at least as
// secret) and l1.integrity implies l2.integrity (l2 is at least as tainted).
func (l Buckle) FlowsTo(o Buckle) bool {
	return o.Secrecy.Implies(l.Secrecy) && l.Integrity.Implies(o.Integrity)
}

// Equal reports structural/logical equivalence of both components.
func (l Buckle) Equal(o Buckle) bool {
	return l.Secrecy.Equal(o.Secrecy) && l.Integrity.Equal(o.Integrity)
}

// Lub returns the least upper bound: secrecy join (conjunction, i.e. "and"
// — more principals required to declassify), integrity meet (disjunction).
//
// This is the monotone taint operator applied whenever a labeled object is
// observed: current_label := current_label ⊔ label(object).
func (l Buckle) Lub(o Buckle) Buckle {
	return Buckle{
		Secrecy:   l.Secrecy.And(o.Secrecy),
		Integrity: l.Integrity.Or(o.Integrity),
	}
}

// Glb returns the greatest lower bound: secrecy meet, integrity join.
func (l Buckle) Glb(o Buckle) Buckle {
	return Buckle{
		Secrecy:   l.Secrecy.Or(o.Secrecy),
		Integrity: l.Integrity.And(o.Integrity),
	}
}

// Component is a privilege: a DCFormula whose clauses the holder may use to
// downgrade a label's secrecy (or delegate a subset of the same privilege).
type Component = DCFormula

// CanDelegate reports whether granting sub implies no more authority than
// the holder of priv already has, i.e. priv => sub.
func CanDelegate(priv, sub Component) bool {
	return priv.Implies(sub)
}

// Downgrade removes from the secrecy side any clause implied by priv,
// modelling the declassification a privilege grants: the result's secrecy
// is the conjunction of clauses from l.Secrecy not already implied by priv.
func Downgrade(l Buckle, priv Component) Buckle {
	if priv.isTrue || l.Secrecy.isTrue {
		return l
	}
	if l.Secrecy.isFalse {
		return l
	}
	var kept []Clause
	for _, c := range l.Secrecy.clauses {
		if priv.Implies(NewFormula(c)) {
			continue
		}
		kept = append(kept, c)
	}
	return Buckle{Secrecy: NewFormula(kept...), Integrity: l.Integrity}
}

// sideSep is the literal separator between the secrecy and integrity sides,
// matching the "S , I" example in spec.md section 6. Neither side ever
// contains a space internally, so this substring is unambiguous.
const sideSep = " , "

// String renders the label as "S , I" per spec.md section 6 ("Buckle
// textual format").
func (l Buckle) String() string {
	return l.Secrecy.String() + sideSep + l.Integrity.String()
}

// ErrParse is returned for a malformed textual label.
var ErrParse = errors.New("label: malformed buckle string")

// Parse parses the "S , I" textual form (spec.md section 6). Each side is
// "T", "F", or a semicolon-separated list of comma-separated principal
// paths (principal tokens are dot-joined, e.g. "alice.phone,bob").
func Parse(s string) (Buckle, error) {
	idx := strings.Index(s, sideSep)
	if idx < 0 {
		return Buckle{}, ErrParse
	}
	sec, err := parseFormula(strings.TrimSpace(s[:idx]))
	if err != nil {
		return Buckle{}, err
	}
	integ, err := parseFormula(strings.TrimSpace(s[idx+len(sideSep):]))
	if err != nil {
		return Buckle{}, err
	}
	return Buckle{Secrecy: sec, Integrity: integ}, nil
}

// ParseComponent parses s as a single DCFormula side using the same
// "T"/"F"/clause-list grammar as one half of a Buckle (spec.md section 6),
// for callers that need a bare privilege or declassify component rather
// than a full two-sided label. An empty string parses as True(), the
// identity component a caller omitting an optional privilege sends.
func ParseComponent(s string) (Component, error) {
	if s == "" {
		return True(), nil
	}
	return parseFormula(s)
}

// ComponentString renders a Component using the grammar ParseComponent
// accepts.
func ComponentString(c Component) string { return c.String() }

func parseFormula(s string) (DCFormula, error) {
	switch s {
	case "T":
		return True(), nil
	case "F":
		return False(), nil
	case "":
		return DCFormula{}, ErrParse
	}
	clauseStrs := strings.Split(s, ";")
	clauses := make([]Clause, 0, len(clauseStrs))
	for _, cs := range clauseStrs {
		cs = strings.TrimSpace(cs)
		if cs == "" {
			return DCFormula{}, ErrParse
		}
		principalStrs := strings.Split(cs, ",")
		clause := make(Clause, 0, len(principalStrs))
		for _, ps := range principalStrs {
			ps = strings.TrimSpace(ps)
			if ps == "" {
				return DCFormula{}, ErrParse
			}
			clause = append(clause, Principal(strings.Split(ps, ".")))
		}
		clauses = append(clauses, clause)
	}
	return NewFormula(clauses...), nil
}
