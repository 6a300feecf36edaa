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

// Package fsutil implements the colon-separated path grammar (spec.md
// section 4.2) and its resolution against the labeled object graph. It is
// grounded on original_source/snapfaas/src/fs/path.rs's Path/PathComponent
// parser and labeled_fs/mod.rs's get_direntry walk.
package fsutil

import (
	"regexp"
	"strings"

	"faasten/internal/label"
)

var ErrInvalidFacet = errInvalidFacet{}

type errInvalidFacet struct{}

func (errInvalidFacet) Error() string { return "fsutil: invalid facet literal" }

// ComponentKind distinguishes a named descriptor from a facet selector.
type ComponentKind uint8

const (
	CompDescriptor ComponentKind = iota
	CompFacet
)

// Component is one hop of a parsed Path: either a named directory entry
// (Dscrp, in the donor's terms) or a facet selector carrying a literal
// Buckle.
type Component struct {
	Kind   ComponentKind
	Name   string
	Facet  label.Buckle
}

// Path is the parsed form of a colon-separated path string.
type Path struct {
	Components []Component
}

var facetLiteralRe = regexp.MustCompile(`^<(.+)>$`)

// Parse parses a colon-separated path per spec.md section 4.2: "" is root,
// "~" expands to a fixed home-facet prefix (caller supplies the facet via
// homeFacet since there is no ambient per-user identity in this port),
// "%" resolves to currentLabel at parse time, "<BUCKLE>" is a literal facet,
// anything else is a named descriptor.
func Parse(input string, currentLabel label.Buckle, homeFacet label.Buckle) (Path, error) {
	trimmed := strings.Trim(input, ":")
	if trimmed == "" {
		return Path{}, nil
	}
	parts := strings.Split(trimmed, ":")
	var comps []Component
	i := 0
	if parts[0] == "~" {
		comps = append(comps,
			Component{Kind: CompDescriptor, Name: "home"},
			Component{Kind: CompFacet, Facet: homeFacet},
		)
		i = 1
	}
	for ; i < len(parts); i++ {
		c := parts[i]
		switch {
		case c == "%":
			comps = append(comps, Component{Kind: CompFacet, Facet: currentLabel})
		case facetLiteralRe.MatchString(c):
			m := facetLiteralRe.FindStringSubmatch(c)
			f, err := label.Parse(m[1])
			if err != nil {
				return Path{}, ErrInvalidFacet
			}
			comps = append(comps, Component{Kind: CompFacet, Facet: f})
		default:
			comps = append(comps, Component{Kind: CompDescriptor, Name: c})
		}
	}
	return Path{Components: comps}, nil
}

// Parent returns the path with its final component dropped, and whether a
// parent remains (the root has none).
func (p Path) Parent() (Path, bool) {
	if len(p.Components) == 0 {
		return Path{}, false
	}
	return Path{Components: p.Components[:len(p.Components)-1]}, true
}

// FileName returns the final component's descriptor name, if it is a
// descriptor (facet-terminated paths have no file name).
func (p Path) FileName() (string, bool) {
	if len(p.Components) == 0 {
		return "", false
	}
	last := p.Components[len(p.Components)-1]
	if last.Kind != CompDescriptor {
		return "", false
	}
	return last.Name, true
}
