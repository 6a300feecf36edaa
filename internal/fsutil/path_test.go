package fsutil

import (
	"testing"

	"faasten/internal/label"
)

func TestParseRoot(t *testing.T) {
	p, err := Parse("", label.Public(), label.Public())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(p.Components) != 0 {
		t.Fatalf("root path has components: %+v", p.Components)
	}
}

func TestParseDescriptorChain(t *testing.T) {
	p, err := Parse(":gh_repo:yue:mydata.txt", label.Public(), label.Public())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"gh_repo", "yue", "mydata.txt"}
	if len(p.Components) != len(want) {
		t.Fatalf("components = %+v, want %v", p.Components, want)
	}
	for i, name := range want {
		if p.Components[i].Kind != CompDescriptor || p.Components[i].Name != name {
			t.Fatalf("component %d = %+v, want descriptor %q", i, p.Components[i], name)
		}
	}
}

func TestParseCurrentLabelFacet(t *testing.T) {
	cl := label.New(label.NewFormula(label.Clause{{"alice"}}), label.True())
	p, err := Parse(":x:%", cl, label.Public())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	last := p.Components[len(p.Components)-1]
	if last.Kind != CompFacet || !last.Facet.Equal(cl) {
		t.Fatalf("last component = %+v, want facet %v", last, cl)
	}
}

func TestParseLiteralFacet(t *testing.T) {
	lit := label.New(label.NewFormula(label.Clause{{"bob"}}), label.True())
	p, err := Parse(":x:<"+lit.String()+">", label.Public(), label.Public())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	last := p.Components[len(p.Components)-1]
	if last.Kind != CompFacet || !last.Facet.Equal(lit) {
		t.Fatalf("last component = %+v, want facet %v", last, lit)
	}
}

func TestParseHomeExpandsToDescriptorThenFacet(t *testing.T) {
	home := label.New(label.NewFormula(label.Clause{{"carol"}}), label.True())
	p, err := Parse("~:docs", label.Public(), home)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(p.Components) != 3 {
		t.Fatalf("components = %+v, want 3", p.Components)
	}
	if p.Components[0].Kind != CompDescriptor || p.Components[0].Name != "home" {
		t.Fatalf("component 0 = %+v, want descriptor home", p.Components[0])
	}
	if p.Components[1].Kind != CompFacet || !p.Components[1].Facet.Equal(home) {
		t.Fatalf("component 1 = %+v, want facet %v", p.Components[1], home)
	}
	if p.Components[2].Kind != CompDescriptor || p.Components[2].Name != "docs" {
		t.Fatalf("component 2 = %+v, want descriptor docs", p.Components[2])
	}
}

func TestParentAndFileName(t *testing.T) {
	p, _ := Parse(":a:b:c", label.Public(), label.Public())
	parent, ok := p.Parent()
	if !ok || len(parent.Components) != 2 {
		t.Fatalf("parent = %+v, ok=%v", parent, ok)
	}
	name, isName := p.FileName()
	if !isName || name != "c" {
		t.Fatalf("file name = %q, %v", name, isName)
	}
	root := Path{}
	if _, ok := root.Parent(); ok {
		t.Fatalf("root path reported a parent")
	}
}
