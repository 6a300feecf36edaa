package fsutil

import (
	"testing"

	"faasten/internal/kv/memstore"
	"faasten/internal/label"
	"faasten/internal/objstore"
)

func newResolverFixture(t *testing.T) (*objstore.Graph, *Resolver) {
	t.Helper()
	g := objstore.New(memstore.New())
	if err := g.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return g, NewResolver(g)
}

func rootTask() *objstore.TaskState {
	return objstore.NewTaskState(label.Public(), label.True(), label.Top())
}

func TestResolveCreateDirAndListRaisesLabel(t *testing.T) {
	g, r := newResolverFixture(t)

	ghLabel := label.New(label.NewFormula(label.Clause{{"gh_repo"}}), label.True())
	dirUID, err := g.CreateDirectory(ghLabel)
	if err != nil {
		t.Fatalf("create dir: %v", err)
	}
	linker := rootTask()
	if err := g.Link(linker, objstore.RootUID, "gh_repo", objstore.DirEntry{Kind: objstore.KindDirectory, UID: dirUID}); err != nil {
		t.Fatalf("link: %v", err)
	}

	yueLabel := label.New(label.NewFormula(label.Clause{{"yue"}}), label.NewFormula(label.Clause{{"gh_repo"}}))
	yueUID, err := g.CreateDirectory(yueLabel)
	if err != nil {
		t.Fatalf("create yue dir: %v", err)
	}
	ghTask := objstore.NewTaskState(ghLabel, label.True(), label.Top())
	if err := g.Link(ghTask, dirUID, "yue", objstore.DirEntry{Kind: objstore.KindDirectory, UID: yueUID}); err != nil {
		t.Fatalf("link yue: %v", err)
	}

	p, err := Parse(":gh_repo", label.Public(), label.Public())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	task := rootTask()
	entry, err := r.Resolve(task, p)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if entry.UID != dirUID {
		t.Fatalf("resolved UID = %v, want %v", entry.UID, dirUID)
	}
	// Resolving ":gh_repo" reads only the public root; the entry it returns
	// is not read yet.
	if !task.CurrentLabel.Equal(label.Public()) {
		t.Fatalf("current label = %v, want %v", task.CurrentLabel, label.Public())
	}

	p2, _ := Parse(":gh_repo:yue", label.Public(), label.Public())
	task2 := rootTask()
	entry2, err := r.Resolve(task2, p2)
	if err != nil {
		t.Fatalf("resolve nested: %v", err)
	}
	if entry2.UID != yueUID {
		t.Fatalf("resolved nested UID = %v, want %v", entry2.UID, yueUID)
	}
	// Resolving through gh_repo reads that directory and raises the label
	// to ghLabel; yue itself is not read.
	if !task2.CurrentLabel.Equal(ghLabel) {
		t.Fatalf("current label after nested resolve = %v, want %v", task2.CurrentLabel, ghLabel)
	}
}

func TestResolveMissingComponentIsBadPath(t *testing.T) {
	_, r := newResolverFixture(t)
	p, _ := Parse(":nope", label.Public(), label.Public())
	task := rootTask()
	if _, err := r.Resolve(task, p); err != objstore.ErrBadPath {
		t.Fatalf("resolve missing = %v, want ErrBadPath", err)
	}
}

func TestResolveThroughFileIsBadPath(t *testing.T) {
	g, r := newResolverFixture(t)
	fileUID, err := g.CreateFile(label.Public())
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	linker := rootTask()
	if err := g.Link(linker, objstore.RootUID, "leaf", objstore.DirEntry{Kind: objstore.KindFile, UID: fileUID}); err != nil {
		t.Fatalf("link: %v", err)
	}
	p, _ := Parse(":leaf:further", label.Public(), label.Public())
	task := rootTask()
	if _, err := r.Resolve(task, p); err != objstore.ErrBadPath {
		t.Fatalf("resolve through file = %v, want ErrBadPath", err)
	}
}

func TestResolveParentForCreate(t *testing.T) {
	g, r := newResolverFixture(t)
	dirUID, err := g.CreateDirectory(label.Public())
	if err != nil {
		t.Fatalf("create dir: %v", err)
	}
	linker := rootTask()
	if err := g.Link(linker, objstore.RootUID, "parent", objstore.DirEntry{Kind: objstore.KindDirectory, UID: dirUID}); err != nil {
		t.Fatalf("link: %v", err)
	}
	p, _ := Parse(":parent:child.txt", label.Public(), label.Public())
	task := rootTask()
	parentUID, name, err := r.ResolveParent(task, p)
	if err != nil {
		t.Fatalf("resolve parent: %v", err)
	}
	if parentUID != dirUID || name != "child.txt" {
		t.Fatalf("resolve parent = (%v, %q), want (%v, child.txt)", parentUID, name, dirUID)
	}
}

func TestResolveFacetHopOpensLazily(t *testing.T) {
	g, r := newResolverFixture(t)
	fdUID, err := g.CreateFacetedDirectory()
	if err != nil {
		t.Fatalf("create faceted dir: %v", err)
	}
	linker := rootTask()
	if err := g.Link(linker, objstore.RootUID, "home", objstore.DirEntry{Kind: objstore.KindFacetedDirectory, UID: fdUID}); err != nil {
		t.Fatalf("link: %v", err)
	}
	home := label.New(label.NewFormula(label.Clause{{"dave"}}), label.True())
	p, err := Parse("~", label.Public(), home)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	task := rootTask()
	entry, err := r.Resolve(task, p)
	if err != nil {
		t.Fatalf("resolve facet: %v", err)
	}
	if entry.Kind != objstore.KindDirectory {
		t.Fatalf("resolved entry kind = %v, want directory", entry.Kind)
	}
	if !task.CurrentLabel.Equal(home) {
		t.Fatalf("current label = %v, want %v", task.CurrentLabel, home)
	}

	task2 := rootTask()
	entry2, err := r.Resolve(task2, p)
	if err != nil {
		t.Fatalf("resolve facet second time: %v", err)
	}
	if entry2.UID != entry.UID {
		t.Fatalf("facet resolved to different dir on second open: %v vs %v", entry2.UID, entry.UID)
	}
}
