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

// Command faasten-admin is the bootstrap/inspection CLI of spec.md section
// 6: "bootstrap, update-fsutil, update-python, list, faceted-list, read,
// delete, create-blob, mkdir". update-fsutil/update-python are the
// original's deployment-specific image-refresh commands (out of scope per
// spec.md section 1's "CLI wrappers... are external collaborators") and
// are intentionally not reimplemented; every subcommand that touches the
// labeled object graph is.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"faasten/internal/blobstore"
	"faasten/internal/fsutil"
	"faasten/internal/kv"
	"faasten/internal/kv/memstore"
	"faasten/internal/kv/redisstore"
	"faasten/internal/label"
	"faasten/internal/objstore"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	root := flag.NewFlagSet("faasten-admin", flag.ContinueOnError)
	backend := root.String("kv", "redis", "backing store: \"mem\" or \"redis\"")
	redisAddr := root.String("redis-addr", "127.0.0.1:6379", "redis address when -kv=redis")
	blobDir := root.String("blob-dir", "/var/lib/faasten/blobs", "content-addressed blob store directory")
	blobTmp := root.String("blob-tmp", "/var/lib/faasten/blobs-tmp", "temp directory for in-progress blobs")
	if err := root.Parse(args); err != nil {
		return 2
	}
	rest := root.Args()
	if len(rest) == 0 {
		printUsage()
		return 2
	}

	store, err := openStore(*backend, *redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "faasten-admin:", err)
		return 1
	}
	graph := objstore.New(store)

	verb, rest := rest[0], rest[1:]
	var cmdErr error
	switch verb {
	case "bootstrap":
		cmdErr = graph.Bootstrap()
	case "mkdir":
		cmdErr = cmdMkdir(graph, rest)
	case "list":
		cmdErr = cmdList(graph, rest)
	case "faceted-list":
		cmdErr = cmdFacetedList(graph, rest)
	case "read":
		cmdErr = cmdRead(graph, rest)
	case "delete":
		cmdErr = cmdDelete(graph, rest)
	case "create-blob":
		cmdErr = cmdCreateBlob(graph, *blobDir, *blobTmp, rest)
	default:
		printUsage()
		return 2
	}
	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "faasten-admin: %s: %v\n", verb, cmdErr)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: faasten-admin [-kv mem|redis] [-redis-addr addr] <command> [args]

commands:
  bootstrap
  mkdir <path> <label>
  list <path>
  faceted-list <path> <clearance>
  read <path>
  delete <path>
  create-blob <path> <label> <local-file>`)
}

func openStore(backend, redisAddr string) (kv.Store, error) {
	switch backend {
	case "mem":
		return memstore.New(), nil
	case "redis":
		return redisstore.New(redisAddr), nil
	default:
		return nil, fmt.Errorf("unknown -kv backend %q (want mem or redis)", backend)
	}
}

// adminTask builds the ambient state an admin command runs under: public
// starting label, the empty privilege (label.True()), and Top() clearance so
// every object in the graph is reachable (spec.md section 3's
// clearance-bounds-current_label invariant, with the bound set to the
// least restrictive value for an operator tool).
func adminTask() *objstore.TaskState {
	return objstore.NewTaskState(label.Public(), label.True(), label.Top())
}

func resolvePath(graph *objstore.Graph, t *objstore.TaskState, raw string) (fsutil.Path, objstore.DirEntry, error) {
	p, err := fsutil.Parse(raw, t.CurrentLabel, t.CurrentLabel)
	if err != nil {
		return fsutil.Path{}, objstore.DirEntry{}, err
	}
	entry, err := fsutil.NewResolver(graph).Resolve(t, p)
	return p, entry, err
}

func cmdMkdir(graph *objstore.Graph, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: mkdir <path> <label>")
	}
	t := adminTask()
	l, err := label.Parse(args[1])
	if err != nil {
		return err
	}
	resolver := fsutil.NewResolver(graph)
	p, err := fsutil.Parse(args[0], t.CurrentLabel, t.CurrentLabel)
	if err != nil {
		return err
	}
	parentUID, name, err := resolver.ResolveParent(t, p)
	if err != nil {
		return err
	}
	dirUID, err := graph.CreateDirectory(l)
	if err != nil {
		return err
	}
	return graph.Link(t, parentUID, name, objstore.DirEntry{Kind: objstore.KindDirectory, UID: dirUID})
}

func cmdList(graph *objstore.Graph, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: list <path>")
	}
	t := adminTask()
	_, entry, err := resolvePath(graph, t, args[0])
	if err != nil {
		return err
	}
	if entry.Kind != objstore.KindDirectory {
		return objstore.ErrNotADir
	}
	names, err := graph.List(t, entry.UID)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func cmdFacetedList(graph *objstore.Graph, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: faceted-list <path> <clearance>")
	}
	t := adminTask()
	clearance, err := label.Parse(args[1])
	if err != nil {
		return err
	}
	_, entry, err := resolvePath(graph, t, args[0])
	if err != nil {
		return err
	}
	if entry.Kind != objstore.KindFacetedDirectory {
		return objstore.ErrNotADir
	}
	facets, err := graph.ListFacets(t, entry.UID, clearance)
	if err != nil {
		return err
	}
	for _, f := range facets {
		fmt.Println(f.String())
	}
	return nil
}

func cmdRead(graph *objstore.Graph, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: read <path>")
	}
	t := adminTask()
	_, entry, err := resolvePath(graph, t, args[0])
	if err != nil {
		return err
	}
	if entry.Kind != objstore.KindFile {
		return objstore.ErrNotAFile
	}
	data, err := graph.ReadFile(t, entry.UID)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func cmdDelete(graph *objstore.Graph, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: delete <path>")
	}
	t := adminTask()
	resolver := fsutil.NewResolver(graph)
	p, err := fsutil.Parse(args[0], t.CurrentLabel, t.CurrentLabel)
	if err != nil {
		return err
	}
	parentUID, name, err := resolver.ResolveParent(t, p)
	if err != nil {
		return err
	}
	return graph.Unlink(t, parentUID, name)
}

func cmdCreateBlob(graph *objstore.Graph, blobDir, blobTmp string, args []string) error {
	if len(args) != 3 {
		return errors.New("usage: create-blob <path> <label> <local-file>")
	}
	t := adminTask()
	l, err := label.Parse(args[1])
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(args[2])
	if err != nil {
		return err
	}
	blobs, err := blobstore.New(blobDir, blobTmp)
	if err != nil {
		return err
	}
	nb, err := blobs.Create()
	if err != nil {
		return err
	}
	if _, err := nb.Write(raw); err != nil {
		return err
	}
	saved, err := blobs.Save(nb)
	if err != nil {
		return err
	}
	resolver := fsutil.NewResolver(graph)
	p, err := fsutil.Parse(args[0], t.CurrentLabel, t.CurrentLabel)
	if err != nil {
		return err
	}
	parentUID, name, err := resolver.ResolveParent(t, p)
	if err != nil {
		return err
	}
	blobUID, err := graph.CreateBlob(l, saved.Name)
	if err != nil {
		return err
	}
	return graph.Link(t, parentUID, name, objstore.DirEntry{Kind: objstore.KindBlob, UID: blobUID})
}
