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

// Command gc runs the labeled object graph's privileged mark-and-sweep
// pass: every UID unreachable from the root directory is reported, and
// deleted only when -dry-run=false is given; a dry run is the default
// (spec.md section 4.1's NEW GC supplement).
package main

import (
	"flag"
	"fmt"
	"os"

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
	fs := flag.NewFlagSet("gc", flag.ContinueOnError)
	backend := fs.String("kv", "redis", "backing store: \"mem\" or \"redis\"")
	redisAddr := fs.String("redis-addr", "127.0.0.1:6379", "redis address when -kv=redis")
	clearanceStr := fs.String("clearance", label.Top().String(), "collector's clearance bound for reading facets")
	dryRun := fs.Bool("dry-run", true, "report unreachable UIDs without deleting them")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var store kv.Store
	switch *backend {
	case "mem":
		store = memstore.New()
	case "redis":
		store = redisstore.New(*redisAddr)
	default:
		fmt.Fprintf(os.Stderr, "gc: unknown -kv backend %q\n", *backend)
		return 2
	}

	clearance, err := label.Parse(*clearanceStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gc:", err)
		return 1
	}

	graph := objstore.New(store)
	garbage, err := graph.Sweep(clearance)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gc:", err)
		return 1
	}

	for _, uid := range garbage {
		fmt.Println(uid)
	}
	if *dryRun {
		fmt.Fprintf(os.Stderr, "gc: %d unreachable object(s), dry-run (no deletions)\n", len(garbage))
		return 0
	}
	for _, uid := range garbage {
		if err := store.Del(uid.Bytes()); err != nil {
			fmt.Fprintf(os.Stderr, "gc: delete %v: %v\n", uid, err)
			return 1
		}
	}
	fmt.Fprintf(os.Stderr, "gc: deleted %d unreachable object(s)\n", len(garbage))
	return 0
}
