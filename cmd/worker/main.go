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

// Command worker is the long-running daemon wrapping internal/worker:
// it dials the scheduler, registers as idle, and services whatever tasks
// arrive over that connection until the scheduler hangs up or sends
// RPCTerminate (spec.md section 4.7).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"

	"faasten/internal/blobstore"
	"faasten/internal/githubapi"
	"faasten/internal/kv"
	"faasten/internal/kv/memstore"
	"faasten/internal/kv/redisstore"
	"faasten/internal/metrics"
	"faasten/internal/objstore"
	"faasten/internal/resource"
	"faasten/internal/vmhandle"
	"faasten/internal/wire"
	"faasten/internal/worker"
)

func main() {
	id := flag.String("id", hostnameOrDefault(), "worker ID advertised to the scheduler")
	schedAddr := flag.String("scheduler-addr", "127.0.0.1:4522", "scheduler RPC address")
	metricsAddr := flag.String("metrics-addr", ":9523", "Prometheus /metrics listen address")
	totalMemMiB := flag.Int64("total-mem-mib", 4096, "memory budget for this worker's VM pool")
	backend := flag.String("kv", "redis", "backing store: \"mem\" or \"redis\"")
	redisAddr := flag.String("redis-addr", "127.0.0.1:6379", "redis address when -kv=redis")
	blobDir := flag.String("blob-dir", "/var/lib/faasten/blobs", "content-addressed blob store directory")
	blobTmp := flag.String("blob-tmp", "/var/lib/faasten/blobs-tmp", "temp directory for in-progress blobs")
	registryPath := flag.String("registry", "", "path to a JSON {name: {memory_mib, vcpus, app_image, runtime_image, kernel}} function registry")
	flag.Parse()

	metrics.StartEndpoint(*metricsAddr)

	registry, err := loadRegistry(*registryPath)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	var store kv.Store
	switch *backend {
	case "mem":
		store = memstore.New()
	case "redis":
		store = redisstore.New(*redisAddr)
	default:
		log.Fatalf("worker: unknown -kv backend %q", *backend)
	}
	graph := objstore.New(store)

	blobs, err := blobstore.New(*blobDir, *blobTmp)
	if err != nil {
		log.Fatalf("worker: blobstore.New: %v", err)
	}

	conn, err := net.Dial("tcp", *schedAddr)
	if err != nil {
		log.Fatalf("worker: dial scheduler: %v", err)
	}
	client := &rpcSchedulerClient{id: *id, conn: conn}

	w := &worker.Worker{
		ID:     *id,
		Sched:  client,
		Resources: resource.NewManager(*totalMemMiB, func(fn vmhandle.FunctionDescriptor) (*vmhandle.VM, error) {
			return vmhandle.Spawn(vmhandle.Config{
				ID:        fn.Name,
				MemoryMiB: fn.MemoryMiB,
				VCPUs:     fn.VCPUs,
				Appfs:     fn.AppImage,
				Rootfs:    fn.RuntimeImage,
				Kernel:    fn.Kernel,
			})
		}),
		Registry: registry,
		Graph:    graph,
		Store:    store,
		Blobs:    blobs,
		Github:   githubapi.NewClient(),
	}
	defer w.Resources.Shutdown()

	if err := client.register(); err != nil {
		log.Fatalf("worker: register: %v", err)
	}

	fmt.Fprintf(os.Stdout, "worker %s: connected to scheduler at %s\n", *id, *schedAddr)
	if err := w.Run(); err != nil {
		log.Fatalf("worker: %v", err)
	}
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil {
		return "worker"
	}
	return h
}

// registryFile is the on-disk shape loadRegistry accepts; it mirrors
// vmhandle.FunctionDescriptor with JSON field names an operator can write
// by hand.
type registryFile map[string]struct {
	MemoryMiB    int64  `json:"memory_mib"`
	VCPUs        int    `json:"vcpus"`
	AppImage     string `json:"app_image"`
	RuntimeImage string `json:"runtime_image"`
	Kernel       string `json:"kernel"`
}

func loadRegistry(path string) (worker.StaticRegistry, error) {
	if path == "" {
		return worker.StaticRegistry{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	var rf registryFile
	if err := json.Unmarshal(raw, &rf); err != nil {
		return nil, fmt.Errorf("parsing registry: %w", err)
	}
	reg := make(worker.StaticRegistry, len(rf))
	for name, d := range rf {
		reg[name] = vmhandle.FunctionDescriptor{
			Name:         name,
			MemoryMiB:    d.MemoryMiB,
			VCPUs:        d.VCPUs,
			AppImage:     d.AppImage,
			RuntimeImage: d.RuntimeImage,
			Kernel:       d.Kernel,
		}
	}
	return reg, nil
}

// rpcSchedulerClient implements worker.SchedulerClient over a single
// RPCMessage-framed TCP connection to the scheduler.
type rpcSchedulerClient struct {
	id   string
	conn net.Conn
}

func (c *rpcSchedulerClient) register() error {
	msg := &wire.RPCMessage{Kind: wire.RPCGetTask, WorkerID: c.id, Info: &wire.NodeInfo{NodeID: c.id}}
	return wire.WriteFrame(c.conn, msg.Marshal())
}

// GetTask blocks reading the connection for the scheduler's next
// RPCProcessTask. The worker only re-registers as idle once it has
// reported the previous task's outcome (see FinishTask), so it is never
// handed a second task while still Running/Reporting the first (spec.md
// section 4.7's Idle -> Requesting -> Running -> Reporting -> Idle cycle).
func (c *rpcSchedulerClient) GetTask() (*wire.Task, bool, error) {
	body, err := wire.ReadFrame(c.conn)
	if err != nil {
		return nil, true, err
	}
	msg, err := wire.UnmarshalRPCMessage(body)
	if err != nil {
		return nil, false, err
	}
	switch msg.Kind {
	case wire.RPCProcessTask:
		return msg.Task, false, nil
	case wire.RPCTerminate, wire.RPCTerminateAll:
		return nil, true, nil
	default:
		return nil, false, fmt.Errorf("worker: unexpected RPC kind %d while awaiting a task", msg.Kind)
	}
}

// FinishTask reports the completed task's outcome, then immediately
// re-registers as idle so the scheduler may dispatch the worker's next
// task (spec.md section 4.7's Reporting -> Idle transition).
func (c *rpcSchedulerClient) FinishTask(ft *wire.FinishTask) error {
	msg := &wire.RPCMessage{Kind: wire.RPCFinishTask, WorkerID: c.id, Finish: ft}
	if err := wire.WriteFrame(c.conn, msg.Marshal()); err != nil {
		return err
	}
	return c.register()
}

func (c *rpcSchedulerClient) Enqueue(t *wire.Task) error {
	msg := &wire.RPCMessage{Kind: wire.RPCLabeledInvoke, WorkerID: c.id, Task: t}
	return wire.WriteFrame(c.conn, msg.Marshal())
}
