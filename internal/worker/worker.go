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

// Package worker implements the Worker pseudo-state machine of spec.md
// section 4.7: Idle -> Requesting -> Running -> Reporting -> Idle. A
// Worker pulls one task at a time from the scheduler through a
// SchedulerClient seam, acquires a VM from its local resource.Manager,
// drives a syscallproc.Processor session against it, and reports the
// result back, retrying a bounded number of times on launch failure before
// giving up (spec.md: "failure to launch... retries up to a small bound
// (default 5)"). It is grounded on
// internal/ratelimiter/core.Worker's request/process/report loop, adapted
// from pulling rate-limit decisions off a channel to pulling invocation
// tasks off a scheduler connection.
package worker

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"faasten/internal/blobstore"
	"faasten/internal/githubapi"
	"faasten/internal/kv"
	"faasten/internal/label"
	"faasten/internal/metrics"
	"faasten/internal/objstore"
	"faasten/internal/resource"
	"faasten/internal/syscallproc"
	"faasten/internal/vmhandle"
	"faasten/internal/wire"
)

// DefaultMaxLaunchRetries bounds the worker's VM-launch retry loop (spec.md
// section 4.7, step 2).
const DefaultMaxLaunchRetries = 5

// SchedulerClient is the worker's connection to the central Scheduler: it
// requests one task at a time and reports completions, mirroring spec.md
// section 4.6's "workers register by opening a long-lived TCP connection
// and sending GetTask". A concrete net.Conn-backed implementation using
// wire.RPCMessage framing lives in cmd/worker; tests substitute a fake.
type SchedulerClient interface {
	// GetTask blocks until the scheduler dispatches a task or tells the
	// worker to terminate (done=true, task=nil).
	GetTask() (task *wire.Task, done bool, err error)
	// FinishTask reports a completed (or failed) task's result.
	FinishTask(ft *wire.FinishTask) error
	// Enqueue submits a new task for scheduling, used by the Invoker this
	// worker hands to its syscall processor for InvokeGate/InvokeFunction
	// sub-invocations (spec.md section 4.3: "enqueue a LabeledInvoke
	// (async)").
	Enqueue(t *wire.Task) error
}

// FunctionRegistry resolves a function name to the artifacts and memory
// budget needed to launch a VM for it (spec.md section 3,
// "Function descriptor"). A map-backed implementation is provided below;
// a KV-backed one can wrap internal/objstore's Gate.Function lookups in a
// real deployment.
type FunctionRegistry interface {
	Lookup(name string) (vmhandle.FunctionDescriptor, error)
}

// ErrFunctionNotExist is returned by a FunctionRegistry for an unknown
// function name (spec.md section 6, "FunctionNotExist").
var ErrFunctionNotExist = fmt.Errorf("worker: function does not exist")

// StaticRegistry is a fixed, in-memory FunctionRegistry suitable for tests
// and single-node deployments seeded at startup.
type StaticRegistry map[string]vmhandle.FunctionDescriptor

func (r StaticRegistry) Lookup(name string) (vmhandle.FunctionDescriptor, error) {
	d, ok := r[name]
	if !ok {
		return vmhandle.FunctionDescriptor{}, ErrFunctionNotExist
	}
	return d, nil
}

// Worker ties together a scheduler connection, a local resource.Manager,
// the shared object graph/blob store/github client every syscall session
// needs, and a function registry (spec.md section 4.7).
type Worker struct {
	ID         string
	Sched      SchedulerClient
	Resources  *resource.Manager
	Registry   FunctionRegistry
	Graph      *objstore.Graph
	Store      kv.Store
	Blobs      *blobstore.Store
	Github     *githubapi.Client
	MaxRetries int
}

// Run is the worker's main loop: request a task, run it, report it, repeat
// until the scheduler sends Terminate or GetTask errors.
func (w *Worker) Run() error {
	retries := w.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxLaunchRetries
	}
	for {
		task, done, err := w.Sched.GetTask()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		w.handleTask(task, retries)
	}
}

// handleTask implements spec.md section 4.7's Running state: acquire (and
// launch, retrying up to maxRetries times) a VM, run the syscall session
// against it, then report success (releasing the VM) or failure (deleting
// it).
func (w *Worker) handleTask(task *wire.Task, maxRetries int) {
	if task.Kind == wire.TaskTerminate {
		return
	}

	startLabel, privilege, clearance, err := decodeTaskLabels(task)
	if err != nil {
		w.finish(task.ID, wire.CodeProcessRequestFailed, nil)
		return
	}

	fnDesc, err := w.Registry.Lookup(task.Function)
	if err != nil {
		w.finish(task.ID, wire.CodeFunctionNotExist, nil)
		return
	}
	fnDesc.Name = task.Function

	var vm *resource.VM
	for attempt := 0; attempt < maxRetries; attempt++ {
		start := time.Now()
		vm, err = w.Resources.GetVM(fnDesc)
		metrics.VMLaunchLatency.Observe(time.Since(start).Seconds())
		if err == nil || err == resource.ErrOutOfMemory {
			break
		}
		metrics.VMLaunchFailuresTotal.Inc()
	}
	if err != nil {
		if err == resource.ErrOutOfMemory {
			w.finish(task.ID, wire.CodeResourceExhausted, nil)
			return
		}
		w.finish(task.ID, wire.CodeLaunchFailed, nil)
		return
	}

	inv := &invoker{sched: w.Sched, idgen: newTaskID}
	proc := syscallproc.New(vm.Handle, w.Graph, w.Store, w.Blobs, w.Github, inv, startLabel, privilege, clearance)

	if err := vm.Handle.SendFrame((&wire.Request{Payload: task.Payload}).Marshal()); err != nil {
		w.Resources.DeleteVM(vm)
		w.finish(task.ID, wire.CodeProcessRequestFailed, nil)
		return
	}

	result, err := proc.Run()
	if err != nil {
		w.Resources.DeleteVM(vm)
		w.finish(task.ID, wire.CodeProcessRequestFailed, nil)
		return
	}

	w.Resources.ReleaseVM(vm)
	w.finish(task.ID, wire.CodeSuccess, result)
}

func (w *Worker) finish(taskID string, code wire.TaskReturnCode, payload []byte) {
	_ = w.Sched.FinishTask(&wire.FinishTask{TaskID: taskID, Code: code, Result: payload})
}

func decodeTaskLabels(task *wire.Task) (label.Buckle, label.Component, label.Buckle, error) {
	start, err := label.Parse(task.Label)
	if err != nil {
		return label.Buckle{}, label.Component{}, label.Buckle{}, err
	}
	priv, err := label.ParseComponent(task.Privilege)
	if err != nil {
		return label.Buckle{}, label.Component{}, label.Buckle{}, err
	}
	clearance, err := label.Parse(task.Clearance)
	if err != nil {
		return label.Buckle{}, label.Component{}, label.Buckle{}, err
	}
	return start, priv, clearance, nil
}

// invoker implements syscallproc.Invoker by submitting a fresh LabeledInvoke
// task to the scheduler rather than running the sub-invocation inline
// (spec.md section 4.3: "enqueue a LabeledInvoke (async)", section 2's
// control flow: "possibly enqueuing sub-invocations"). The returned payload
// is the new task's ID, which the caller can correlate with a later
// FinishTask of its own if it chooses to track it; this mirrors the async
// LabeledInvoke contract, which does not hand the invoker a result.
type invoker struct {
	sched SchedulerClient
	idgen func() string
}

func (inv *invoker) Invoke(function string, payload []byte, taskLabel label.Buckle, privilege label.Component, clearance label.Buckle) ([]byte, error) {
	id := inv.idgen()
	t := &wire.Task{
		Kind:      wire.TaskInvoke,
		ID:        id,
		Function:  function,
		Payload:   payload,
		Label:     taskLabel.String(),
		Privilege: label.ComponentString(privilege),
		Clearance: clearance.String(),
	}
	if err := inv.sched.Enqueue(t); err != nil {
		return nil, err
	}
	return []byte(id), nil
}

func newTaskID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
