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

// Package resource implements the Resource Manager (spec.md section 4.5):
// ownership of total_mem/free_mem and the per-function idle VM lists,
// serialized through a single command channel so all pool mutations have one
// writer, the way the donor's core.Worker funnels all VSA commits through
// its own background goroutines rather than letting callers mutate state
// directly.
package resource

import (
	"fmt"

	"faasten/internal/metrics"
	"faasten/internal/resource/memacct"
	"faasten/internal/vmhandle"
)

// VM is the minimal handle the Resource Manager tracks: a function name
// (for idle-list bucketing) and the underlying vmhandle.VM.
type VM struct {
	Function string
	Handle   *vmhandle.VM
}

type cmdKind uint8

const (
	cmdGetVM cmdKind = iota
	cmdReleaseVM
	cmdDeleteVM
	cmdShutdown
)

type command struct {
	kind   cmdKind
	fn     vmhandle.FunctionDescriptor
	vm     *VM
	replyC chan getVMResult
	doneC  chan struct{}
}

type getVMResult struct {
	vm  *VM
	err error
}

// ErrOutOfMemory is returned when a function's memory cannot be reserved
// even after evicting idle VMs: either total memory is smaller than the
// requirement (spec.md section 4.5 calls this "impossible in production"
// but a library must still fail closed rather than loop forever), or VMs
// in use hold too much of the pool.
var ErrOutOfMemory = fmt.Errorf("resource: requested memory exceeds pool total")

// Manager owns total_mem/free_mem and the per-function idle VM lists. All
// mutation goes through run(), its single command-processing goroutine
// (spec.md section 4.5: "requests are serialized through a command
// channel").
type Manager struct {
	pool    *memacct.Pool
	idle    map[string][]*VM
	cmdC    chan command
	doneC   chan struct{}
	spawner func(vmhandle.FunctionDescriptor) (*vmhandle.VM, error)
}

// NewManager creates a Resource Manager with totalMiB of trackable memory.
// spawner is called to launch a brand-new VM when no idle one is available;
// it is a constructor seam so tests can stub vmhandle.Spawn.
func NewManager(totalMiB int64, spawner func(vmhandle.FunctionDescriptor) (*vmhandle.VM, error)) *Manager {
	m := &Manager{
		pool:    memacct.NewPool(totalMiB),
		idle:    make(map[string][]*VM),
		cmdC:    make(chan command, 64),
		doneC:   make(chan struct{}),
		spawner: spawner,
	}
	metrics.TotalMemMiB.Set(float64(m.pool.Total()))
	metrics.FreeMemMiB.Set(float64(m.pool.Free()))
	go m.run()
	return m
}

// FreeMem reports the pool's currently unreserved memory.
func (m *Manager) FreeMem() int64 { return m.pool.Free() }

// TotalMem reports the pool's fixed capacity.
func (m *Manager) TotalMem() int64 { return m.pool.Total() }

// GetVM implements acquire(fn): pop an idle VM for fn, else allocate a new
// one reducing free_mem, else evict across functions until fn's memory is
// free, then allocate (spec.md section 4.5).
func (m *Manager) GetVM(fn vmhandle.FunctionDescriptor) (*VM, error) {
	reply := make(chan getVMResult, 1)
	m.cmdC <- command{kind: cmdGetVM, fn: fn, replyC: reply}
	res := <-reply
	return res.vm, res.err
}

// ReleaseVM implements release(vm): push the VM back onto its function's
// idle list.
func (m *Manager) ReleaseVM(vm *VM) {
	done := make(chan struct{})
	m.cmdC <- command{kind: cmdReleaseVM, vm: vm, doneC: done}
	<-done
}

// DeleteVM implements delete(vm): drop the VM and return its memory to the
// pool.
func (m *Manager) DeleteVM(vm *VM) {
	done := make(chan struct{})
	m.cmdC <- command{kind: cmdDeleteVM, vm: vm, doneC: done}
	<-done
}

// Shutdown stops the command loop and deletes every idle VM, releasing their
// memory.
func (m *Manager) Shutdown() {
	done := make(chan struct{})
	m.cmdC <- command{kind: cmdShutdown, doneC: done}
	<-done
	<-m.doneC
}

func (m *Manager) run() {
	fmt.Println("resource manager: command loop started")
	defer close(m.doneC)
	for cmd := range m.cmdC {
		switch cmd.kind {
		case cmdGetVM:
			vm, err := m.handleGetVM(cmd.fn)
			cmd.replyC <- getVMResult{vm: vm, err: err}
		case cmdReleaseVM:
			m.idle[cmd.vm.Function] = append(m.idle[cmd.vm.Function], cmd.vm)
			close(cmd.doneC)
		case cmdDeleteVM:
			m.pool.Release(cmd.vm.Handle.Config.MemoryMiB)
			close(cmd.doneC)
		case cmdShutdown:
			m.drainIdle()
			close(cmd.doneC)
			metrics.FreeMemMiB.Set(float64(m.pool.Free()))
			return
		}
		metrics.FreeMemMiB.Set(float64(m.pool.Free()))
	}
}

func (m *Manager) handleGetVM(fn vmhandle.FunctionDescriptor) (*VM, error) {
	if list := m.idle[fn.Name]; len(list) > 0 {
		vm := list[len(list)-1]
		m.idle[fn.Name] = list[:len(list)-1]
		return vm, nil
	}
	if m.pool.TryAcquire(fn.MemoryMiB) {
		return m.allocate(fn)
	}
	if m.evict(fn.MemoryMiB) {
		if m.pool.TryAcquire(fn.MemoryMiB) {
			return m.allocate(fn)
		}
	}
	if fn.MemoryMiB > m.pool.Total() {
		return nil, ErrOutOfMemory
	}
	return nil, ErrOutOfMemory
}

func (m *Manager) allocate(fn vmhandle.FunctionDescriptor) (*VM, error) {
	handle, err := m.spawner(fn)
	if err != nil {
		m.pool.Release(fn.MemoryMiB)
		return nil, err
	}
	return &VM{Function: fn.Name, Handle: handle}, nil
}

// evict iterates idle lists round-robin, dropping VMs until at least
// needMiB has been freed; it reports false when the idle lists run out
// first (spec.md section 4.5's eviction).
func (m *Manager) evict(needMiB int64) bool {
	freed := int64(0)
	progress := true
	for freed < needMiB && progress {
		progress = false
		for name, list := range m.idle {
			if len(list) == 0 {
				continue
			}
			victim := list[len(list)-1]
			m.idle[name] = list[:len(list)-1]
			m.pool.Release(victim.Handle.Config.MemoryMiB)
			freed += victim.Handle.Config.MemoryMiB
			progress = true
			if freed >= needMiB {
				break
			}
		}
	}
	return freed >= needMiB
}

func (m *Manager) drainIdle() {
	for name, list := range m.idle {
		for _, vm := range list {
			m.pool.Release(vm.Handle.Config.MemoryMiB)
		}
		delete(m.idle, name)
	}
}
