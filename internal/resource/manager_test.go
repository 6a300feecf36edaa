package resource

import (
	"sync"
	"testing"

	"faasten/internal/vmhandle"
)

func stubSpawner(calls *int32) func(vmhandle.FunctionDescriptor) (*vmhandle.VM, error) {
	var mu sync.Mutex
	return func(fn vmhandle.FunctionDescriptor) (*vmhandle.VM, error) {
		mu.Lock()
		*calls++
		mu.Unlock()
		return &vmhandle.VM{Config: vmhandle.Config{MemoryMiB: fn.MemoryMiB}}, nil
	}
}

func TestGetVMAllocatesThenReusesIdle(t *testing.T) {
	var calls int32
	m := NewManager(1024, stubSpawner(&calls))
	defer m.Shutdown()

	fn := vmhandle.FunctionDescriptor{Name: "echo", MemoryMiB: 128}
	vm, err := m.GetVM(fn)
	if err != nil {
		t.Fatalf("get vm: %v", err)
	}
	if m.FreeMem() != 1024-128 {
		t.Fatalf("free mem = %d, want %d", m.FreeMem(), 1024-128)
	}
	m.ReleaseVM(vm)
	if m.FreeMem() != 1024-128 {
		t.Fatalf("free mem after release = %d, want unchanged", m.FreeMem())
	}

	vm2, err := m.GetVM(fn)
	if err != nil {
		t.Fatalf("get vm again: %v", err)
	}
	if vm2 != vm {
		t.Fatalf("expected idle VM reuse, got a different handle")
	}
	if calls != 1 {
		t.Fatalf("spawner called %d times, want 1 (second GetVM should reuse idle)", calls)
	}
}

func TestDeleteVMReturnsMemory(t *testing.T) {
	var calls int32
	m := NewManager(256, stubSpawner(&calls))
	defer m.Shutdown()

	fn := vmhandle.FunctionDescriptor{Name: "f", MemoryMiB: 200}
	vm, err := m.GetVM(fn)
	if err != nil {
		t.Fatalf("get vm: %v", err)
	}
	m.DeleteVM(vm)
	if m.FreeMem() != 256 {
		t.Fatalf("free mem after delete = %d, want 256", m.FreeMem())
	}
}

func TestEvictionReclaimsMemoryForNewFunction(t *testing.T) {
	var calls int32
	m := NewManager(256, stubSpawner(&calls))
	defer m.Shutdown()

	a := vmhandle.FunctionDescriptor{Name: "a", MemoryMiB: 200}
	vmA, err := m.GetVM(a)
	if err != nil {
		t.Fatalf("get vm a: %v", err)
	}
	m.ReleaseVM(vmA)

	b := vmhandle.FunctionDescriptor{Name: "b", MemoryMiB: 200}
	if _, err := m.GetVM(b); err != nil {
		t.Fatalf("get vm b should evict idle a's VM: %v", err)
	}
	if m.FreeMem() != 56 {
		t.Fatalf("free mem = %d, want 56 after evicting a and allocating b", m.FreeMem())
	}
}

func TestGetVMFailsWhenLargerThanTotal(t *testing.T) {
	var calls int32
	m := NewManager(64, stubSpawner(&calls))
	defer m.Shutdown()

	_, err := m.GetVM(vmhandle.FunctionDescriptor{Name: "huge", MemoryMiB: 128})
	if err != ErrOutOfMemory {
		t.Fatalf("err = %v, want ErrOutOfMemory", err)
	}
}
