package worker

import (
	"net"
	"sync"
	"testing"

	"faasten/internal/blobstore"
	"faasten/internal/githubapi"
	"faasten/internal/kv/memstore"
	"faasten/internal/label"
	"faasten/internal/objstore"
	"faasten/internal/resource"
	"faasten/internal/vmhandle"
	"faasten/internal/wire"
)

// serveGuest plays the guest side of a session: it reads the host's
// initial Request frame, then immediately answers with a SyscallResponse
// frame, mirroring the simplest possible function (spec.md S1, "public
// echo").
func serveGuest(conn net.Conn, payload []byte) {
	defer conn.Close()
	if _, err := wire.ReadFrame(conn); err != nil {
		return
	}
	sc := &wire.Syscall{Kind: wire.SyscallResponse, Payload: payload}
	_ = wire.WriteFrame(conn, sc.Marshal())
}

func newSpawner(payload []byte) func(vmhandle.FunctionDescriptor) (*vmhandle.VM, error) {
	return func(fn vmhandle.FunctionDescriptor) (*vmhandle.VM, error) {
		hostConn, guestConn := net.Pipe()
		go serveGuest(guestConn, payload)
		return vmhandle.NewForTesting(hostConn, vmhandle.Config{ID: fn.Name, MemoryMiB: fn.MemoryMiB}), nil
	}
}

// fakeScheduler hands out a fixed sequence of tasks, then signals done, and
// records every FinishTask/Enqueue call it receives.
type fakeScheduler struct {
	mu       sync.Mutex
	tasks    []*wire.Task
	idx      int
	finishes []*wire.FinishTask
	enqueued []*wire.Task
}

func (f *fakeScheduler) GetTask() (*wire.Task, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.tasks) {
		return nil, true, nil
	}
	t := f.tasks[f.idx]
	f.idx++
	return t, false, nil
}

func (f *fakeScheduler) FinishTask(ft *wire.FinishTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishes = append(f.finishes, ft)
	return nil
}

func (f *fakeScheduler) Enqueue(t *wire.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, t)
	return nil
}

func newFixture(t *testing.T, spawner func(vmhandle.FunctionDescriptor) (*vmhandle.VM, error)) *Worker {
	t.Helper()
	store := memstore.New()
	graph := objstore.New(store)
	if err := graph.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	base := t.TempDir()
	blobs, err := blobstore.New(base+"/blobs", base+"/tmp")
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	return &Worker{
		ID:        "w1",
		Resources: resource.NewManager(256, spawner),
		Registry:  StaticRegistry{"echo": vmhandle.FunctionDescriptor{MemoryMiB: 128, VCPUs: 1}},
		Graph:     graph,
		Store:     store,
		Blobs:     blobs,
		Github:    githubapi.NewClient(),
	}
}

func TestWorkerRunsTaskAndReportsSuccess(t *testing.T) {
	sched := &fakeScheduler{tasks: []*wire.Task{{
		Kind: wire.TaskInvoke, ID: "t1", Function: "echo",
		Payload: []byte("hi"), Label: label.Public().String(),
		Privilege: label.ComponentString(label.True()), Clearance: label.Top().String(),
	}}}
	w := newFixture(t, newSpawner([]byte("hi")))
	defer w.Resources.Shutdown()
	w.Sched = sched
	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sched.finishes) != 1 {
		t.Fatalf("expected 1 FinishTask, got %d", len(sched.finishes))
	}
	ft := sched.finishes[0]
	if ft.Code != wire.CodeSuccess {
		t.Fatalf("expected CodeSuccess, got %v", ft.Code)
	}
	if string(ft.Result) != "hi" {
		t.Fatalf("expected payload echoed back, got %q", ft.Result)
	}
}

func TestWorkerReportsFunctionNotExist(t *testing.T) {
	sched := &fakeScheduler{tasks: []*wire.Task{{
		Kind: wire.TaskInvoke, ID: "t2", Function: "missing",
		Label: label.Public().String(), Clearance: label.Top().String(),
	}}}
	w := newFixture(t, newSpawner(nil))
	defer w.Resources.Shutdown()
	w.Sched = sched
	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sched.finishes[0].Code != wire.CodeFunctionNotExist {
		t.Fatalf("expected CodeFunctionNotExist, got %v", sched.finishes[0].Code)
	}
}

func TestWorkerReportsResourceExhausted(t *testing.T) {
	sched := &fakeScheduler{tasks: []*wire.Task{{
		Kind: wire.TaskInvoke, ID: "t3", Function: "echo",
		Label: label.Public().String(), Clearance: label.Top().String(),
	}}}
	w := newFixture(t, newSpawner(nil))
	w.Resources.Shutdown()
	w.Resources = resource.NewManager(64, newSpawner(nil)) // smaller than echo's 128 MiB
	defer w.Resources.Shutdown()
	w.Sched = sched
	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sched.finishes[0].Code != wire.CodeResourceExhausted {
		t.Fatalf("expected CodeResourceExhausted, got %v", sched.finishes[0].Code)
	}
}

func TestInvokerEnqueuesAsyncSubInvocation(t *testing.T) {
	sched := &fakeScheduler{}
	inv := &invoker{sched: sched, idgen: func() string { return "child-1" }}
	callerLabel, err := label.Parse("alice , T")
	if err != nil {
		t.Fatalf("label.Parse: %v", err)
	}
	priv := label.NewFormula(label.Clause{{"alice"}})
	id, err := inv.Invoke("callee", []byte("payload"), callerLabel, priv, label.Top())
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(id) != "child-1" {
		t.Fatalf("expected the new task id back, got %q", id)
	}
	if len(sched.enqueued) != 1 || sched.enqueued[0].Function != "callee" {
		t.Fatalf("expected callee enqueued, got %+v", sched.enqueued)
	}
	got := sched.enqueued[0]
	if got.Label != callerLabel.String() {
		t.Fatalf("enqueued task label = %q, want %q", got.Label, callerLabel.String())
	}
	if got.Privilege != label.ComponentString(priv) {
		t.Fatalf("enqueued task privilege = %q, want %q", got.Privilege, label.ComponentString(priv))
	}
	if got.Clearance != label.Top().String() {
		t.Fatalf("enqueued task clearance = %q, want %q", got.Clearance, label.Top().String())
	}
}
