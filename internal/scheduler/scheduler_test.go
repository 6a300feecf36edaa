package scheduler

import (
	"sync"
	"testing"
	"time"

	"faasten/internal/wire"
)

type fakeConn struct {
	mu    sync.Mutex
	seen  [][]byte
	recvC chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{recvC: make(chan []byte, 8)}
}

func (f *fakeConn) SendFrame(body []byte) error {
	f.mu.Lock()
	f.seen = append(f.seen, body)
	f.mu.Unlock()
	f.recvC <- body
	return nil
}

func TestQueueFullReturnsImmediately(t *testing.T) {
	s := New(1)
	if err := s.Enqueue(&wire.Task{ID: "a"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := s.Enqueue(&wire.Task{ID: "b"}); err != ErrQueueFull {
		t.Fatalf("second enqueue err = %v, want ErrQueueFull", err)
	}
}

func TestFIFODispatchOrder(t *testing.T) {
	s := New(DefaultQueueCapacity)
	go s.Run()
	defer s.Stop()

	conn := newFakeConn()
	s.RegisterIdle(&Worker{ID: "w1", Info: &wire.NodeInfo{NodeID: "w1"}, Conn: conn})

	for i := 0; i < 5; i++ {
		task, err := wire.UnmarshalTask((&wire.Task{ID: string(rune('a' + i)), Function: "f"}).Marshal())
		if err != nil {
			t.Fatalf("roundtrip: %v", err)
		}
		if err := s.Enqueue(task); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		// Re-register the worker as idle after each dispatch consumes it.
		got := <-conn.recvC
		gotTask, err := wire.UnmarshalTask(got)
		if err != nil {
			t.Fatalf("unmarshal dispatched: %v", err)
		}
		if gotTask.ID != task.ID {
			t.Fatalf("dispatch order: got %q, want %q", gotTask.ID, task.ID)
		}
		s.RegisterIdle(&Worker{ID: "w1", Info: &wire.NodeInfo{NodeID: "w1"}, Conn: conn})
	}
}

func TestCacheAffinityPrefersCachedWorker(t *testing.T) {
	s := New(DefaultQueueCapacity)
	go s.Run()
	defer s.Stop()

	cold := newFakeConn()
	warm := newFakeConn()
	s.RegisterIdle(&Worker{ID: "cold", Info: &wire.NodeInfo{NodeID: "cold"}, Conn: cold})
	s.RegisterIdle(&Worker{ID: "warm", Info: &wire.NodeInfo{NodeID: "warm", CachedFns: []string{"hot-fn"}}, Conn: warm})

	if err := s.Enqueue(&wire.Task{ID: "t1", Function: "hot-fn"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-warm.recvC:
	case <-cold.recvC:
		t.Fatalf("dispatched to cold worker despite a cache-affine one being idle")
	case <-time.After(2 * time.Second):
		t.Fatalf("no dispatch observed")
	}
}

func TestFinishTaskRoutesToSyncWaiter(t *testing.T) {
	s := New(DefaultQueueCapacity)
	go s.Run()
	defer s.Stop()

	conn := newFakeConn()
	s.RegisterIdle(&Worker{ID: "w1", Info: &wire.NodeInfo{NodeID: "w1"}, Conn: conn})

	ch, err := s.EnqueueSync(&wire.Task{ID: "sync-1", Function: "f"})
	if err != nil {
		t.Fatalf("enqueue sync: %v", err)
	}
	<-conn.recvC // consume the dispatch so the test doesn't race Stop()

	s.FinishTask(&wire.FinishTask{TaskID: "sync-1", Result: []byte("ok"), Code: wire.CodeSuccess})

	select {
	case ft := <-ch:
		if string(ft.Result) != "ok" {
			t.Fatalf("result = %q, want ok", ft.Result)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("sync waiter was never notified")
	}
}

func TestFinishTaskForUnknownIDIsDiscarded(t *testing.T) {
	s := New(DefaultQueueCapacity)
	s.FinishTask(&wire.FinishTask{TaskID: "no-such-task"})
}
