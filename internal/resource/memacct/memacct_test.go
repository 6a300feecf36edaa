package memacct

import (
	"sync"
	"testing"
)

func TestAcquireReleaseInvariant(t *testing.T) {
	p := NewPool(256)
	if !p.TryAcquire(128) {
		t.Fatalf("expected acquire of 128 to succeed against a 256 pool")
	}
	if p.Free() != 128 {
		t.Fatalf("free = %d, want 128", p.Free())
	}
	if p.TryAcquire(200) {
		t.Fatalf("expected acquire of 200 to fail with only 128 free")
	}
	p.Release(128)
	if p.Free() != p.Total() {
		t.Fatalf("free = %d, want total %d after releasing everything", p.Free(), p.Total())
	}
}

func TestConcurrentAcquireNeverOversubscribes(t *testing.T) {
	p := NewPool(1000)
	const workers = 64
	var wg sync.WaitGroup
	var successes int64
	var mu sync.Mutex
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.TryAcquire(20) {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if p.Reserved() != successes*20 {
		t.Fatalf("reserved = %d, want %d", p.Reserved(), successes*20)
	}
	if p.Free()+p.Reserved() != p.Total() {
		t.Fatalf("free+reserved = %d, want total %d", p.Free()+p.Reserved(), p.Total())
	}
}
