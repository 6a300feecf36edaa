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

// Package scheduler implements the dispatch loop of spec.md section 4.6: a
// bounded MPMC task queue, a condition variable pairing enqueues with idle
// worker registrations, and a sync-waiter map routing FinishTask results
// back to whoever issued a synchronous invocation. It follows the donor's
// mutex+condvar-free style loosely (the donor uses sync.Map and atomic
// flags in internal/ratelimiter/core.Store) but a dispatch readiness
// condvar is unavoidable here since pairing a task with an idle worker is a
// genuine two-sided rendezvous.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"

	"faasten/internal/metrics"
	"faasten/internal/wire"
)

// DefaultQueueCapacity is the bounded MPMC queue's default capacity (spec.md
// section 4.6).
const DefaultQueueCapacity = 1_000_000

// Worker is the scheduler's view of a registered idle worker: its NodeInfo
// advertisement (used for cache-affinity placement) and the connection to
// write a dispatched task to.
type Worker struct {
	ID   string
	Info *wire.NodeInfo
	Conn WorkerConn
}

// WorkerConn is the minimal transport a Scheduler writes dispatched tasks
// to; satisfied by a framed net.Conn wrapper in cmd/scheduler.
type WorkerConn interface {
	SendFrame(body []byte) error
}

// Scheduler holds the bounded task queue, the idle-worker registry and the
// sync-waiter map (spec.md section 4.6).
type Scheduler struct {
	tasks chan *wire.Task

	mu          sync.Mutex
	cond        *sync.Cond
	idleWorkers map[string]*Worker
	cachedFor   map[string]map[string]bool // function name -> set of worker IDs known to have it cached
	affinity    *rendezvous.Rendezvous

	waitersMu sync.Mutex
	waiters   map[string]chan *wire.FinishTask

	timesMu    sync.Mutex
	enqueuedAt map[string]time.Time

	stopC chan struct{}
}

// New creates a Scheduler with the given queue capacity (use
// DefaultQueueCapacity unless a test needs a smaller bound).
func New(capacity int) *Scheduler {
	s := &Scheduler{
		tasks:       make(chan *wire.Task, capacity),
		idleWorkers: make(map[string]*Worker),
		cachedFor:   make(map[string]map[string]bool),
		waiters:     make(map[string]chan *wire.FinishTask),
		enqueuedAt:  make(map[string]time.Time),
		affinity:    rendezvous.New(nil, xxhash.Sum64String),
		stopC:       make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ErrQueueFull is returned by Enqueue when the bounded queue is saturated
// (spec.md section 4.6: "QueueFull on try_send yields an immediate
// TaskReturn{code=QueueFull}").
var ErrQueueFull = fmt.Errorf("scheduler: queue full")

// Enqueue attempts a non-blocking send onto the task queue.
func (s *Scheduler) Enqueue(t *wire.Task) error {
	select {
	case s.tasks <- t:
		s.recordEnqueueTime(t.ID)
		metrics.QueueDepth.Set(float64(len(s.tasks)))
		s.mu.Lock()
		s.cond.Signal()
		s.mu.Unlock()
		return nil
	default:
		metrics.QueueFullTotal.Inc()
		return ErrQueueFull
	}
}

// recordEnqueueTime stamps id's enqueue time, used to compute
// DispatchLatency once Run hands it to a worker.
func (s *Scheduler) recordEnqueueTime(id string) {
	s.timesMu.Lock()
	s.enqueuedAt[id] = time.Now()
	s.timesMu.Unlock()
}

// takeEnqueueTime pops and returns id's recorded enqueue time, if any.
func (s *Scheduler) takeEnqueueTime(id string) (time.Time, bool) {
	s.timesMu.Lock()
	t, ok := s.enqueuedAt[id]
	if ok {
		delete(s.enqueuedAt, id)
	}
	s.timesMu.Unlock()
	return t, ok
}

// EnqueueSync enqueues t and returns a channel that receives its
// FinishTask result, registered under t.ID in the sync-waiter map.
func (s *Scheduler) EnqueueSync(t *wire.Task) (<-chan *wire.FinishTask, error) {
	ch := make(chan *wire.FinishTask, 1)
	s.waitersMu.Lock()
	s.waiters[t.ID] = ch
	s.waitersMu.Unlock()
	if err := s.Enqueue(t); err != nil {
		s.waitersMu.Lock()
		delete(s.waiters, t.ID)
		s.waitersMu.Unlock()
		return nil, err
	}
	return ch, nil
}

// RegisterIdle adds w to the idle-worker registry and signals the dispatch
// loop that a worker may now be available.
func (s *Scheduler) RegisterIdle(w *Worker) {
	s.mu.Lock()
	s.idleWorkers[w.ID] = w
	s.affinity.Add(w.ID)
	for _, fn := range w.Info.CachedFns {
		set := s.cachedFor[fn]
		if set == nil {
			set = make(map[string]bool)
			s.cachedFor[fn] = set
		}
		set[w.ID] = true
	}
	s.cond.Signal()
	s.mu.Unlock()
}

// UpdateResource refreshes a worker's NodeInfo advertisement (spec.md
// section 4.6).
func (s *Scheduler) UpdateResource(info *wire.NodeInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.idleWorkers[info.NodeID]; ok {
		w.Info = info
	}
}

// DropResource removes a worker from the idle registry entirely (it
// disconnected or shut down).
func (s *Scheduler) DropResource(workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.idleWorkers, workerID)
	s.affinity.Remove(workerID)
	for fn, set := range s.cachedFor {
		delete(set, workerID)
		if len(set) == 0 {
			delete(s.cachedFor, fn)
		}
	}
}

// FinishTask routes a completed task's result to its sync waiter, if any
// (spec.md section 4.6: "routes the result to the sync waiter keyed by
// UUID if any and discards otherwise").
func (s *Scheduler) FinishTask(ft *wire.FinishTask) {
	s.waitersMu.Lock()
	ch, ok := s.waiters[ft.TaskID]
	if ok {
		delete(s.waiters, ft.TaskID)
	}
	s.waitersMu.Unlock()
	if ok {
		ch <- ft
	}
}

// Run is the dispatch loop: wait for a task, then wait for an idle worker,
// pick the best-affinity one, and write the task to its connection
// (spec.md section 4.6, steps 1-3). It blocks until Stop is called.
func (s *Scheduler) Run() {
	fmt.Println("scheduler: dispatch loop started")
	for {
		task, ok := s.popTask()
		if !ok {
			return
		}
		worker, ok := s.waitForWorker(task)
		if !ok {
			return
		}
		body := task.Marshal()
		if err := worker.Conn.SendFrame(body); err != nil {
			fmt.Printf("scheduler: failed to dispatch task %s to worker %s: %v\n", task.ID, worker.ID, err)
			s.DropResource(worker.ID)
			_ = s.Enqueue(task)
			continue
		}
		if start, ok := s.takeEnqueueTime(task.ID); ok {
			metrics.DispatchLatency.Observe(time.Since(start).Seconds())
		}
	}
}

// Stop causes Run to return once its current wait unblocks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	close(s.stopC)
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Scheduler) popTask() (*wire.Task, bool) {
	select {
	case task := <-s.tasks:
		metrics.QueueDepth.Set(float64(len(s.tasks)))
		return task, true
	case <-s.stopC:
		return nil, false
	}
}

// waitForWorker blocks on the dispatch condvar until a worker matching
// task's function (or any idle worker) is registered, or Stop fires.
func (s *Scheduler) waitForWorker(task *wire.Task) (*Worker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case <-s.stopC:
			return nil, false
		default:
		}
		if w := s.pickWorkerLocked(task); w != nil {
			delete(s.idleWorkers, w.ID)
			return w, true
		}
		s.cond.Wait()
	}
}

// pickWorkerLocked prefers a worker already caching task.Function (first
// match wins per spec.md), breaking ties among multiple cache-affine
// candidates with rendezvous hashing so repeated dispatches for the same
// function land on the same worker as long as it stays registered,
// avoiding needless cache churn when more than one idle worker qualifies.
func (s *Scheduler) pickWorkerLocked(task *wire.Task) *Worker {
	if set := s.cachedFor[task.Function]; len(set) > 0 {
		if len(set) == 1 {
			for id := range set {
				if w, ok := s.idleWorkers[id]; ok {
					return w
				}
			}
		}
		if id := s.affinity.Lookup(task.Function); id != "" {
			if set[id] {
				if w, ok := s.idleWorkers[id]; ok {
					return w
				}
			}
		}
		for id := range set {
			if w, ok := s.idleWorkers[id]; ok {
				return w
			}
		}
	}
	for _, w := range s.idleWorkers {
		return w
	}
	return nil
}
