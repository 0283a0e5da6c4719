// Copyright (c) nano Authors. All Rights Reserved.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/lonng/nano-gateway/internal/log"
	"github.com/pingcap/errors"
)

// mailboxBatch is the number of tasks a worker runs from one mailbox before
// yielding to other mailboxes
const mailboxBatch = 16

var (
	ErrQueueFull       = errors.New("scheduler queue full")
	ErrSchedulerClosed = errors.New("scheduler closed")
)

// Task is a unit of work executed by the worker pool
type Task func()

// Mailbox is a FIFO of tasks belonging to one owner (a session). Tasks in the
// same mailbox never run concurrently and run in the order scheduled.
type Mailbox struct {
	mu        sync.Mutex
	tasks     *queue.Queue
	scheduled bool // the mailbox is in the ready queue or held by a worker
}

// NewMailbox returns an empty mailbox
func NewMailbox() *Mailbox {
	return &Mailbox{tasks: queue.New()}
}

// Len returns the number of tasks waiting in the mailbox
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks.Length()
}

// Scheduler is a fixed pool of workers fed by a bounded queue of tasks.
type Scheduler struct {
	workers  int
	capacity int
	queued   int64         // tasks accepted and not yet started
	ready    chan *Mailbox // mailboxes which have queued tasks

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup // tasks accepted and not yet finished

	chDie   chan struct{}
	wg      sync.WaitGroup
	started int32
	stopped int32
}

// New returns a scheduler with workers goroutines and a queue holding at
// most capacity tasks.
func New(workers, capacity int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Scheduler{
		workers:  workers,
		capacity: capacity,
		// every mailbox in the ready queue holds at least one queued task,
		// so sends on it never block
		ready: make(chan *Mailbox, capacity),
		chDie: make(chan struct{}),
	}
}

// execute task with protection
func try(f Task) {
	defer func() {
		if err := recover(); err != nil {
			log.Errorf("%s", fmt.Sprintf("[try] Handle task panic: %+v\n%s", err, debug.Stack()))
		}
	}()
	f()
}

// Start starts the workers, calling Start more than once has no effect.
func (s *Scheduler) Start() {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return
	}
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Schedule appends task to the mailbox. ErrQueueFull is returned when the
// queue already holds capacity tasks, the task is dropped in that case.
func (s *Scheduler) Schedule(mb *Mailbox, task Task) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSchedulerClosed
	}

	if atomic.AddInt64(&s.queued, 1) > int64(s.capacity) {
		atomic.AddInt64(&s.queued, -1)
		return ErrQueueFull
	}
	s.inflight.Add(1)

	mb.mu.Lock()
	mb.tasks.Add(task)
	if mb.scheduled {
		mb.mu.Unlock()
		return nil
	}
	mb.scheduled = true
	mb.mu.Unlock()

	s.ready <- mb
	return nil
}

// Queued returns the number of tasks waiting for a worker
func (s *Scheduler) Queued() int {
	return int(atomic.LoadInt64(&s.queued))
}

// Capacity returns the queue capacity
func (s *Scheduler) Capacity() int {
	return s.capacity
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case mb := <-s.ready:
			s.run(mb)
		case <-s.chDie:
			return
		}
	}
}

func (s *Scheduler) run(mb *Mailbox) {
	for i := 0; i < mailboxBatch; i++ {
		mb.mu.Lock()
		if mb.tasks.Length() == 0 {
			mb.scheduled = false
			mb.mu.Unlock()
			return
		}
		task := mb.tasks.Remove().(Task)
		mb.mu.Unlock()

		atomic.AddInt64(&s.queued, -1)
		try(task)
		s.inflight.Done()
	}

	mb.mu.Lock()
	if mb.tasks.Length() == 0 {
		mb.scheduled = false
		mb.mu.Unlock()
		return
	}
	mb.mu.Unlock()

	// still busy, requeue behind the other mailboxes
	s.ready <- mb
}

// Close stops accepting tasks and waits for accepted tasks to finish until
// ctx is done, then stops the workers. The error of ctx is returned if some
// tasks did not finish in time.
func (s *Scheduler) Close(ctx context.Context) error {
	if atomic.AddInt32(&s.stopped, 1) != 1 {
		return ErrSchedulerClosed
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	var err error
	if atomic.LoadInt32(&s.started) > 0 {
		done := make(chan struct{})
		go func() {
			s.inflight.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	close(s.chDie)
	if err == nil {
		s.wg.Wait()
	}
	return err
}
