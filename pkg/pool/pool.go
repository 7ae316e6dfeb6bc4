// Package pool provides the fixed-size worker pool the fitting engine uses
// to run one task per voxel.
//
// Submission never blocks: work is appended to an unbounded FIFO and picked
// up by whichever worker is free. Drain waits for everything submitted so
// far and shuts the workers down, after which the pool rejects new work.
package pool

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Enqueue once Drain has been called.
var ErrClosed = errors.New("pool: enqueue on drained pool")

// Pool runs enqueued closures on a fixed number of worker goroutines.
type Pool struct {
	size int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	head   int
	closed bool

	g      errgroup.Group
	once   sync.Once
	panics atomic.Int64
	done   atomic.Int64
}

// New starts a pool with size workers. A size of 0 (or less) uses the
// number of CPUs reported by the runtime.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{size: size}
	p.cond = sync.NewCond(&p.mu)
	for range size {
		p.g.Go(p.worker)
	}
	return p
}

// Size returns the number of workers
func (p *Pool) Size() int { return p.size }

// Enqueue adds work to the queue and returns immediately.
func (p *Pool) Enqueue(work func()) error {
	if work == nil {
		return fmt.Errorf("pool: nil work item")
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.queue = append(p.queue, work)
	p.mu.Unlock()
	p.cond.Signal()
	return nil
}

// Drain blocks until every enqueued item has run, then stops the workers.
// It is safe to call more than once.
func (p *Pool) Drain() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cond.Broadcast()
	})
	_ = p.g.Wait()
}

// Completed returns the number of work items that have finished, including
// ones that panicked.
func (p *Pool) Completed() int64 { return p.done.Load() }

// Panics returns the number of work items that panicked.
func (p *Pool) Panics() int64 { return p.panics.Load() }

func (p *Pool) worker() error {
	for {
		work, ok := p.next()
		if !ok {
			return nil
		}
		p.run(work)
	}
}

// next pops the oldest item, waiting while the queue is empty. It reports
// false once the pool is closed and the queue has been emptied.
func (p *Pool) next() (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.head == len(p.queue) {
		if p.closed {
			return nil, false
		}
		p.cond.Wait()
	}
	work := p.queue[p.head]
	p.queue[p.head] = nil
	p.head++
	if p.head == len(p.queue) {
		// Reuse the backing array once the queue has caught up.
		p.queue = p.queue[:0]
		p.head = 0
	}
	return work, true
}

func (p *Pool) run(work func()) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
		}
		p.done.Add(1)
	}()
	work()
}
