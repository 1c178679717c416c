// Package pool runs submitted jobs on a bounded set of workers and lets a
// single coordinating loop poll for their completion by handle.
package pool

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Handle identifies one submitted job.
type Handle string

type job struct {
	done chan struct{}
	err  error
}

// Pool caps concurrent job executions. Submit never blocks the caller; the
// per-job goroutine waits for a worker slot instead. The caller is expected
// to track outstanding handles and keep submissions within capacity.
type Pool struct {
	sem  chan struct{}
	wg   sync.WaitGroup
	mu   sync.Mutex
	jobs map[Handle]*job
}

// New builds a pool executing at most maxWorkers jobs concurrently.
func New(maxWorkers int) (*Pool, error) {
	if maxWorkers < 1 {
		return nil, fmt.Errorf("max workers must be >= 1, got %d", maxWorkers)
	}
	return &Pool{
		sem:  make(chan struct{}, maxWorkers),
		jobs: make(map[Handle]*job),
	}, nil
}

// Submit enqueues fn and returns its handle without blocking. A panicking
// job is converted to an error so it terminates only its own worker.
func (p *Pool) Submit(fn func() error) Handle {
	h := Handle(uuid.NewString())
	j := &job{done: make(chan struct{})}

	p.mu.Lock()
	p.jobs[h] = j
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		defer close(j.done)
		defer func() {
			if r := recover(); r != nil {
				j.err = fmt.Errorf("job panic: %v", r)
			}
		}()
		j.err = fn()
	}()
	return h
}

// Done reports whether the job behind h has finished. Unknown (already
// consumed) handles report false.
func (p *Pool) Done(h Handle) bool {
	p.mu.Lock()
	j, ok := p.jobs[h]
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Err blocks until the job behind h finishes and returns its terminal
// error. The handle is consumed: a second call returns nil.
func (p *Pool) Err(h Handle) error {
	p.mu.Lock()
	j, ok := p.jobs[h]
	if ok {
		delete(p.jobs, h)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	<-j.done
	return j.err
}

// Drain waits for every submitted job to finish. Outcomes stay readable
// through Err afterwards.
func (p *Pool) Drain() {
	p.wg.Wait()
}
