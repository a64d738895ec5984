// Package worker implements the Worker Service (spec §4.5): the
// per-engine-process pool that drains check_resource casts off the bus,
// the EngineListener liveness responder, the per-stack cancellation
// registry drivers poll mid-flight, and stop_traversal/stop_all_workers.
package worker

import (
	"runtime"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Pool is a fixed-size group of goroutines draining a task channel,
// generalized from pulumi's per-process thread-group
// (pkg/resource/deploy's newWorkerPool/AddWorker/Wait) into the
// multiplexed pool spec §4.5 describes: many concurrent check_resource
// tasks sharing one bounded set of workers. numWorkers <= 0 defaults to
// runtime.GOMAXPROCS(0).
type Pool struct {
	tasks      chan func() error
	cancel     func()
	numWorkers int

	wg sync.WaitGroup

	mu        sync.Mutex
	err       *multierror.Error
	cancelled bool

	closeOnce sync.Once
}

// NewPool starts numWorkers goroutines. cancel, if non-nil, is invoked
// the first time any task returns an error, so a caller that derived its
// context from a cancellable one can unwind in-flight work.
func NewPool(numWorkers int, cancel func()) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		tasks:      make(chan func() error),
		cancel:     cancel,
		numWorkers: numWorkers,
	}
	for i := 0; i < numWorkers; i++ {
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	for task := range p.tasks {
		err := task()
		if err != nil {
			p.mu.Lock()
			p.err = multierror.Append(p.err, err)
			cancel := p.cancel
			already := p.cancelled
			p.cancelled = true
			p.mu.Unlock()
			if cancel != nil && !already {
				cancel()
			}
		}
		p.wg.Done()
	}
}

// AddWorker enqueues task, blocking until a worker is free to accept it.
func (p *Pool) AddWorker(task func() error) {
	p.wg.Add(1)
	p.tasks <- task
}

// Wait blocks until every task added so far has completed, returning the
// aggregate of every error any of them returned (nil if none did). When
// shutdown is true the pool stops its workers afterward; no further
// AddWorker call is valid once that happens.
func (p *Pool) Wait(shutdown bool) error {
	p.wg.Wait()

	p.mu.Lock()
	var err error
	if p.err != nil {
		err = p.err.ErrorOrNil()
	}
	p.mu.Unlock()

	if shutdown {
		p.closeOnce.Do(func() { close(p.tasks) })
	}
	return err
}
