package dispatch

import (
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Ordered is a dispatcher that executes work items one at a time, in the
// order they were submitted. It is the single-writer mechanism protecting
// state that must never be mutated concurrently.
type Ordered struct {
	mtx     sync.Mutex
	cond    *sync.Cond
	queue   []func()
	started bool
	quit    bool
	done    chan struct{}
}

// NewOrdered returns a new ordered dispatcher. Start must be called before
// submitting work.
func NewOrdered() *Ordered {
	o := &Ordered{done: make(chan struct{})}
	o.cond = sync.NewCond(&o.mtx)
	return o
}

// Start launches the dispatcher worker. Calling Start on a running
// dispatcher is a no-op.
func (o *Ordered) Start() {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	if o.started {
		return
	}
	o.started = true
	o.quit = false
	o.done = make(chan struct{})
	go o.run()
}

// Stop terminates the worker after the currently executing item, discarding
// any queued items. It blocks until the worker has exited.
func (o *Ordered) Stop() {
	o.mtx.Lock()
	if !o.started {
		o.mtx.Unlock()
		return
	}
	o.quit = true
	o.started = false
	done := o.done
	o.cond.Signal()
	o.mtx.Unlock()

	<-done
}

// Do submits a work item for serialized execution. Items submitted after
// Stop are dropped.
func (o *Ordered) Do(work func()) {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	if o.quit || !o.started {
		return
	}
	o.queue = append(o.queue, work)
	o.cond.Signal()
}

func (o *Ordered) run() {
	for {
		o.mtx.Lock()
		for len(o.queue) == 0 && !o.quit {
			o.cond.Wait()
		}
		if o.quit {
			o.queue = nil
			done := o.done
			o.mtx.Unlock()
			close(done)
			return
		}
		work := o.queue[0]
		o.queue[0] = nil
		o.queue = o.queue[1:]
		o.mtx.Unlock()

		work()
	}
}

// Concurrent is a dispatcher for data-parallel workloads. Execute fans tasks
// out over a bounded number of workers and joins them, returning the first
// error encountered.
type Concurrent struct {
	workers int
}

// NewConcurrent returns a concurrent dispatcher with the given number of
// worker slots. A non-positive count selects one slot per CPU.
func NewConcurrent(workers int) *Concurrent {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Concurrent{workers: workers}
}

// Size returns the number of worker slots.
func (c *Concurrent) Size() int {
	return c.workers
}

// Execute runs all tasks across the worker slots and blocks until every task
// has completed. The first non-nil error is returned; remaining tasks still
// run to completion so that no task is silently skipped.
func (c *Concurrent) Execute(tasks []func() error) error {
	if len(tasks) == 0 {
		return nil
	}

	taskChan := make(chan func() error)
	var group errgroup.Group

	workers := c.workers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	for i := 0; i < workers; i++ {
		group.Go(func() error {
			var firstErr error
			for task := range taskChan {
				if err := task(); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		})
	}

	for _, task := range tasks {
		taskChan <- task
	}
	close(taskChan)

	return group.Wait()
}
