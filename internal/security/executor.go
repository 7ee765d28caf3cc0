package security

import (
	"errors"
	"sync"
)

// ErrExecutorClosed is returned when work is submitted to a closed executor.
var ErrExecutorClosed = errors.New("executor closed")

// Executor runs authentication work off the caller's goroutine.
type Executor interface {
	// Execute schedules task. It returns an error if the executor cannot
	// accept more work.
	Execute(task func()) error
}

// inlineExecutor runs tasks synchronously on the submitting goroutine.
type inlineExecutor struct{}

var _ Executor = (*inlineExecutor)(nil)

// NewInlineExecutor returns an Executor that runs each task inline.
func NewInlineExecutor() Executor {
	return &inlineExecutor{}
}

// Execute runs task before returning.
func (e *inlineExecutor) Execute(task func()) error {
	task()
	return nil
}

// goExecutor spawns one goroutine per task.
type goExecutor struct{}

var _ Executor = (*goExecutor)(nil)

// NewGoroutineExecutor returns an Executor that runs each task on its own
// goroutine.
func NewGoroutineExecutor() Executor {
	return &goExecutor{}
}

// Execute starts task on a new goroutine.
func (e *goExecutor) Execute(task func()) error {
	go task()
	return nil
}

// WorkerPool is a bounded Executor backed by a fixed set of goroutines.
// Submitting to a full pool blocks until a worker frees up, which gives
// natural backpressure when credential verification is slow.
type WorkerPool struct {
	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

var _ Executor = (*WorkerPool)(nil)

// NewWorkerPool starts a pool with the given number of workers and queue
// capacity. Worker and queue sizes below one are clamped to one.
func NewWorkerPool(workers, queue int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queue < 1 {
		queue = 1
	}

	p := &WorkerPool{
		tasks: make(chan func(), queue),
		done:  make(chan struct{}),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case task := <-p.tasks:
			task()
		case <-p.done:
			// Drain tasks that were queued before Close.
			for {
				select {
				case task := <-p.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// Execute enqueues task, blocking while the queue is full.
func (p *WorkerPool) Execute(task func()) error {
	select {
	case <-p.done:
		return ErrExecutorClosed
	default:
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.done:
		return ErrExecutorClosed
	}
}

// Close stops accepting work and waits for queued tasks to drain.
func (p *WorkerPool) Close() {
	p.once.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}
