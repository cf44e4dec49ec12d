package pool

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrSaturated is returned by Submit when the admission queue is full.
// Callers are expected to treat a rejection as backpressure and try again on
// a later poll, not to block or buffer the task themselves.
var ErrSaturated = errors.New("worker pool saturated")

var ErrShutdown = errors.New("worker pool has been shut down")

// WorkerPool executes submitted tasks on a fixed set of goroutines with a
// bounded admission queue. Submissions that do not fit in the queue are
// rejected rather than queued unboundedly or blocked on.
type WorkerPool struct {
	tasks    chan func()
	wg       sync.WaitGroup
	mu       sync.Mutex
	shutdown bool
}

func NewWorkerPool(workers int, queueCapacity int) *WorkerPool {
	p := &WorkerPool{
		tasks: make(chan func(), queueCapacity),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.runTask(task)
	}
}

func (p *WorkerPool) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Worker pool task panicked: %v", r)
		}
	}()
	task()
}

// Submit enqueues task for execution. Returns ErrSaturated if the admission
// queue is full and ErrShutdown if the pool is no longer accepting work.
func (p *WorkerPool) Submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return ErrShutdown
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrSaturated
	}
}

// Running reports whether the pool is accepting submissions.
func (p *WorkerPool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.shutdown
}

// Shutdown stops accepting new tasks and waits up to timeout for queued and
// in-flight tasks to finish. Returns true if the wait timed out, in which
// case any still-running tasks are abandoned rather than interrupted.
func (p *WorkerPool) Shutdown(timeout time.Duration) bool {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return false
	}
	p.shutdown = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()
	select {
	case <-done:
		return false
	case <-time.After(timeout):
		return true
	}
}
