package service

import (
	"log/slog"
	"sync"
)

// Pool is a bounded worker pool for background persistence runs. Job
// concurrency is capped by the worker count; submissions beyond the queue
// depth block the submitter rather than spawning unbounded goroutines.
type Pool struct {
	tasks     chan func()
	wg        sync.WaitGroup
	logger    *slog.Logger
	closeOnce sync.Once
}

// NewPool starts workers goroutines consuming the task queue.
func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		tasks:  make(chan func(), workers*16),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit queues a task for execution. Tasks run FIFO.
func (p *Pool) Submit(task func()) {
	p.tasks <- task
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.tasks) })
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.runTask(id, task)
	}
}

// runTask isolates panics so one bad job cannot take down the pool.
func (p *Pool) runTask(id int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", "worker", id, "panic", r)
		}
	}()
	task()
}
