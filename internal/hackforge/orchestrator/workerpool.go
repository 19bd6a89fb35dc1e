package orchestrator

import (
	"context"
	"sync"

	"github.com/dimasma0305/hackforge/internal/log"
)

// WorkerPool bounds concurrent container work so a bulk operation over many
// containers never saturates the docker daemon.
type WorkerPool struct {
	workers  int
	taskChan chan func()
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewWorkerPool creates a pool with the given number of workers
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		workers:  workers,
		taskChan: make(chan func(), workers*10),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	log.InfoH3("Starting worker pool with %d workers", wp.workers)

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	log.DebugH3("Worker %d started", id)

	for {
		select {
		case <-wp.ctx.Done():
			log.DebugH3("Worker %d shutting down", id)
			return

		case task, ok := <-wp.taskChan:
			if !ok {
				return
			}
			task()
		}
	}
}

// Submit queues a task. Blocks when the queue is full so producers are
// backpressured rather than tasks dropped.
func (wp *WorkerPool) Submit(task func()) {
	select {
	case wp.taskChan <- task:
	case <-wp.ctx.Done():
	}
}

// Run submits a task and waits for it to finish
func (wp *WorkerPool) Run(task func()) {
	done := make(chan struct{})
	wp.Submit(func() {
		defer close(done)
		task()
	})
	select {
	case <-done:
	case <-wp.ctx.Done():
	}
}

// Stop drains the pool gracefully
func (wp *WorkerPool) Stop() {
	log.InfoH3("Stopping worker pool...")
	wp.cancel()
	close(wp.taskChan)
	wp.wg.Wait()
	log.InfoH3("Worker pool stopped")
}
