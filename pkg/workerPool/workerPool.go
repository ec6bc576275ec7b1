package workerpool

import (
	"errors"
	"runtime"
	"sync"
)

var (
	ErrGlobalBufferFull = errors.New("global buffer is full, wait for tasks to finish or increase GlobalBuffer")
	ErrRoomBufferFull   = errors.New("room buffer is full, wait for tasks to finish or increase the room size")
	ErrStopped          = errors.New("worker pool is stopped")
)

type WorkerPool struct {
	config    Config
	taskQueue chan func()

	mu      sync.RWMutex
	stopped bool
	workers sync.WaitGroup
}

type Config struct {
	// WorkerCount defaults to three workers per CPU.
	WorkerCount  int
	GlobalBuffer int
}

// Room groups the tasks of one caller and collects their results.
type Room[T any] struct {
	wp         *WorkerPool
	resultChan chan T
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

func NewWorkerPool(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU() * 3
	}
	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 10000
	}

	wp := &WorkerPool{
		config:    config,
		taskQueue: make(chan func(), config.GlobalBuffer),
	}

	wp.workers.Add(config.WorkerCount)
	for i := 0; i < config.WorkerCount; i++ {
		go wp.worker()
	}
	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.workers.Done()
	for task := range wp.taskQueue {
		task()
	}
}

func (wp *WorkerPool) WorkerCount() int {
	return wp.config.WorkerCount
}

// Stop lets the workers drain the queue and waits for them. Tasks submitted
// after Stop fail with ErrStopped.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.taskQueue)
	wp.mu.Unlock()

	wp.workers.Wait()
}

func (wp *WorkerPool) submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return ErrStopped
	}
	wp.taskQueue <- task
	return nil
}

// CreateRoom returns a room whose result buffer holds size results.
func CreateRoom[T any](wp *WorkerPool, size int) *Room[T] {
	return &Room[T]{
		wp:         wp,
		resultChan: make(chan T, size),
	}
}

// NewTaskWaitForFreeSlot blocks until the global queue accepts job.
func (ro *Room[T]) NewTaskWaitForFreeSlot(job func() T) error {
	ro.wg.Add(1)
	err := ro.wp.submit(func() {
		defer ro.wg.Done()
		ro.resultChan <- job()
	})
	if err != nil {
		ro.wg.Done()
	}
	return err
}

// NewTask is NewTaskWaitForFreeSlot that fails instead of blocking.
func (ro *Room[T]) NewTask(job func() T) error {
	if len(ro.wp.taskQueue) == cap(ro.wp.taskQueue) {
		return ErrGlobalBufferFull
	}
	if len(ro.resultChan) == cap(ro.resultChan) {
		return ErrRoomBufferFull
	}
	return ro.NewTaskWaitForFreeSlot(job)
}

// Collect waits for every task of the room and returns the results in
// completion order. No tasks may be added afterwards.
func (ro *Room[T]) Collect() []T {
	go ro.WaitAndClose()

	results := make([]T, 0, cap(ro.resultChan))
	for result := range ro.resultChan {
		results = append(results, result)
	}
	return results
}

func (ro *Room[T]) WaitAndClose() {
	ro.wg.Wait()
	ro.closeOnce.Do(func() { close(ro.resultChan) })
}
