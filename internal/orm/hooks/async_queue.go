package hooks

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrQueueNotStarted is returned by Enqueue before Start
	ErrQueueNotStarted = errors.New("queue not started")
	// ErrQueueShutdown is returned by Enqueue after Shutdown
	ErrQueueShutdown = errors.New("queue shutdown")
)

// AsyncTask is a unit of work for the queue
type AsyncTask struct {
	Name string
	Fn   func(ctx context.Context) error
}

// AsyncQueue runs tasks on a fixed worker pool. Senders hold the read
// lock while sending so that Shutdown never closes the channel under them.
type AsyncQueue struct {
	tasks       chan AsyncTask
	workerCount int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger

	mu       sync.RWMutex
	started  bool
	shutdown bool
}

// NewAsyncQueue creates a queue with workerCount workers (4 when <= 0).
func NewAsyncQueue(workerCount int, logger *zap.Logger) *AsyncQueue {
	if workerCount <= 0 {
		workerCount = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &AsyncQueue{
		tasks:       make(chan AsyncTask, 100),
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
}

// Start launches the workers. It is a no-op when already started.
func (q *AsyncQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return
	}

	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.started = true
}

func (q *AsyncQueue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			q.run(id, task)
		}
	}
}

func (q *AsyncQueue) run(id int, task AsyncTask) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("async task panicked",
				zap.Int("worker", id), zap.String("task", task.Name), zap.Any("panic", r))
		}
	}()

	if err := task.Fn(q.ctx); err != nil {
		q.logger.Warn("async task failed",
			zap.Int("worker", id), zap.String("task", task.Name), zap.Error(err))
	}
}

// Enqueue adds a task, blocking while the buffer is full.
func (q *AsyncQueue) Enqueue(task AsyncTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	switch {
	case !q.started:
		return ErrQueueNotStarted
	case q.shutdown:
		return ErrQueueShutdown
	}

	select {
	case q.tasks <- task:
		return nil
	case <-q.ctx.Done():
		return ErrQueueShutdown
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish.
func (q *AsyncQueue) Shutdown() {
	q.mu.Lock()
	if !q.started || q.shutdown {
		q.mu.Unlock()
		return
	}
	q.shutdown = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
}

// Stop cancels running tasks and returns once the workers exit.
func (q *AsyncQueue) Stop() {
	q.cancel()
	q.wg.Wait()
}
