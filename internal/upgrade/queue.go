package upgrade

import (
	"context"
	"errors"
	"sync"

	"github.com/HerbHall/panupgrade/pkg/models"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Submit when no slot is free.
	ErrQueueFull = errors.New("upgrade queue is full")
	// ErrQueueStopped is returned by Submit before Start or after Stop.
	ErrQueueStopped = errors.New("upgrade queue is not running")
	// ErrAlreadyQueued is returned when the job is queued or running.
	ErrAlreadyQueued = errors.New("job already queued")
)

// RunFunc executes one workflow.
type RunFunc func(ctx context.Context, req Request) models.JobStatus

// Queue is a bounded worker pool running one workflow per job.
type Queue struct {
	run     RunFunc
	workers int
	logger  *zap.Logger
	pending chan Request

	mu      sync.Mutex
	cancels map[string]chan struct{}
	running bool
	ctx     context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewQueue returns a stopped Queue with size pending slots.
func NewQueue(run RunFunc, workers, size int, logger *zap.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		run:     run,
		workers: workers,
		logger:  logger,
		pending: make(chan Request, size),
		cancels: make(map[string]chan struct{}),
	}
}

// Start launches the workers.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.ctx, q.stop = context.WithCancel(context.Background())
	q.running = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(q.ctx)
	}
	q.logger.Info("upgrade workers started", zap.Int("workers", q.workers))
}

// Stop asks running workflows to end at their next phase boundary and
// waits for the phase in flight to finish, or for ctx to end. Jobs still
// pending keep their pending status.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.stop()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		select {
		case req := <-q.pending:
			delete(q.cancels, req.JobID)
		default:
			q.logger.Info("upgrade workers stopped")
			return nil
		}
	}
}

// Submit enqueues req. The queue owns req.Cancel.
func (q *Queue) Submit(req Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return ErrQueueStopped
	}
	if _, ok := q.cancels[req.JobID]; ok {
		return ErrAlreadyQueued
	}
	cancel := make(chan struct{})
	req.Cancel = cancel
	select {
	case q.pending <- req:
	default:
		return ErrQueueFull
	}
	q.cancels[req.JobID] = cancel
	return nil
}

// Cancel asks a queued or running job to stop at its next phase boundary.
// It reports whether the job was known to the queue.
func (q *Queue) Cancel(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	cancel, ok := q.cancels[jobID]
	if !ok {
		return false
	}
	select {
	case <-cancel:
	default:
		close(cancel)
	}
	return true
}

// Active returns the number of jobs queued or running.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cancels)
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-q.pending:
			if ctx.Err() != nil {
				q.forget(req.JobID)
				return
			}
			q.execute(ctx, req)
		}
	}
}

func (q *Queue) execute(ctx context.Context, req Request) {
	defer q.forget(req.JobID)
	status := q.run(ctx, req)
	q.logger.Debug("upgrade job finished",
		zap.String("job_id", req.JobID),
		zap.String("status", string(status)),
	)
}

func (q *Queue) forget(jobID string) {
	q.mu.Lock()
	delete(q.cancels, jobID)
	q.mu.Unlock()
}
