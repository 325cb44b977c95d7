package upgrade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// blockingRun holds every workflow until release is closed, then reports
// whether the workflow had been cancelled.
type blockingRun struct {
	started chan string
	release chan struct{}

	mu   sync.Mutex
	seen map[string]models.JobStatus
}

func newBlockingRun() *blockingRun {
	return &blockingRun{
		started: make(chan string, 16),
		release: make(chan struct{}),
		seen:    make(map[string]models.JobStatus),
	}
}

func (b *blockingRun) run(ctx context.Context, req Request) models.JobStatus {
	b.started <- req.JobID
	status := models.JobStatusCompleted
	select {
	case <-b.release:
	case <-ctx.Done():
		status = models.JobStatusErrored
	}
	select {
	case <-req.Cancel:
		status = models.JobStatusErrored
	default:
	}
	b.mu.Lock()
	b.seen[req.JobID] = status
	b.mu.Unlock()
	return status
}

func (b *blockingRun) status(id string) (models.JobStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.seen[id]
	return s, ok
}

func waitStarted(t *testing.T, b *blockingRun) string {
	t.Helper()
	select {
	case id := <-b.started:
		return id
	case <-time.After(time.Second):
		t.Fatal("no workflow started")
		return ""
	}
}

func TestQueue_SubmitBeforeStart(t *testing.T) {
	q := NewQueue(newBlockingRun().run, 1, 1, zap.NewNop())
	assert.ErrorIs(t, q.Submit(Request{JobID: "j1"}), ErrQueueStopped)
}

func TestQueue_RunsAndForgetsJobs(t *testing.T) {
	b := newBlockingRun()
	close(b.release)
	q := NewQueue(b.run, 2, 4, zap.NewNop())
	q.Start()
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	require.NoError(t, q.Submit(Request{JobID: "j1"}))
	require.NoError(t, q.Submit(Request{JobID: "j2"}))

	assert.Eventually(t, func() bool {
		_, ok1 := b.status("j1")
		_, ok2 := b.status("j2")
		return ok1 && ok2 && q.Active() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestQueue_RejectsDuplicatesAndOverflow(t *testing.T) {
	b := newBlockingRun()
	q := NewQueue(b.run, 1, 1, zap.NewNop())
	q.Start()
	t.Cleanup(func() {
		close(b.release)
		_ = q.Stop(context.Background())
	})

	require.NoError(t, q.Submit(Request{JobID: "running"}))
	waitStarted(t, b)

	require.NoError(t, q.Submit(Request{JobID: "queued"}))
	assert.ErrorIs(t, q.Submit(Request{JobID: "queued"}), ErrAlreadyQueued)
	assert.ErrorIs(t, q.Submit(Request{JobID: "overflow"}), ErrQueueFull)
	assert.Equal(t, 2, q.Active())
}

func TestQueue_Cancel(t *testing.T) {
	b := newBlockingRun()
	q := NewQueue(b.run, 1, 2, zap.NewNop())
	q.Start()
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	require.NoError(t, q.Submit(Request{JobID: "j1"}))
	waitStarted(t, b)

	assert.True(t, q.Cancel("j1"))
	assert.True(t, q.Cancel("j1"), "a second cancel is harmless")
	assert.False(t, q.Cancel("unknown"))

	close(b.release)
	assert.Eventually(t, func() bool {
		s, ok := b.status("j1")
		return ok && s == models.JobStatusErrored
	}, time.Second, 5*time.Millisecond)
}

func TestQueue_StopSignalsRunningAndDropsPending(t *testing.T) {
	b := newBlockingRun()
	q := NewQueue(b.run, 1, 2, zap.NewNop())
	q.Start()

	require.NoError(t, q.Submit(Request{JobID: "running"}))
	waitStarted(t, b)
	require.NoError(t, q.Submit(Request{JobID: "pending"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Stop(ctx))

	s, ok := b.status("running")
	require.True(t, ok)
	assert.Equal(t, models.JobStatusErrored, s)
	_, ran := b.status("pending")
	assert.False(t, ran)
	assert.Equal(t, 0, q.Active())
	assert.True(t, errors.Is(q.Submit(Request{JobID: "late"}), ErrQueueStopped))
}

func TestQueue_StopWaitsForPhaseInFlight(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	started := make(chan struct{})
	run := func(_ context.Context, _ Request) models.JobStatus {
		close(started)
		<-release
		close(finished)
		return models.JobStatusErrored
	}
	q := NewQueue(run, 1, 1, zap.NewNop())
	q.Start()
	require.NoError(t, q.Submit(Request{JobID: "j1"}))
	<-started

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Stop(short), context.DeadlineExceeded)
	select {
	case <-finished:
		t.Fatal("phase in flight was abandoned before it finished")
	default:
	}

	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("workflow never finished")
	}
}
