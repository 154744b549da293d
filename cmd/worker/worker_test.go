package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/queue"
)

// MockQueue records published jobs
type MockQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (m *MockQueue) Publish(_ string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, payload.(queue.Job))
	return nil
}

func (m *MockQueue) Subscribe(string, func(any) error) error { return nil }

func (m *MockQueue) kinds() map[queue.JobKind]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[queue.JobKind]int{}
	for _, j := range m.jobs {
		out[j.Kind]++
	}
	return out
}

func TestRunSchedule(t *testing.T) {
	q := &MockQueue{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		runSchedule(ctx, q, config.ScheduleConfig{
			ProcessEvery: 5 * time.Millisecond,
			RetryEvery:   5 * time.Millisecond,
			CleanupEvery: 0, // disabled
		}, logger.Discard())
		close(done)
	}()

	require.Eventually(t, func() bool {
		k := q.kinds()
		return k[queue.JobProcessPending] >= 2 && k[queue.JobRetryFailed] >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runSchedule did not stop after cancel")
	}
	assert.Zero(t, q.kinds()[queue.JobCleanup])
}

func TestWorker(t *testing.T) {
	// scheduled jobs flow through the in-memory queue into the runner
	q := queue.NewInMemoryQueue(logger.Discard())
	p := &countingPipeline{}
	runner := &queue.JobRunner{
		Scheduler: p, Retrier: p, Cleaner: p,
		BatchSize: 25, MaxRetries: 3, RetentionDays: 90,
		Logger: logger.Discard(),
	}
	require.NoError(t, queue.StartJobSubscriber(context.Background(), q, runner))

	ctx, cancel := context.WithCancel(context.Background())
	go runSchedule(ctx, q, config.ScheduleConfig{ProcessEvery: 5 * time.Millisecond}, logger.Discard())

	defer cancel()

	require.Eventually(t, func() bool { return p.processed() >= 1 }, time.Second, 5*time.Millisecond)
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 25, p.lastBatch)
}

type countingPipeline struct {
	mu        sync.Mutex
	calls     int
	lastBatch int
}

func (c *countingPipeline) processed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *countingPipeline) ProcessPendingJobs(_ context.Context, n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastBatch = n
	return 0
}

func (c *countingPipeline) RetryFailedJobs(context.Context, int) int { return 0 }

func (c *countingPipeline) CleanupOldJobs(context.Context, int) (int64, error) { return 0, nil }
