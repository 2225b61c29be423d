package jobqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PixelBoost/internal/pkg/cache/cachetest"
)

const isolatedJobQueueTestRedisDB = 14

// TestNewQueue tests the queue constructor
func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 3},
		{"Negative workers", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueueWithClient(nil, tt.workers)

			assert.NotNil(t, queue)
			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.Equal(t, tt.expectedWorkers, cap(queue.workerPool))
			assert.NotNil(t, queue.stopCh)
			assert.False(t, queue.running)
			assert.IsType(t, LogDeadLetterSink{}, queue.deadLetter)
		})
	}
}

func TestConstants(t *testing.T) {
	assert.Equal(t, "job:", JobKeyPrefix)
	assert.Equal(t, "job_queue", JobQueueKey)
	assert.Equal(t, "job_processing", JobProcessingKey)
	assert.Equal(t, "job_stats", JobStatsKey)

	assert.Equal(t, 3, DefaultMaxRetries)
	assert.Equal(t, 24*time.Hour, JobTTL)
}

func TestQueue_RegisterReplacesHandler(t *testing.T) {
	q := NewQueueWithClient(nil, 1)
	q.Register(JobTypeCreditApply, func(context.Context, *Job) error { return errors.New("first") })
	q.Register(JobTypeCreditApply, func(context.Context, *Job) error { return nil })

	h, sink, _ := q.handlerFor(JobTypeCreditApply)
	require.NotNil(t, h)
	assert.NoError(t, h(context.Background(), &Job{}))
	assert.NotNil(t, sink)

	h, _, _ = q.handlerFor(JobTypeWebhookReconcile)
	assert.Nil(t, h)

	q.SetDeadLetterSink(nil)
	_, sink, _ = q.handlerFor(JobTypeCreditApply)
	assert.IsType(t, LogDeadLetterSink{}, sink)
}

type recordingSink struct {
	mu   sync.Mutex
	jobs []*Job
}

func (s *recordingSink) Publish(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs = append(s.jobs, &cp)
	return nil
}

func (s *recordingSink) all() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Job(nil), s.jobs...)
}

func TestQueue_ProcessesRegisteredJob(t *testing.T) {
	rdb := cachetest.NewIsolatedClient(t, isolatedJobQueueTestRedisDB)
	q := NewQueueWithClient(rdb, 2)

	var seen atomic.Value
	q.Register(JobTypeCreditApply, func(_ context.Context, job *Job) error {
		p, err := CreditApplyJobPayloadFromMap(job.Payload)
		if err != nil {
			return err
		}
		seen.Store(p.EventID)
		return nil
	})

	q.Start()
	t.Cleanup(q.Stop)

	job, err := q.EnqueueCreditApply(CreditApplyJobPayload{WebhookEventID: 7, Provider: "paddle", EventID: "evt_queue"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return seen.Load() == "evt_queue" }, 5*time.Second, 20*time.Millisecond)

	ctx := context.Background()
	require.Eventually(t, func() bool {
		_, err := q.GetJob(ctx, job.ID)
		return err != nil
	}, 5*time.Second, 20*time.Millisecond, "completed job should be removed")

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[JobStatusCompleted])
}

func TestQueue_DeadLettersAfterRetries(t *testing.T) {
	rdb := cachetest.NewIsolatedClient(t, isolatedJobQueueTestRedisDB)
	q := NewQueueWithClient(rdb, 1)
	q.SetRetryDelay(10 * time.Millisecond)
	sink := &recordingSink{}
	q.SetDeadLetterSink(sink)

	var attempts int32
	q.Register(JobTypeCreditApply, func(context.Context, *Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("ledger unavailable")
	})

	q.Start()
	t.Cleanup(q.Stop)

	job, err := q.EnqueueCreditApply(CreditApplyJobPayload{EventID: "evt_dead"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 10*time.Second, 20*time.Millisecond)

	dead := sink.all()[0]
	assert.Equal(t, job.ID, dead.ID)
	assert.Equal(t, JobStatusDead, dead.Status)
	assert.Equal(t, DefaultMaxRetries, dead.RetryCount)
	assert.Equal(t, "ledger unavailable", dead.ErrorMsg)
	assert.Equal(t, int32(DefaultMaxRetries), atomic.LoadInt32(&attempts))

	stored, err := q.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusDead, stored.Status)
}

func TestQueue_UnknownJobTypeIsDeadLettered(t *testing.T) {
	rdb := cachetest.NewIsolatedClient(t, isolatedJobQueueTestRedisDB)
	q := NewQueueWithClient(rdb, 1)
	q.SetRetryDelay(time.Millisecond)
	sink := &recordingSink{}
	q.SetDeadLetterSink(sink)

	q.Start()
	t.Cleanup(q.Stop)

	_, err := q.EnqueueJob(JobType("nope"), map[string]interface{}{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 10*time.Second, 20*time.Millisecond)
	assert.Contains(t, sink.all()[0].ErrorMsg, "unknown job type")
}

func TestQueue_RecoverStuckJobs(t *testing.T) {
	rdb := cachetest.NewIsolatedClient(t, isolatedJobQueueTestRedisDB)
	q := NewQueueWithClient(rdb, 1)
	ctx := context.Background()

	job, err := q.EnqueueJob(JobTypeWebhookReconcile, WebhookReconcileJobPayload{Limit: 1}.ToMap())
	require.NoError(t, err)

	// Simulate a worker that crashed mid-job an hour ago.
	moved, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	moved.MarkAsProcessing()
	old := time.Now().Add(-time.Hour)
	moved.ProcessedAt = &old
	q.updateJob(ctx, moved)

	q.recoverStuckJobs(ctx, 10*time.Minute, time.Now())

	processing, err := q.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), processing)
	pending, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, stored.Status)
	assert.Equal(t, "recovered by sweeper", stored.ErrorMsg)
}
