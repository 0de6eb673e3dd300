package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civictext/permitbot/internal/clock/system"
	"github.com/civictext/permitbot/internal/id/uuid"
	"github.com/civictext/permitbot/internal/metrics"
	"github.com/civictext/permitbot/internal/notify"
	"github.com/civictext/permitbot/internal/pipeline"
	"github.com/civictext/permitbot/internal/ratelimit"
)

func init() {
	metrics.Init()
}

type capturingQueue struct {
	jobs []pipeline.Job
	err  error
}

func (q *capturingQueue) Enqueue(_ context.Context, job pipeline.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *capturingQueue) Dequeue(context.Context) (pipeline.Delivery, error) {
	panic("not used")
}

type capturingSender struct {
	bodies []string
}

func (s *capturingSender) SendSms(_ context.Context, _, body string) error {
	s.bodies = append(s.bodies, body)
	return nil
}

func newIntake(t *testing.T, quota int) (*Intake, *capturingQueue, *capturingSender) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := ratelimit.New(
		ratelimit.NewRedisStore(client),
		system.Clock{},
		ratelimit.Config{HourlyQuota: quota, Window: time.Hour},
		zap.NewNop(),
	)
	queue := &capturingQueue{}
	sender := &capturingSender{}
	intake := New(
		limiter,
		queue,
		notify.New(sender, zap.NewNop()),
		uuid.NewGenerator(),
		system.Clock{},
		zap.NewNop(),
	)
	return intake, queue, sender
}

func TestIntakeEnqueuesParsedJob(t *testing.T) {
	t.Parallel()

	intake, queue, sender := newIntake(t, 10)

	res, err := intake.Handle(context.Background(), "+1 (555) 123-4567", "STATUS BLD-2024-00123")
	require.NoError(t, err)
	require.False(t, res.RateLimited)
	require.NotEmpty(t, res.JobID)
	require.Equal(t, pipeline.CommandStatus, res.Command)

	require.Len(t, queue.jobs, 1)
	job := queue.jobs[0]
	require.Equal(t, res.JobID, job.ID)
	require.Equal(t, "+15551234567", job.PhoneNumber)
	require.Equal(t, "BLD-2024-00123", job.Command.Query)
	require.Equal(t, "STATUS BLD-2024-00123", job.OriginalMessage)
	require.False(t, job.EnqueuedAt.IsZero())
	require.Empty(t, sender.bodies)
}

func TestIntakeUnknownCommandStillEnqueued(t *testing.T) {
	t.Parallel()

	intake, queue, _ := newIntake(t, 10)

	res, err := intake.Handle(context.Background(), "5551234567", "good morning")
	require.NoError(t, err)
	require.Equal(t, pipeline.CommandUnknown, res.Command)
	require.Len(t, queue.jobs, 1)
}

func TestIntakeRateLimitRepliesAndDrops(t *testing.T) {
	t.Parallel()

	intake, queue, sender := newIntake(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := intake.Handle(ctx, "5551234567", "LIST")
		require.NoError(t, err)
	}
	require.Len(t, queue.jobs, 2)

	res, err := intake.Handle(ctx, "5551234567", "LIST")
	require.NoError(t, err)
	require.True(t, res.RateLimited)
	require.Empty(t, res.JobID)

	// No third job, one immediate quota reply.
	require.Len(t, queue.jobs, 2)
	require.Len(t, sender.bodies, 1)
	require.Contains(t, sender.bodies[0], "limit")
}

func TestIntakeQuotaSharedAcrossPhoneFormats(t *testing.T) {
	t.Parallel()

	intake, queue, _ := newIntake(t, 2)
	ctx := context.Background()

	_, err := intake.Handle(ctx, "+1 555-123-4567", "LIST")
	require.NoError(t, err)
	_, err = intake.Handle(ctx, "(555) 123 4567", "LIST")
	require.NoError(t, err)

	res, err := intake.Handle(ctx, "15551234567", "LIST")
	require.NoError(t, err)
	require.True(t, res.RateLimited)
	require.Len(t, queue.jobs, 2)
}

func TestIntakeEnqueueErrorPropagates(t *testing.T) {
	t.Parallel()

	intake, queue, _ := newIntake(t, 10)
	queue.err = pipeline.ErrQueueClosed

	_, err := intake.Handle(context.Background(), "5551234567", "LIST")
	require.ErrorIs(t, err, pipeline.ErrQueueClosed)
}
