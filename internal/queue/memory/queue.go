// Package memory provides the queue implementation used for local
// deployments: a bounded channel with explicit ack/nack settlement,
// jittered backoff redelivery, and a dead-letter sink.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/civictext/permitbot/internal/pipeline"
)

// DeadLetterFunc receives jobs that exhausted their retry budget.
type DeadLetterFunc func(job pipeline.Job, reason string)

// Queue is a bounded in-memory job queue with context-aware
// operations. The job channel is never closed; shutdown is signaled
// through done so a sender parked inside Enqueue can never hit a
// closed channel.
type Queue struct {
	ch         chan pipeline.Job
	done       chan struct{}
	policy     pipeline.RetryPolicy
	deadLetter DeadLetterFunc
	logger     *zap.Logger

	closeOnce    sync.Once
	redeliveries sync.WaitGroup
}

// NewQueue constructs a queue with the provided capacity and retry
// policy. deadLetter may be nil.
func NewQueue(capacity int, policy pipeline.RetryPolicy, deadLetter DeadLetterFunc, logger *zap.Logger) *Queue {
	return &Queue{
		ch:         make(chan pipeline.Job, capacity),
		done:       make(chan struct{}),
		policy:     policy,
		deadLetter: deadLetter,
		logger:     logger,
	}
}

// Enqueue pushes a job or returns when the context ends or the queue
// closes, even when the push was already parked on a full channel.
func (q *Queue) Enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-q.done:
		return pipeline.ErrQueueClosed
	default:
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return pipeline.ErrQueueClosed
	case q.ch <- job:
		return nil
	}
}

// Dequeue claims the next job. The returned delivery must be settled
// exactly once via Ack or Nack.
func (q *Queue) Dequeue(ctx context.Context) (pipeline.Delivery, error) {
	select {
	case <-ctx.Done():
		return pipeline.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return pipeline.Delivery{}, pipeline.ErrQueueClosed
	case job := <-q.ch:
		return pipeline.Delivery{
			Job:  job,
			Ack:  func(context.Context) error { return nil },
			Nack: q.nackFunc(job),
		}, nil
	}
}

// nackFunc builds the settlement closure for one claimed job: requeue
// after backoff while attempts remain, dead-letter once exhausted.
func (q *Queue) nackFunc(job pipeline.Job) func(context.Context, string) error {
	return func(ctx context.Context, reason string) error {
		attempted := job
		attempted.Attempt++

		if q.policy.Exhausted(attempted.Attempt) {
			q.logger.Error("job dead-lettered",
				zap.String("job_id", job.ID),
				zap.Int("attempts", attempted.Attempt),
				zap.String("reason", reason),
			)
			if q.deadLetter != nil {
				q.deadLetter(attempted, reason)
			}
			return nil
		}

		delay := q.policy.Backoff(attempted.Attempt)
		q.logger.Warn("job requeued",
			zap.String("job_id", job.ID),
			zap.Int("attempt", attempted.Attempt),
			zap.Duration("backoff", delay),
			zap.String("reason", reason),
		)

		q.redeliveries.Add(1)
		go func() {
			defer q.redeliveries.Done()
			select {
			case <-q.done:
				return
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if err := q.Enqueue(ctx, attempted); err != nil {
				q.logger.Error("redelivery failed",
					zap.String("job_id", attempted.ID),
					zap.Error(err),
				)
			}
		}()
		return nil
	}
}

// Close signals shutdown and waits for pending redelivery timers to
// observe it. Safe to call more than once; returns without waiting out
// any backoff delay.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	q.redeliveries.Wait()
}
