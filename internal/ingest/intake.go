// Package ingest turns inbound SMS messages into queued jobs. It is
// the synchronous front half of the pipeline: parse, enforce the
// per-sender quota, assign an id, enqueue. Slow portal work never
// happens here.
package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/civictext/permitbot/internal/intent"
	"github.com/civictext/permitbot/internal/metrics"
	"github.com/civictext/permitbot/internal/notify"
	"github.com/civictext/permitbot/internal/pipeline"
	"github.com/civictext/permitbot/internal/ratelimit"
)

// Intake accepts raw inbound messages and enqueues jobs for them.
type Intake struct {
	limiter  *ratelimit.Limiter
	queue    pipeline.Queue
	notifier *notify.Notifier
	ids      pipeline.IDGenerator
	clock    pipeline.Clock
	logger   *zap.Logger
}

// New constructs an Intake.
func New(
	limiter *ratelimit.Limiter,
	queue pipeline.Queue,
	notifier *notify.Notifier,
	ids pipeline.IDGenerator,
	clock pipeline.Clock,
	logger *zap.Logger,
) *Intake {
	return &Intake{
		limiter:  limiter,
		queue:    queue,
		notifier: notifier,
		ids:      ids,
		clock:    clock,
		logger:   logger,
	}
}

// Result reports what happened to one inbound message.
type Result struct {
	JobID       string
	Command     pipeline.CommandType
	RateLimited bool
}

// Handle parses one inbound message and either enqueues a job or, when
// the sender is over quota, replies immediately and drops it. Rate
// limiting counts every inbound message regardless of command type.
func (i *Intake) Handle(ctx context.Context, from, body string) (Result, error) {
	phone := pipeline.NormalizePhone(from)
	command := intent.Parse(body)
	metrics.ObserveCommand(string(command.Type))

	i.logger.Info("inbound message",
		zap.String("phone", phone),
		zap.String("command", string(command.Type)),
	)

	if !i.limiter.CheckAllowed(ctx, phone) {
		metrics.ObserveRateLimitRejection()
		status := i.limiter.Status(ctx, phone)
		if err := i.notifier.SendRateLimited(ctx, phone, status); err != nil {
			i.logger.Error("rate limit reply failed", zap.String("phone", phone), zap.Error(err))
		}
		return Result{Command: command.Type, RateLimited: true}, nil
	}
	i.limiter.RecordAction(ctx, phone)

	id, err := i.ids.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("generate job id: %w", err)
	}

	job := pipeline.Job{
		ID:              id,
		PhoneNumber:     phone,
		Command:         command,
		OriginalMessage: body,
		EnqueuedAt:      i.clock.Now(),
	}
	if err := i.queue.Enqueue(ctx, job); err != nil {
		return Result{}, fmt.Errorf("enqueue job %s: %w", id, err)
	}
	metrics.ObserveJob(string(command.Type), string(pipeline.JobStatusQueued))

	return Result{JobID: id, Command: command.Type}, nil
}
