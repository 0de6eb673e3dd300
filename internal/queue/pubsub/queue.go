// Package pubsub adapts Google Cloud Pub/Sub to the pipeline queue
// contract for deployments with a durable broker. Retry backoff and
// dead-lettering are delegated to the subscription's own policy; the
// worker still decides when to nack.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	gcppubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/civictext/permitbot/internal/pipeline"
)

// Config names the broker resources.
type Config struct {
	ProjectID    string
	Topic        string
	Subscription string
}

type delivery struct {
	job pipeline.Job
	msg *gcppubsub.Message
}

// Queue implements pipeline.Queue on a Pub/Sub topic/subscription pair.
type Queue struct {
	client       *gcppubsub.Client
	topic        *gcppubsub.Topic
	deliveries   chan delivery
	recvCancel   context.CancelFunc
	receiverDown atomic.Bool
	logger       *zap.Logger
}

// NewQueue connects to Pub/Sub and starts pulling from the
// subscription into an internal hand-off channel.
func NewQueue(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" || cfg.Subscription == "" {
		return nil, fmt.Errorf("pubsub project, topic and subscription are required")
	}
	client, err := gcppubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	recvCtx, recvCancel := context.WithCancel(context.Background())
	q := &Queue{
		client:     client,
		topic:      client.Topic(cfg.Topic),
		deliveries: make(chan delivery),
		recvCancel: recvCancel,
		logger:     logger,
	}

	sub := client.Subscription(cfg.Subscription)
	go func() {
		err := sub.Receive(recvCtx, q.handleMessage)
		if recvCtx.Err() != nil {
			return
		}
		// The receiver died outside shutdown. Mark the queue
		// unhealthy so readiness reports it and new publishes are
		// refused instead of blackholed.
		q.receiverDown.Store(true)
		logger.Error("pubsub receive stopped", zap.Error(err))
	}()

	return q, nil
}

// Ready reports whether the subscription receiver is still pulling.
func (q *Queue) Ready() bool {
	return !q.receiverDown.Load()
}

func (q *Queue) handleMessage(ctx context.Context, msg *gcppubsub.Message) {
	var job pipeline.Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		// A malformed payload can never succeed; drop it rather
		// than poison the subscription.
		q.logger.Error("dropping malformed job payload", zap.Error(err))
		msg.Ack()
		return
	}
	if msg.DeliveryAttempt != nil && *msg.DeliveryAttempt > 1 {
		job.Attempt = *msg.DeliveryAttempt - 1
	}
	select {
	case q.deliveries <- delivery{job: job, msg: msg}:
	case <-ctx.Done():
		msg.Nack()
	}
}

// Enqueue publishes the job and waits for broker acknowledgement so a
// lost publish surfaces to the caller. A dead receiver refuses new
// jobs: accepting work nothing will pull silently drops commands.
func (q *Queue) Enqueue(ctx context.Context, job pipeline.Job) error {
	if q.receiverDown.Load() {
		return fmt.Errorf("pubsub receiver stopped: %w", pipeline.ErrQueueClosed)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	result := q.topic.Publish(ctx, &gcppubsub.Message{Data: payload})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Dequeue hands over the next pulled message. Ack settles it with the
// broker; Nack returns it for broker-scheduled redelivery.
func (q *Queue) Dequeue(ctx context.Context) (pipeline.Delivery, error) {
	select {
	case <-ctx.Done():
		return pipeline.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case d, ok := <-q.deliveries:
		if !ok {
			return pipeline.Delivery{}, pipeline.ErrQueueClosed
		}
		return pipeline.Delivery{
			Job: d.job,
			Ack: func(context.Context) error {
				d.msg.Ack()
				return nil
			},
			Nack: func(_ context.Context, reason string) error {
				q.logger.Warn("nacking job to broker",
					zap.String("job_id", d.job.ID),
					zap.String("reason", reason),
				)
				d.msg.Nack()
				return nil
			},
		}, nil
	}
}

// Close stops the receiver, flushes pending publishes, and closes the
// client.
func (q *Queue) Close() error {
	q.recvCancel()
	q.topic.Stop()
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
