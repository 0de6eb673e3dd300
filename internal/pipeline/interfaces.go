package pipeline

import (
	"context"
	"errors"
	"time"
)

// ErrQueueClosed is returned by queue operations after shutdown.
var ErrQueueClosed = errors.New("queue closed")

// Delivery wraps a claimed job with its settlement callbacks. Exactly
// one of Ack or Nack must be called per delivery.
type Delivery struct {
	Job Job

	// Ack removes the job permanently (terminal success or a
	// business outcome that should not be retried).
	Ack func(ctx context.Context) error

	// Nack reports a failed attempt. The queue re-delivers after
	// backoff, or dead-letters once the attempt ceiling is hit.
	Nack func(ctx context.Context, reason string) error
}

// Queue provides enqueue/claim semantics for jobs. Implementations
// back onto an in-memory channel or a durable broker.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Delivery, error)
}

// SmsSender is the outbound SMS capability, fire-and-forget.
type SmsSender interface {
	SendSms(ctx context.Context, phoneNumber, body string) error
}

// CounterStore is an atomic counter with expiry, the only state the
// rate limiter needs. Redis INCR/EXPIRE satisfies it.
type CounterStore interface {
	// IncrWithTTL atomically increments key and sets ttl when the
	// increment created the key. Returns the post-increment count.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// ScreenshotStore persists failure screenshots and returns a URI.
type ScreenshotStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// AuditStore records job lifecycle transitions for operators.
// Implementations must be safe to call best-effort.
type AuditStore interface {
	RecordTransition(ctx context.Context, jobID string, status JobStatus, attempt int, detail string) error
}

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
