// Package worker implements the job execution loop: claim, dispatch to
// the matching permit operation, notify, and settle with the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/civictext/permitbot/internal/metrics"
	"github.com/civictext/permitbot/internal/notify"
	"github.com/civictext/permitbot/internal/pipeline"
	"github.com/civictext/permitbot/internal/storage"
)

// PortalSession is the per-job automation surface the worker drives.
// *portal.Session satisfies it; tests substitute fakes.
type PortalSession interface {
	EnsureLoggedIn(ctx context.Context) error
	NavigateToListing(ctx context.Context) error
	SearchByNumber(ctx context.Context, rawNumber string) (pipeline.PermitData, bool, error)
	SearchByAddress(ctx context.Context, address string) (pipeline.PermitData, bool, error)
	ScrapeDetails(ctx context.Context) (pipeline.PermitData, error)
	ListOpenPermits(ctx context.Context, limit int) ([]pipeline.PermitData, error)
	OpenInspectionRequest(ctx context.Context, permitNumber string) (string, bool, error)
	CurrentURL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close()
}

// SessionFactory checks out a fresh isolated session for one job.
type SessionFactory func() (PortalSession, error)

// Config controls Worker behavior.
type Config struct {
	// ListLimit caps rows returned by LIST.
	ListLimit int

	// JobTimeout bounds one job's cumulative automation time.
	JobTimeout time.Duration
}

// Worker consumes queue deliveries and executes the portal pipeline.
type Worker struct {
	queue    pipeline.Queue
	sessions SessionFactory
	notifier *notify.Notifier
	shots    pipeline.ScreenshotStore
	audit    pipeline.AuditStore
	clock    pipeline.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. audit may be nil.
func New(
	queue pipeline.Queue,
	sessions SessionFactory,
	notifier *notify.Notifier,
	shots pipeline.ScreenshotStore,
	audit pipeline.AuditStore,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 5
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	return &Worker{
		queue:    queue,
		sessions: sessions,
		notifier: notifier,
		shots:    shots,
		audit:    audit,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming deliveries until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		delivery, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, pipeline.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.processDelivery(ctx, delivery)
	}
}

func (w *Worker) processDelivery(ctx context.Context, delivery pipeline.Delivery) {
	job := delivery.Job
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	w.recordAudit(ctx, job, pipeline.JobStatusClaimed, "")
	w.logger.Info("job claimed",
		zap.String("job_id", job.ID),
		zap.String("command", string(job.Command.Type)),
		zap.Int("attempt", job.Attempt),
	)

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	err := w.execute(jobCtx, job)
	cancel()

	// Settlement and outbound messages must survive a job context
	// that died mid-flight.
	settleCtx := context.WithoutCancel(ctx)

	if err != nil {
		w.logger.Error("job failed",
			zap.String("job_id", job.ID),
			zap.String("command", string(job.Command.Type)),
			zap.Error(err),
		)
		if notifyErr := w.notifier.SendFailure(settleCtx, job.PhoneNumber, job.OriginalMessage); notifyErr != nil {
			w.logger.Error("failure notification failed", zap.String("job_id", job.ID), zap.Error(notifyErr))
		}
		w.recordAudit(settleCtx, job, pipeline.JobStatusFailed, err.Error())
		metrics.ObserveJob(string(job.Command.Type), string(pipeline.JobStatusFailed))
		if nackErr := delivery.Nack(settleCtx, err.Error()); nackErr != nil {
			w.logger.Error("nack failed", zap.String("job_id", job.ID), zap.Error(nackErr))
		}
		return
	}

	w.recordAudit(settleCtx, job, pipeline.JobStatusCompleted, "")
	metrics.ObserveJob(string(job.Command.Type), string(pipeline.JobStatusCompleted))
	if ackErr := delivery.Ack(settleCtx); ackErr != nil {
		w.logger.Error("ack failed", zap.String("job_id", job.ID), zap.Error(ackErr))
	}
}

// execute dispatches on the command type. Help and Unknown never touch
// the portal; everything else runs against a fresh session that is
// closed on every exit path. Infrastructure errors trigger a
// best-effort screenshot while the session is still alive, then
// propagate for the queue's retry policy to judge.
func (w *Worker) execute(ctx context.Context, job pipeline.Job) error {
	switch job.Command.Type {
	case pipeline.CommandHelp:
		return w.notifier.SendHelp(ctx, job.PhoneNumber)
	case pipeline.CommandUnknown:
		return w.notifier.SendUnknown(ctx, job.PhoneNumber)
	}

	session, err := w.sessions()
	if err != nil {
		return fmt.Errorf("acquire portal session: %w", err)
	}
	defer session.Close()

	if err := w.runPortalCommand(ctx, job, session); err != nil {
		w.captureScreenshot(ctx, job, session)
		return err
	}
	return nil
}

func (w *Worker) runPortalCommand(ctx context.Context, job pipeline.Job, session PortalSession) error {
	start := w.clock.Now()
	defer func() {
		metrics.ObservePortalStep(string(job.Command.Type), w.clock.Now().Sub(start))
	}()

	if err := session.EnsureLoggedIn(ctx); err != nil {
		metrics.ObserveLoginAttempt("failed")
		return err
	}
	metrics.ObserveLoginAttempt("ok")

	if err := session.NavigateToListing(ctx); err != nil {
		return err
	}

	switch job.Command.Type {
	case pipeline.CommandStatus:
		return w.runStatus(ctx, job, session)
	case pipeline.CommandList:
		return w.runList(ctx, job, session)
	case pipeline.CommandFees:
		return w.runFees(ctx, job, session)
	case pipeline.CommandInspect:
		return w.runInspect(ctx, job, session)
	default:
		return fmt.Errorf("unhandled command type %q", job.Command.Type)
	}
}

func (w *Worker) runStatus(ctx context.Context, job pipeline.Job, session PortalSession) error {
	query := job.Command.Query

	var (
		permit pipeline.PermitData
		found  bool
		err    error
	)
	if pipeline.LooksLikePermitNumber(query) {
		permit, found, err = session.SearchByNumber(ctx, query)
	} else {
		permit, found, err = session.SearchByAddress(ctx, query)
	}
	if err != nil {
		return err
	}
	if !found {
		return w.notifier.SendPermitNotFound(ctx, job.PhoneNumber, query)
	}

	details, err := session.ScrapeDetails(ctx)
	if err != nil {
		return err
	}
	return w.notifier.SendPermit(ctx, job.PhoneNumber, mergePermit(permit, details))
}

func (w *Worker) runList(ctx context.Context, job pipeline.Job, session PortalSession) error {
	permits, err := session.ListOpenPermits(ctx, w.cfg.ListLimit)
	if err != nil {
		return err
	}
	return w.notifier.SendPermitList(ctx, job.PhoneNumber, permits)
}

func (w *Worker) runFees(ctx context.Context, job pipeline.Job, session PortalSession) error {
	url, err := session.CurrentURL(ctx)
	if err != nil {
		return err
	}
	return w.notifier.SendFeesLink(ctx, job.PhoneNumber, url)
}

func (w *Worker) runInspect(ctx context.Context, job pipeline.Job, session PortalSession) error {
	url, found, err := session.OpenInspectionRequest(ctx, job.Command.PermitNumber)
	if err != nil {
		return err
	}
	if !found {
		return w.notifier.SendPermitNotFound(ctx, job.PhoneNumber, job.Command.PermitNumber)
	}
	return w.notifier.SendInspectionLink(
		ctx,
		job.PhoneNumber,
		job.Command.PermitNumber,
		url,
		job.Command.TimeWindow,
		job.Command.Notes,
	)
}

// captureScreenshot records the failing page for diagnosis. Failures
// here are logged, never re-thrown: the original error is what the
// queue must judge.
func (w *Worker) captureScreenshot(ctx context.Context, job pipeline.Job, session PortalSession) {
	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	data, err := session.Screenshot(shotCtx)
	if err != nil {
		metrics.ObserveScreenshot("error")
		w.logger.Warn("failure screenshot capture failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return
	}

	path := storage.ScreenshotPath(job.ID+"-"+string(job.Command.Type), w.clock.Now())
	uri, err := w.shots.PutObject(shotCtx, path, "image/png", data)
	if err != nil {
		metrics.ObserveScreenshot("error")
		w.logger.Warn("failure screenshot store failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveScreenshot("ok")
	w.logger.Info("failure screenshot stored",
		zap.String("job_id", job.ID),
		zap.String("uri", uri),
	)
}

func (w *Worker) recordAudit(ctx context.Context, job pipeline.Job, status pipeline.JobStatus, detail string) {
	if w.audit == nil {
		return
	}
	if err := w.audit.RecordTransition(ctx, job.ID, status, job.Attempt, detail); err != nil {
		w.logger.Warn("audit transition failed",
			zap.String("job_id", job.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

// mergePermit prefers scraped detail fields, falling back to whatever
// the listing row already provided.
func mergePermit(row, details pipeline.PermitData) pipeline.PermitData {
	merged := details
	if merged.PermitNumber == "" {
		merged.PermitNumber = row.PermitNumber
	}
	if merged.Address == "" {
		merged.Address = row.Address
	}
	if merged.Type == "" {
		merged.Type = row.Type
	}
	if merged.Status == "" {
		merged.Status = row.Status
	}
	if merged.URL == "" {
		merged.URL = row.URL
	}
	return merged
}
