// Package main wires together the permitbot service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/civictext/permitbot/internal/api"
	"github.com/civictext/permitbot/internal/audit"
	"github.com/civictext/permitbot/internal/clock/system"
	"github.com/civictext/permitbot/internal/config"
	"github.com/civictext/permitbot/internal/dispatcher"
	"github.com/civictext/permitbot/internal/id/uuid"
	"github.com/civictext/permitbot/internal/ingest"
	"github.com/civictext/permitbot/internal/logging"
	"github.com/civictext/permitbot/internal/metrics"
	"github.com/civictext/permitbot/internal/notify"
	"github.com/civictext/permitbot/internal/pipeline"
	"github.com/civictext/permitbot/internal/portal"
	"github.com/civictext/permitbot/internal/ratelimit"
	queueMemory "github.com/civictext/permitbot/internal/queue/memory"
	queuePubsub "github.com/civictext/permitbot/internal/queue/pubsub"
	"github.com/civictext/permitbot/internal/sms"
	storageGCS "github.com/civictext/permitbot/internal/storage/gcs"
	storageLocal "github.com/civictext/permitbot/internal/storage/local"
	"github.com/civictext/permitbot/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.Clock{}
	ids := uuid.NewGenerator()
	policy := pipeline.RetryPolicy{
		MaxAttempts: cfg.Worker.MaxAttempts,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
	}

	var sender pipeline.SmsSender
	switch cfg.Sms.Provider {
	case "webhook":
		sender = sms.NewWebhookSender(cfg.Sms.WebhookURL, time.Duration(cfg.Sms.TimeoutSeconds)*time.Second)
	default:
		sender = sms.NewLogSender(logger.Named("sms"))
	}
	notifier := notify.New(sender, logger.Named("notify"))

	shots, err := newScreenshotStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("screenshot store init: %w", err)
	}

	var auditStore pipeline.AuditStore
	if cfg.Audit.Enabled {
		store, err := audit.NewStore(ctx, audit.Config{
			DSN:   cfg.Audit.DSN,
			Table: cfg.Audit.Table,
		}, clock)
		if err != nil {
			return fmt.Errorf("audit store init: %w", err)
		}
		defer store.Close()
		auditStore = store
	}

	queue, queueReady, closeQueue, err := newQueue(ctx, cfg, policy, auditStore, logger)
	if err != nil {
		return fmt.Errorf("queue init: %w", err)
	}
	defer closeQueue()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("redis close failed", zap.Error(err))
		}
	}()
	limiter := ratelimit.New(
		ratelimit.NewRedisStore(rdb),
		clock,
		ratelimit.Config{
			HourlyQuota: cfg.RateLimit.HourlyQuota,
			Window:      cfg.RateLimitWindow(),
			KeyPrefix:   cfg.RateLimit.KeyPrefix,
		},
		logger.Named("ratelimit"),
	)

	browserCfg := portal.BrowserConfig{
		UserAgent:    cfg.Portal.UserAgent,
		NavTimeout:   time.Duration(cfg.Portal.NavTimeoutSec) * time.Second,
		ProbeTimeout: time.Duration(cfg.Portal.ProbeTimeoutSec) * time.Second,
	}
	browser, err := portal.NewBrowser(browserCfg, logger.Named("portal"))
	if err != nil {
		return fmt.Errorf("browser init: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := browser.Close(closeCtx); err != nil {
			logger.Warn("browser shutdown incomplete", zap.Error(err))
		}
	}()

	sessionCfg := portal.SessionConfig{
		LoginURL:      cfg.Portal.LoginURL,
		ListingURL:    cfg.Portal.ListingURL,
		Username:      cfg.Portal.Username,
		Password:      cfg.Portal.Password,
		LoginAttempts: cfg.Portal.LoginAttempts,
	}
	sessions := func() (worker.PortalSession, error) {
		return browser.NewSession(sessionCfg)
	}

	preflight := portal.NewPreflight(portal.PreflightConfig{
		LoginURL:  cfg.Portal.LoginURL,
		UserAgent: cfg.Portal.UserAgent,
		Interval:  time.Duration(cfg.Portal.PreflightIntervalS) * time.Second,
	}, logger.Named("preflight"))
	go preflight.Run(ctx)

	jobWorker := worker.New(
		queue,
		sessions,
		notifier,
		shots,
		auditStore,
		clock,
		worker.Config{
			ListLimit:  cfg.Worker.ListLimit,
			JobTimeout: cfg.JobTimeout(),
		},
		logger.Named("worker"),
	)
	pool := dispatcher.New(jobWorker, cfg.Worker.Concurrency, logger.Named("dispatcher"))
	pool.Start(ctx)

	intake := ingest.New(limiter, queue, notifier, ids, clock, logger.Named("ingest"))
	apiServer := api.NewServer(intake, api.MultiReady(preflight, browser, queueReady), api.Config{
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		RequestTimeout: cfg.ServerTimeout(),
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	pool.Wait()
	logger.Info("shutdown complete")
	return nil
}

func newScreenshotStore(ctx context.Context, cfg config.Config) (pipeline.ScreenshotStore, error) {
	switch cfg.Screenshots.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return storageGCS.New(client, storageGCS.Config{
			Bucket: cfg.Screenshots.GCSBucket,
			Prefix: cfg.Screenshots.Prefix,
		})
	default:
		return storageLocal.New(storageLocal.Config{BaseDir: cfg.Screenshots.LocalDir})
	}
}

func newQueue(
	ctx context.Context,
	cfg config.Config,
	policy pipeline.RetryPolicy,
	auditStore pipeline.AuditStore,
	logger *zap.Logger,
) (pipeline.Queue, api.ReadyChecker, func(), error) {
	switch cfg.Queue.Provider {
	case "pubsub":
		q, err := queuePubsub.NewQueue(ctx, queuePubsub.Config{
			ProjectID:    cfg.Queue.ProjectID,
			Topic:        cfg.Queue.TopicName,
			Subscription: cfg.Queue.Subscription,
		}, logger.Named("queue"))
		if err != nil {
			return nil, nil, nil, err
		}
		return q, q, func() { q.Close() }, nil
	default:
		deadLetter := func(job pipeline.Job, reason string) {
			metrics.ObserveJob(string(job.Command.Type), string(pipeline.JobStatusDeadLettered))
			logger.Error("job dead-lettered",
				zap.String("job_id", job.ID),
				zap.Int("attempt", job.Attempt),
				zap.String("reason", reason),
			)
			if auditStore != nil {
				if err := auditStore.RecordTransition(
					context.WithoutCancel(ctx), job.ID, pipeline.JobStatusDeadLettered, job.Attempt, reason,
				); err != nil {
					logger.Warn("dead-letter audit failed", zap.String("job_id", job.ID), zap.Error(err))
				}
			}
		}
		q := queueMemory.NewQueue(cfg.Worker.QueueDepth, policy, deadLetter, logger.Named("queue"))
		return q, nil, func() { q.Close() }, nil
	}
}
