// Package portal drives the external permitting portal through headless
// Chrome. The portal exposes no API, only an unversioned DOM, so every
// interaction goes through locator fallback and bounded timeouts.
package portal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// BrowserConfig controls the shared Chrome process.
type BrowserConfig struct {
	UserAgent    string
	NavTimeout   time.Duration
	ProbeTimeout time.Duration
}

// Browser owns the Chrome process shared by all workers. Sessions are
// checked out as isolated tabs so no cookies, DOM, or history leak
// between concurrent jobs. Shutdown is drain-then-close: Close waits
// for checked-out sessions before killing the process.
type Browser struct {
	cfg             BrowserConfig
	logger          *zap.Logger
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	sessions        sync.WaitGroup
}

// NewBrowser launches and warms up headless Chrome.
func NewBrowser(cfg BrowserConfig, logger *zap.Logger) (*Browser, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 25 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Browser{
		cfg:             cfg,
		logger:          logger,
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
	}, nil
}

// Ready reports whether the Chrome process is still usable. The
// browser context dies when Chrome crashes or Close has run.
func (b *Browser) Ready() bool {
	return b.browserCtx.Err() == nil
}

// NewSession checks out a fresh tab bound to one job. The caller owns
// the session and must Close it on every exit path.
func (b *Browser) NewSession(cfg SessionConfig) (*Session, error) {
	if b.browserCtx.Err() != nil {
		return nil, fmt.Errorf("browser closed: %w", b.browserCtx.Err())
	}
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)

	cfg.applyDefaults(b.cfg)
	doc := &documentMeta{}
	chromedp.ListenTarget(tabCtx, doc.captureEvent)
	if err := chromedp.Run(tabCtx, networkSetup(b.cfg.UserAgent)); err != nil {
		tabCancel()
		return nil, fmt.Errorf("session setup: %w", err)
	}

	b.sessions.Add(1)
	s := &Session{
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
		cfg:       cfg,
		doc:       doc,
		state:     StateCreated,
		logger:    b.logger,
		released:  b.sessions.Done,
	}
	return s, nil
}

// Close waits for in-flight sessions to drain, up to the context
// deadline, then tears down the browser process.
func (b *Browser) Close(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		b.sessions.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		b.logger.Warn("browser close deadline hit with sessions in flight")
	}
	b.browserCancel()
	b.allocatorCancel()
	return nil
}
