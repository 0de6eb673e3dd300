package portal

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// PreflightConfig controls the login-page reachability check.
type PreflightConfig struct {
	LoginURL  string
	UserAgent string
	Timeout   time.Duration
	Interval  time.Duration
}

// Preflight probes the portal login page over plain HTTP (no browser)
// and gates job intake: a portal that cannot even serve its login form
// would burn every job's retry budget, so /readyz reports not-ready
// until the probe passes.
type Preflight struct {
	cfg    PreflightConfig
	logger *zap.Logger

	mu      sync.RWMutex
	ready   bool
	lastErr error
}

// NewPreflight constructs the checker. Ready starts false until the
// first probe succeeds.
func NewPreflight(cfg PreflightConfig, logger *zap.Logger) *Preflight {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Preflight{cfg: cfg, logger: logger}
}

// Ready reports whether the last probe found a usable login page.
func (p *Preflight) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

// LastError returns the most recent probe failure, or nil.
func (p *Preflight) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// Run probes immediately and then on the configured interval until the
// context finishes.
func (p *Preflight) Run(ctx context.Context) {
	p.probe(ctx)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

// Check fetches the login URL once and requires a password input in
// the response markup.
func (p *Preflight) Check(ctx context.Context) error {
	c := colly.NewCollector()
	c.SetRequestTimeout(p.cfg.Timeout)
	if p.cfg.UserAgent != "" {
		c.UserAgent = p.cfg.UserAgent
	}
	c.IgnoreRobotsTxt = true

	var (
		checkErr  error
		hasForm   bool
		statusLow bool
	)
	c.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
		default:
		}
	})
	c.OnResponse(func(r *colly.Response) {
		if r.StatusCode != http.StatusOK {
			statusLow = true
			return
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
		if err != nil {
			checkErr = fmt.Errorf("parse login page: %w", err)
			return
		}
		hasForm = doc.Find(`input[type="password"]`).Length() > 0
	})
	c.OnError(func(_ *colly.Response, err error) {
		checkErr = fmt.Errorf("fetch login page: %w", err)
	})

	if err := c.Visit(p.cfg.LoginURL); err != nil {
		return fmt.Errorf("visit login page: %w", err)
	}
	c.Wait()

	switch {
	case checkErr != nil:
		return checkErr
	case statusLow:
		return fmt.Errorf("login page returned non-200 status")
	case !hasForm:
		return fmt.Errorf("login page has no password field")
	default:
		return nil
	}
}

func (p *Preflight) probe(ctx context.Context) {
	err := p.Check(ctx)
	p.mu.Lock()
	p.ready = err == nil
	p.lastErr = err
	p.mu.Unlock()
	if err != nil {
		p.logger.Warn("portal preflight failed", zap.Error(err))
		return
	}
	p.logger.Debug("portal preflight passed")
}
