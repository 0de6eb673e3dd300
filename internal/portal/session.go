package portal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/civictext/permitbot/internal/pipeline"
	"github.com/civictext/permitbot/internal/selector"
)

// State is the session lifecycle phase.
type State string

// Session states.
const (
	StateCreated        State = "created"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateLoginFailed    State = "login_failed"
	StateClosed         State = "closed"
)

// SessionConfig holds per-session portal parameters.
type SessionConfig struct {
	LoginURL      string
	ListingURL    string
	Username      string
	Password      string
	NavTimeout    time.Duration
	ProbeTimeout  time.Duration
	LoginAttempts int
	LoginBackoff  time.Duration
}

func (c *SessionConfig) applyDefaults(b BrowserConfig) {
	if c.NavTimeout <= 0 {
		c.NavTimeout = b.NavTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = b.ProbeTimeout
	}
	if c.LoginAttempts <= 0 {
		c.LoginAttempts = 2
	}
	if c.LoginBackoff <= 0 {
		c.LoginBackoff = 3 * time.Second
	}
}

// Session owns one browser tab for the lifetime of a job. Never shared
// across jobs; Close is idempotent and must run on every exit path.
type Session struct {
	tabCtx    context.Context
	tabCancel context.CancelFunc
	cfg       SessionConfig
	doc       *documentMeta
	state     State
	logger    *zap.Logger
	released  func()
	closeOnce sync.Once
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	return s.state
}

// Close releases the tab back to the browser. Safe to call more than
// once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state = StateClosed
		s.tabCancel()
		if s.released != nil {
			s.released()
		}
	})
}

func (s *Session) probe() chromeProbe {
	return chromeProbe{tabCtx: s.tabCtx}
}

// navigate loads a URL under the hard navigation timeout. A document
// response of 400 or above fails the step immediately rather than
// letting later probes time out against an error page.
func (s *Session) navigate(ctx context.Context, url string) error {
	if s.doc != nil {
		s.doc.reset()
	}
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()
	err := s.probe().run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return s.classify(fmt.Errorf("navigate %s: %w", url, err))
	}
	if s.doc != nil {
		if status, docURL := s.doc.snapshot(); status >= 400 {
			return pipeline.NavigationError(
				fmt.Sprintf("document %s returned status %d", docURL, status), nil)
		}
	}
	return nil
}

// CurrentURL reports the tab's location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.probe().run(ctx, chromedp.Location(&url)); err != nil {
		return "", s.classify(fmt.Errorf("read location: %w", err))
	}
	return url, nil
}

// IsLoggedIn is the cheap authentication probe: any known logged-in
// marker visible on the current page.
func (s *Session) IsLoggedIn(ctx context.Context) bool {
	_, ok := selector.FirstVisible(ctx, s.probe(), loggedInCandidates, s.cfg.ProbeTimeout)
	return ok
}

// Login submits the portal credentials and classifies the outcome.
// A visible validation error or an unchanged URL after submission is a
// login failure; a missing positive logged-in marker is only a warning
// since some portal skins never show one. The URL heuristic is a known
// approximation: a skin with client-side routing could pass login
// without changing the URL.
func (s *Session) Login(ctx context.Context) error {
	s.state = StateAuthenticating

	if err := s.navigate(ctx, s.cfg.LoginURL); err != nil {
		s.state = StateLoginFailed
		return err
	}

	userLoc, ok := selector.FirstVisible(ctx, s.probe(), usernameFieldCandidates, s.cfg.ProbeTimeout)
	if !ok {
		s.state = StateLoginFailed
		return pipeline.NavigationError("login form username field", nil)
	}
	passLoc, ok := selector.FirstVisible(ctx, s.probe(), passwordFieldCandidates, s.cfg.ProbeTimeout)
	if !ok {
		s.state = StateLoginFailed
		return pipeline.NavigationError("login form password field", nil)
	}

	stepCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()
	err := s.probe().run(stepCtx,
		chromedp.SendKeys(userLoc.Value, s.cfg.Username, chromedp.ByQuery),
		chromedp.SendKeys(passLoc.Value, s.cfg.Password, chromedp.ByQuery),
	)
	if err != nil {
		s.state = StateLoginFailed
		return s.classify(fmt.Errorf("fill credentials: %w", err))
	}

	if submit, ok := selector.FirstVisible(ctx, s.probe(), loginSubmitCandidates, s.cfg.ProbeTimeout); ok {
		if err := s.probe().click(stepCtx, submit); err != nil {
			s.state = StateLoginFailed
			return s.classify(fmt.Errorf("submit login: %w", err))
		}
	} else {
		// No submit control found; fall back to form submission
		// via Enter on the password field.
		if err := s.probe().run(stepCtx, chromedp.SendKeys(passLoc.Value, "\n", chromedp.ByQuery)); err != nil {
			s.state = StateLoginFailed
			return s.classify(fmt.Errorf("submit login: %w", err))
		}
	}

	// Give the portal a beat to either error out or move on.
	if err := s.probe().run(stepCtx, chromedp.Sleep(500*time.Millisecond)); err != nil {
		s.state = StateLoginFailed
		return s.classify(err)
	}

	if errLoc, ok := selector.FirstVisible(ctx, s.probe(), loginErrorCandidates, s.cfg.ProbeTimeout); ok {
		msg, _ := s.probe().text(ctx, errLoc)
		s.state = StateLoginFailed
		return pipeline.LoginError(msg)
	}

	current, err := s.CurrentURL(ctx)
	if err != nil {
		s.state = StateLoginFailed
		return err
	}
	if current == s.cfg.LoginURL {
		s.state = StateLoginFailed
		return pipeline.LoginError("still on login page after submit")
	}

	if !s.IsLoggedIn(ctx) {
		s.logger.Warn("no logged-in marker after login; continuing",
			zap.String("url", current),
		)
	}
	s.state = StateAuthenticated
	return nil
}

// EnsureLoggedIn short-circuits when the cheap probe passes, otherwise
// runs the full login sequence with a fixed backoff between attempts.
func (s *Session) EnsureLoggedIn(ctx context.Context) error {
	if s.state == StateAuthenticated && s.IsLoggedIn(ctx) {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.LoginAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(s.cfg.LoginBackoff):
			case <-ctx.Done():
				return s.classify(ctx.Err())
			}
		}
		if err := s.Login(ctx); err != nil {
			lastErr = err
			s.logger.Warn("login attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}
		// Login already re-ran the logged-in probe after submitting
		// the form; a missing positive marker there is only a warning,
		// so repeating the probe here would add nothing.
		return nil
	}
	if lastErr == nil {
		lastErr = pipeline.ErrLoginFailed
	}
	return lastErr
}

// NavigateToListing reaches the permit listing through three escalating
// locator strategies, stopping at the first that finds a clickable
// element. Exhausting all three is a terminal navigation error for the
// job.
func (s *Session) NavigateToListing(ctx context.Context) error {
	for _, strategy := range listingNavStrategies {
		loc, ok := selector.FirstVisible(ctx, s.probe(), strategy, s.cfg.ProbeTimeout)
		if !ok {
			continue
		}
		navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
		if err := s.probe().click(navCtx, loc); err != nil {
			cancel()
			s.logger.Debug("listing link click failed, trying next strategy",
				zap.String("locator", loc.Value),
				zap.Error(err),
			)
			continue
		}
		err := s.probe().run(navCtx, chromedp.WaitReady("body", chromedp.ByQuery))
		cancel()
		if err != nil {
			return s.classify(fmt.Errorf("listing settle: %w", err))
		}
		return nil
	}
	return pipeline.NavigationError("permit listing", nil)
}

// Screenshot captures the full page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	shotCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()
	if err := s.probe().run(shotCtx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, s.classify(fmt.Errorf("capture screenshot: %w", err))
	}
	return buf, nil
}

// classify maps context deadline errors onto the pipeline timeout
// class so the worker treats them like any other infrastructure
// failure.
func (s *Session) classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", pipeline.ErrTimeout, err)
	}
	return err
}
