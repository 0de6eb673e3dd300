// Package selector implements the locator-fallback primitive that
// isolates portal DOM fragility from business logic. Candidate
// locators are probed strictly in priority order with a short
// visibility timeout each; the first visible match wins and exhaustion
// is a value, not an error.
package selector

import (
	"context"
	"time"
)

// Kind names the locator technology of a candidate.
type Kind string

// Locator kinds understood by probe bindings.
const (
	KindCSS   Kind = "css"
	KindText  Kind = "text"
	KindXPath Kind = "xpath"
)

// Locator describes one way to find an element. Stateless and
// reusable across calls.
type Locator struct {
	Kind  Kind
	Value string
}

// CSS builds a CSS locator.
func CSS(value string) Locator { return Locator{Kind: KindCSS, Value: value} }

// Text builds a visible-text locator.
func Text(value string) Locator { return Locator{Kind: KindText, Value: value} }

// XPath builds an XPath locator.
func XPath(value string) Locator { return Locator{Kind: KindXPath, Value: value} }

// Probe checks whether a locator currently resolves to a visible
// element. Implementations bind a specific automation library; the
// context carries the per-candidate deadline.
type Probe interface {
	Visible(ctx context.Context, loc Locator) (bool, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context, loc Locator) (bool, error)

// Visible calls f.
func (f ProbeFunc) Visible(ctx context.Context, loc Locator) (bool, error) {
	return f(ctx, loc)
}

// FirstVisible tries candidates in order and returns the first one the
// probe reports visible. Probe errors and timeouts are swallowed and
// the loop continues; only parent-context cancellation aborts early.
// The second return is false when every candidate was exhausted;
// callers decide whether that is a business outcome or a failure.
func FirstVisible(ctx context.Context, probe Probe, candidates []Locator, probeTimeout time.Duration) (Locator, bool) {
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return Locator{}, false
		}
		if probeOne(ctx, probe, candidate, probeTimeout) {
			return candidate, true
		}
	}
	return Locator{}, false
}

func probeOne(ctx context.Context, probe Probe, loc Locator, timeout time.Duration) bool {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	visible, err := probe.Visible(probeCtx, loc)
	if err != nil {
		return false
	}
	return visible
}
