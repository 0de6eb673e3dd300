package portal

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/civictext/permitbot/internal/selector"
)

// chromeProbe binds the selector-fallback engine to a chromedp tab.
type chromeProbe struct {
	tabCtx context.Context
}

// Visible waits, within the probe context deadline, for the locator to
// resolve to a visible element.
func (p chromeProbe) Visible(ctx context.Context, loc selector.Locator) (bool, error) {
	sel, opt, err := toChromedp(loc)
	if err != nil {
		return false, err
	}
	waitCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(waitCtx, chromedp.WaitVisible(sel, opt)); err != nil {
		return false, err
	}
	return true, nil
}

func (p chromeProbe) click(ctx context.Context, loc selector.Locator) error {
	sel, opt, err := toChromedp(loc)
	if err != nil {
		return err
	}
	return p.run(ctx, chromedp.Click(sel, opt))
}

func (p chromeProbe) text(ctx context.Context, loc selector.Locator) (string, error) {
	sel, opt, err := toChromedp(loc)
	if err != nil {
		return "", err
	}
	var out string
	if err := p.run(ctx, chromedp.Text(sel, &out, opt)); err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// run executes actions on the tab while honoring the step context.
func (p chromeProbe) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// toChromedp maps a locator descriptor to a chromedp selector. Text
// locators become an XPath over clickable elements containing the text.
func toChromedp(loc selector.Locator) (string, chromedp.QueryOption, error) {
	switch loc.Kind {
	case selector.KindCSS:
		return loc.Value, chromedp.ByQuery, nil
	case selector.KindXPath:
		return loc.Value, chromedp.BySearch, nil
	case selector.KindText:
		xpath := fmt.Sprintf(
			`//*[self::a or self::button][contains(normalize-space(.), %s)]`,
			xpathLiteral(loc.Value),
		)
		return xpath, chromedp.BySearch, nil
	default:
		return "", nil, fmt.Errorf("unsupported locator kind %q", loc.Kind)
	}
}

// xpathLiteral quotes a string for embedding in an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `'`) {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, `'`)
	quoted := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+part+"'")
	}
	return "concat(" + strings.Join(quoted, ",") + ")"
}

// forwardCancel propagates cancellation from a step context into a tab
// operation without tying the tab's lifetime to the step.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
