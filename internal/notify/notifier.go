// Package notify formats pipeline results into plain-text SMS and
// hands them to the outbound sender. This is the single formatting
// point for every user-facing message, failures included.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civictext/permitbot/internal/metrics"
	"github.com/civictext/permitbot/internal/pipeline"
)

const helpText = "Commands: STATUS <permit# or address> | LIST | FEES | " +
	"INSPECT <permit#> <time window> notes: <text> | HELP"

const unknownText = "Sorry, I didn't understand that. Text HELP for the list of commands."

const noOpenPermitsText = "You have no open permits on file."

// Notifier formats and sends outbound SMS.
type Notifier struct {
	sender pipeline.SmsSender
	logger *zap.Logger
}

// New constructs a Notifier.
func New(sender pipeline.SmsSender, logger *zap.Logger) *Notifier {
	return &Notifier{sender: sender, logger: logger}
}

func (n *Notifier) send(ctx context.Context, phone, body string) error {
	if err := n.sender.SendSms(ctx, phone, body); err != nil {
		metrics.ObserveSms("error")
		n.logger.Error("send sms failed",
			zap.String("phone", phone),
			zap.Error(err),
		)
		return fmt.Errorf("send sms: %w", err)
	}
	metrics.ObserveSms("sent")
	return nil
}

// SendHelp replies with the static command reference.
func (n *Notifier) SendHelp(ctx context.Context, phone string) error {
	return n.send(ctx, phone, helpText)
}

// SendUnknown replies to an unrecognized command.
func (n *Notifier) SendUnknown(ctx context.Context, phone string) error {
	return n.send(ctx, phone, unknownText)
}

// SendPermit formats a single permit record.
func (n *Notifier) SendPermit(ctx context.Context, phone string, permit pipeline.PermitData) error {
	return n.send(ctx, phone, FormatPermit(permit))
}

// SendPermitNotFound reports an unmatched status query.
func (n *Notifier) SendPermitNotFound(ctx context.Context, phone, query string) error {
	return n.send(ctx, phone, fmt.Sprintf("No permit found matching %q. Check the number or address and try again.", query))
}

// SendPermitList formats open permits, or the canned empty-list text.
func (n *Notifier) SendPermitList(ctx context.Context, phone string, permits []pipeline.PermitData) error {
	return n.send(ctx, phone, FormatPermitList(permits))
}

// SendFeesLink points the sender at the portal's fee page.
func (n *Notifier) SendFeesLink(ctx context.Context, phone, url string) error {
	return n.send(ctx, phone, "Pay permit fees online: "+url)
}

// SendInspectionLink hands back the inspection request deep link.
func (n *Notifier) SendInspectionLink(ctx context.Context, phone, permitNumber, url, timeWindow, notes string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Inspection request for %s (%s", permitNumber, timeWindow)
	if notes != "" {
		fmt.Fprintf(&b, ", notes: %s", notes)
	}
	b.WriteString("): finish scheduling here: ")
	b.WriteString(url)
	return n.send(ctx, phone, b.String())
}

// SendFailure reports a generic failure naming the original command.
func (n *Notifier) SendFailure(ctx context.Context, phone, originalCommand string) error {
	return n.send(ctx, phone, fmt.Sprintf(
		"Sorry, we hit a problem handling %q. We'll retry shortly; no action needed.",
		strings.TrimSpace(originalCommand),
	))
}

// SendRateLimited asks the sender to wait out the current window.
func (n *Notifier) SendRateLimited(ctx context.Context, phone string, status pipeline.QuotaStatus) error {
	body := "You've reached the hourly command limit. Please wait and try again."
	if status.ResetAt != nil {
		body = fmt.Sprintf(
			"You've reached the hourly command limit (%d). Try again after %s.",
			status.Limit,
			status.ResetAt.UTC().Format(time.Kitchen),
		)
	}
	return n.send(ctx, phone, body)
}

// FormatPermit renders one permit record as SMS text. Only scraped
// fields appear; the transport wraps long content across segments.
func FormatPermit(p pipeline.PermitData) string {
	var parts []string
	if p.PermitNumber != "" {
		parts = append(parts, "Permit "+p.PermitNumber)
	}
	if p.Address != "" {
		parts = append(parts, p.Address)
	}
	if p.Type != "" {
		parts = append(parts, "Type: "+p.Type)
	}
	if p.Status != "" {
		parts = append(parts, "Status: "+p.Status)
	}
	if p.LastAction != "" {
		parts = append(parts, "Last action: "+p.LastAction)
	}
	if p.NextAction != "" {
		parts = append(parts, "Next: "+p.NextAction)
	}
	if p.SubmittedDate != "" {
		parts = append(parts, "Submitted: "+p.SubmittedDate)
	}
	if len(parts) == 0 {
		return "Permit found, but no details could be read from the portal."
	}
	return strings.Join(parts, " | ")
}

// FormatPermitList renders up to a handful of permits, one per line.
func FormatPermitList(permits []pipeline.PermitData) string {
	if len(permits) == 0 {
		return noOpenPermitsText
	}
	lines := make([]string, 0, len(permits)+1)
	lines = append(lines, fmt.Sprintf("Open permits (%d):", len(permits)))
	for _, p := range permits {
		line := p.PermitNumber
		if line == "" {
			line = p.Address
		} else if p.Address != "" {
			line += " - " + p.Address
		}
		if p.Status != "" {
			line += " [" + p.Status + "]"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// NoOpenPermitsText exposes the canned empty-list reply for tests and
// end-to-end assertions.
func NoOpenPermitsText() string {
	return noOpenPermitsText
}
