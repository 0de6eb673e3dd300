package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civictext/permitbot/internal/metrics"
	"github.com/civictext/permitbot/internal/pipeline"
)

func init() {
	metrics.Init()
}

type fakeSender struct {
	phones []string
	bodies []string
	err    error
}

func (f *fakeSender) SendSms(_ context.Context, phone, body string) error {
	if f.err != nil {
		return f.err
	}
	f.phones = append(f.phones, phone)
	f.bodies = append(f.bodies, body)
	return nil
}

func TestFormatPermitJoinsPresentFields(t *testing.T) {
	t.Parallel()

	got := FormatPermit(pipeline.PermitData{
		PermitNumber:  "BLD-2024-00123",
		Address:       "12 Oak St",
		Status:        "Under Review",
		SubmittedDate: "2024-03-01",
	})
	require.Equal(t, "Permit BLD-2024-00123 | 12 Oak St | Status: Under Review | Submitted: 2024-03-01", got)
}

func TestFormatPermitEmptyRecord(t *testing.T) {
	t.Parallel()

	got := FormatPermit(pipeline.PermitData{})
	require.Contains(t, got, "no details")
}

func TestFormatPermitListEmpty(t *testing.T) {
	t.Parallel()

	require.Equal(t, NoOpenPermitsText(), FormatPermitList(nil))
}

func TestFormatPermitListOnePerLine(t *testing.T) {
	t.Parallel()

	got := FormatPermitList([]pipeline.PermitData{
		{PermitNumber: "P-1", Address: "12 Oak St", Status: "Open"},
		{PermitNumber: "P-2"},
		{Address: "9 Elm Ave"},
	})
	require.Equal(t, "Open permits (3):\nP-1 - 12 Oak St [Open]\nP-2\n9 Elm Ave", got)
}

func TestSendRateLimitedIncludesReset(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	n := New(sender, zap.NewNop())

	reset := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	err := n.SendRateLimited(context.Background(), "5551234567", pipeline.QuotaStatus{
		Count:   10,
		Limit:   10,
		ResetAt: &reset,
	})
	require.NoError(t, err)
	require.Len(t, sender.bodies, 1)
	require.Contains(t, sender.bodies[0], "2:30PM")
	require.Contains(t, sender.bodies[0], "10")
}

func TestSendWrapsSenderError(t *testing.T) {
	t.Parallel()

	boom := errors.New("provider down")
	n := New(&fakeSender{err: boom}, zap.NewNop())

	err := n.SendHelp(context.Background(), "5551234567")
	require.ErrorIs(t, err, boom)
}

func TestSendInspectionLinkOmitsEmptyNotes(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	n := New(sender, zap.NewNop())

	err := n.SendInspectionLink(context.Background(), "5551234567",
		"BLD-2024-00123", "https://permits.example.gov/inspect", "friday", "")
	require.NoError(t, err)
	require.Len(t, sender.bodies, 1)
	require.NotContains(t, sender.bodies[0], "notes:")
	require.Contains(t, sender.bodies[0], "friday")
}
