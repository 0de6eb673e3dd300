package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civictext/permitbot/internal/clock/system"
	"github.com/civictext/permitbot/internal/metrics"
	"github.com/civictext/permitbot/internal/notify"
	"github.com/civictext/permitbot/internal/pipeline"
)

func init() {
	metrics.Init()
}

type fakeSession struct {
	mu     sync.Mutex
	closed int

	loginErr  error
	navErr    error
	searchErr error

	permit  pipeline.PermitData
	found   bool
	details pipeline.PermitData

	list    []pipeline.PermitData
	listErr error

	inspectURL   string
	inspectFound bool

	shot    []byte
	shotErr error

	calls []string
}

func (f *fakeSession) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeSession) EnsureLoggedIn(context.Context) error {
	f.record("login")
	return f.loginErr
}

func (f *fakeSession) NavigateToListing(context.Context) error {
	f.record("navigate")
	return f.navErr
}

func (f *fakeSession) SearchByNumber(_ context.Context, _ string) (pipeline.PermitData, bool, error) {
	f.record("search_number")
	return f.permit, f.found, f.searchErr
}

func (f *fakeSession) SearchByAddress(_ context.Context, _ string) (pipeline.PermitData, bool, error) {
	f.record("search_address")
	return f.permit, f.found, f.searchErr
}

func (f *fakeSession) ScrapeDetails(context.Context) (pipeline.PermitData, error) {
	f.record("scrape")
	return f.details, nil
}

func (f *fakeSession) ListOpenPermits(context.Context, int) ([]pipeline.PermitData, error) {
	f.record("list")
	return f.list, f.listErr
}

func (f *fakeSession) OpenInspectionRequest(_ context.Context, _ string) (string, bool, error) {
	f.record("inspect")
	return f.inspectURL, f.inspectFound, nil
}

func (f *fakeSession) CurrentURL(context.Context) (string, error) {
	f.record("url")
	return "https://permits.example.gov/listing", nil
}

func (f *fakeSession) Screenshot(context.Context) ([]byte, error) {
	f.record("screenshot")
	return f.shot, f.shotErr
}

func (f *fakeSession) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

type recordedSms struct {
	Phone string
	Body  string
}

type recordingSender struct {
	mu       sync.Mutex
	messages []recordedSms
	err      error
}

func (r *recordingSender) SendSms(_ context.Context, phone, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, recordedSms{Phone: phone, Body: body})
	return nil
}

func (r *recordingSender) sent() []recordedSms {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedSms(nil), r.messages...)
}

type recordingShots struct {
	mu   sync.Mutex
	puts []string
	err  error
}

func (r *recordingShots) PutObject(_ context.Context, path, _ string, _ []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.puts = append(r.puts, path)
	return "file:///tmp/" + path, nil
}

func (r *recordingShots) stored() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.puts...)
}

type settlement struct {
	mu    sync.Mutex
	acks  int
	nacks int
}

func (s *settlement) delivery(job pipeline.Job) pipeline.Delivery {
	return pipeline.Delivery{
		Job: job,
		Ack: func(context.Context) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.acks++
			return nil
		},
		Nack: func(context.Context, string) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.nacks++
			return nil
		},
	}
}

type workerHarness struct {
	worker   *Worker
	session  *fakeSession
	sender   *recordingSender
	shots    *recordingShots
	settled  *settlement
	acquired int
}

func newHarness(t *testing.T, session *fakeSession) *workerHarness {
	t.Helper()
	h := &workerHarness{
		session: session,
		sender:  &recordingSender{},
		shots:   &recordingShots{},
		settled: &settlement{},
	}
	factory := func() (PortalSession, error) {
		h.acquired++
		return session, nil
	}
	h.worker = New(
		nil,
		factory,
		notify.New(h.sender, zap.NewNop()),
		h.shots,
		nil,
		system.Clock{},
		Config{ListLimit: 5, JobTimeout: 5 * time.Second},
		zap.NewNop(),
	)
	return h
}

func (h *workerHarness) run(job pipeline.Job) {
	h.worker.processDelivery(context.Background(), h.settled.delivery(job))
}

func statusJob(query string) pipeline.Job {
	return pipeline.Job{
		ID:              "job-1",
		PhoneNumber:     "5551234567",
		Command:         pipeline.Command{Type: pipeline.CommandStatus, Query: query},
		OriginalMessage: "STATUS " + query,
		EnqueuedAt:      time.Now().UTC(),
	}
}

func TestWorkerStatusHappyPath(t *testing.T) {
	t.Parallel()

	session := &fakeSession{
		permit:  pipeline.PermitData{PermitNumber: "BLD-2024-00123", Address: "12 Oak St"},
		found:   true,
		details: pipeline.PermitData{Status: "Under Review", SubmittedDate: "2024-03-01"},
	}
	h := newHarness(t, session)

	h.run(statusJob("BLD-2024-00123"))

	msgs := h.sender.sent()
	require.Len(t, msgs, 1)
	require.Equal(t, "5551234567", msgs[0].Phone)
	require.Contains(t, msgs[0].Body, "BLD-2024-00123")
	require.Contains(t, msgs[0].Body, "Under Review")
	require.Contains(t, msgs[0].Body, "12 Oak St")

	require.Equal(t, 1, h.settled.acks)
	require.Zero(t, h.settled.nacks)
	require.Empty(t, h.shots.stored())
	require.Equal(t, 1, session.closed)
	require.Contains(t, session.calls, "search_number")
	require.NotContains(t, session.calls, "search_address")
}

func TestWorkerStatusByAddress(t *testing.T) {
	t.Parallel()

	session := &fakeSession{
		permit: pipeline.PermitData{PermitNumber: "BLD-2024-00123", Address: "12 Oak St"},
		found:  true,
	}
	h := newHarness(t, session)

	h.run(statusJob("12 Oak St"))

	require.Contains(t, session.calls, "search_address")
	require.NotContains(t, session.calls, "search_number")
	require.Equal(t, 1, h.settled.acks)
}

func TestWorkerStatusNotFoundAcks(t *testing.T) {
	t.Parallel()

	session := &fakeSession{found: false}
	h := newHarness(t, session)

	h.run(statusJob("BLD-2024-09999"))

	msgs := h.sender.sent()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Body, "No permit found")
	require.Equal(t, 1, h.settled.acks)
	require.Zero(t, h.settled.nacks)
	require.Empty(t, h.shots.stored())
	require.Equal(t, 1, session.closed)
}

func TestWorkerListEmptySendsCannedText(t *testing.T) {
	t.Parallel()

	session := &fakeSession{list: nil}
	h := newHarness(t, session)

	h.run(pipeline.Job{
		ID:          "job-2",
		PhoneNumber: "5551234567",
		Command:     pipeline.Command{Type: pipeline.CommandList},
	})

	msgs := h.sender.sent()
	require.Len(t, msgs, 1)
	require.Equal(t, notify.NoOpenPermitsText(), msgs[0].Body)
	require.Empty(t, h.shots.stored())
	require.Equal(t, 1, h.settled.acks)
	require.Equal(t, 1, session.closed)
}

func TestWorkerLoginFailureScreenshotsAndRequeues(t *testing.T) {
	t.Parallel()

	session := &fakeSession{
		loginErr: pipeline.LoginError("login error banner visible"),
		shot:     []byte{0x89, 0x50, 0x4e, 0x47},
	}
	h := newHarness(t, session)

	h.run(statusJob("BLD-2024-00123"))

	stored := h.shots.stored()
	require.Len(t, stored, 1)
	require.True(t, strings.HasPrefix(stored[0], "error_"))
	require.Contains(t, stored[0], "job-1")

	msgs := h.sender.sent()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Body, "problem")

	require.Zero(t, h.settled.acks)
	require.Equal(t, 1, h.settled.nacks)
	require.Equal(t, 1, session.closed)
}

func TestWorkerSessionClosedExactlyOnce(t *testing.T) {
	t.Parallel()

	faults := []struct {
		name    string
		session *fakeSession
	}{
		{"login fails", &fakeSession{loginErr: errors.New("boom")}},
		{"navigation fails", &fakeSession{navErr: errors.New("boom")}},
		{"search fails", &fakeSession{searchErr: errors.New("boom")}},
		{"screenshot fails too", &fakeSession{loginErr: errors.New("boom"), shotErr: errors.New("no tab")}},
		{"happy path", &fakeSession{found: true, permit: pipeline.PermitData{PermitNumber: "P-1"}}},
	}
	for _, tc := range faults {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, tc.session)
			h.run(statusJob("BLD-2024-00123"))
			require.Equal(t, 1, tc.session.closed)
		})
	}
}

func TestWorkerScreenshotFailureDoesNotMaskError(t *testing.T) {
	t.Parallel()

	session := &fakeSession{
		navErr:  errors.New("listing never rendered"),
		shotErr: errors.New("tab gone"),
	}
	h := newHarness(t, session)

	h.run(statusJob("BLD-2024-00123"))

	require.Zero(t, h.settled.acks)
	require.Equal(t, 1, h.settled.nacks)
	require.Empty(t, h.shots.stored())
}

func TestWorkerHelpSkipsPortal(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	h := newHarness(t, session)

	h.run(pipeline.Job{
		ID:          "job-3",
		PhoneNumber: "5551234567",
		Command:     pipeline.Command{Type: pipeline.CommandHelp},
	})

	require.Zero(t, h.acquired)
	msgs := h.sender.sent()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Body, "STATUS")
	require.Equal(t, 1, h.settled.acks)
}

func TestWorkerUnknownSkipsPortal(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	h := newHarness(t, session)

	h.run(pipeline.Job{
		ID:          "job-4",
		PhoneNumber: "5551234567",
		Command:     pipeline.Command{Type: pipeline.CommandUnknown},
	})

	require.Zero(t, h.acquired)
	msgs := h.sender.sent()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Body, "HELP")
	require.Equal(t, 1, h.settled.acks)
}

func TestWorkerInspectSendsDeepLink(t *testing.T) {
	t.Parallel()

	session := &fakeSession{
		inspectURL:   "https://permits.example.gov/inspections/new?permit=BLD-2024-00123",
		inspectFound: true,
	}
	h := newHarness(t, session)

	h.run(pipeline.Job{
		ID:          "job-5",
		PhoneNumber: "5551234567",
		Command: pipeline.Command{
			Type:         pipeline.CommandInspect,
			PermitNumber: "BLD-2024-00123",
			TimeWindow:   "tomorrow morning",
			Notes:        "gate code 4411",
		},
	})

	msgs := h.sender.sent()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Body, "BLD-2024-00123")
	require.Contains(t, msgs[0].Body, "tomorrow morning")
	require.Contains(t, msgs[0].Body, "gate code 4411")
	require.Contains(t, msgs[0].Body, "https://permits.example.gov/inspections/new")
	require.Equal(t, 1, h.settled.acks)
	require.Equal(t, 1, session.closed)
}

func TestWorkerFeesSendsCurrentURL(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	h := newHarness(t, session)

	h.run(pipeline.Job{
		ID:          "job-6",
		PhoneNumber: "5551234567",
		Command:     pipeline.Command{Type: pipeline.CommandFees},
	})

	msgs := h.sender.sent()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Body, "https://permits.example.gov/listing")
	require.Equal(t, 1, h.settled.acks)
}

func TestMergePermitPrefersDetails(t *testing.T) {
	t.Parallel()

	row := pipeline.PermitData{PermitNumber: "P-1", Address: "12 Oak St", Status: "Open"}
	details := pipeline.PermitData{Status: "Under Review", SubmittedDate: "2024-03-01"}

	merged := mergePermit(row, details)
	require.Equal(t, "P-1", merged.PermitNumber)
	require.Equal(t, "12 Oak St", merged.Address)
	require.Equal(t, "Under Review", merged.Status)
	require.Equal(t, "2024-03-01", merged.SubmittedDate)
}
