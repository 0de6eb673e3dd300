package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civictext/permitbot/internal/ingest"
	"github.com/civictext/permitbot/internal/metrics"
	"github.com/civictext/permitbot/internal/pipeline"
)

func init() {
	metrics.Init()
}

type stubIntake struct {
	result ingest.Result
	err    error

	lastFrom string
	lastBody string
}

func (s *stubIntake) Handle(_ context.Context, from, body string) (ingest.Result, error) {
	s.lastFrom = from
	s.lastBody = body
	return s.result, s.err
}

type stubReady struct {
	ready bool
}

func (s *stubReady) Ready() bool { return s.ready }

func newTestServer(intake *stubIntake, ready ReadyChecker, cfg Config) *httptest.Server {
	srv := NewServer(intake, ready, cfg, zap.NewNop())
	return httptest.NewServer(srv.Handler())
}

func postSms(t *testing.T, ts *httptest.Server, payload string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/sms/inbound", strings.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestInboundSmsAccepted(t *testing.T) {
	t.Parallel()

	intake := &stubIntake{result: ingest.Result{JobID: "job-1", Command: pipeline.CommandStatus}}
	ts := newTestServer(intake, &stubReady{ready: true}, Config{})
	defer ts.Close()

	resp := postSms(t, ts, `{"from":"+15551234567","body":"STATUS BLD-2024-00123"}`, nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, "job-1", got["job_id"])
	require.Equal(t, "status", got["command"])
	require.Equal(t, "+15551234567", intake.lastFrom)
	require.Equal(t, "STATUS BLD-2024-00123", intake.lastBody)
}

func TestInboundSmsRejectsBadPayload(t *testing.T) {
	t.Parallel()

	intake := &stubIntake{}
	ts := newTestServer(intake, nil, Config{})
	defer ts.Close()

	resp := postSms(t, ts, `{not json`, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2 := postSms(t, ts, `{"from":"  ","body":"LIST"}`, nil)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestInboundSmsRateLimited(t *testing.T) {
	t.Parallel()

	intake := &stubIntake{result: ingest.Result{Command: pipeline.CommandList, RateLimited: true}}
	ts := newTestServer(intake, nil, Config{})
	defer ts.Close()

	resp := postSms(t, ts, `{"from":"5551234567","body":"LIST"}`, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestInboundSmsIntakeError(t *testing.T) {
	t.Parallel()

	intake := &stubIntake{err: errors.New("queue closed")}
	ts := newTestServer(intake, nil, Config{})
	defer ts.Close()

	resp := postSms(t, ts, `{"from":"5551234567","body":"LIST"}`, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestInboundSmsRequiresAPIKeyWhenEnabled(t *testing.T) {
	t.Parallel()

	intake := &stubIntake{result: ingest.Result{JobID: "job-1"}}
	ts := newTestServer(intake, nil, Config{AuthEnabled: true, APIKey: "sekrit"})
	defer ts.Close()

	resp := postSms(t, ts, `{"from":"5551234567","body":"LIST"}`, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp2 := postSms(t, ts, `{"from":"5551234567","body":"LIST"}`, map[string]string{"X-API-Key": "sekrit"})
	defer resp2.Body.Close()
	require.Equal(t, http.StatusAccepted, resp2.StatusCode)
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	ready := &stubReady{ready: false}
	ts := newTestServer(&stubIntake{}, ready, Config{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ready.ready = true
	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyzComposesDependencies(t *testing.T) {
	t.Parallel()

	preflight := &stubReady{ready: true}
	queue := &stubReady{ready: true}
	ts := newTestServer(&stubIntake{}, MultiReady(preflight, queue, nil), Config{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	queue.ready = false
	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	queue.ready = true
	preflight.ready = false
	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&stubIntake{}, nil, Config{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
