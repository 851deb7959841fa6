package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/resumeapi/suiterun/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	state  string
	report *types.RunReport
}

func (f *fakeProvider) State() string { return f.state }
func (f *fakeProvider) Snapshot() *types.RunReport { return f.report }

var started = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func runningProvider() *fakeProvider {
	return &fakeProvider{
		state: "Executing",
		report: &types.RunReport{
			RunID:     "run-1",
			RunType:   "unit",
			StartedAt: started,
			Expected:  9,
			Totals:    types.BucketCounts{Passed: 2, Failed: 1, Total: 3},
			ByCategory: map[types.Category]types.BucketCounts{
				types.CategoryUnit: {Passed: 2, Failed: 1, Total: 3},
			},
			Outcomes: []types.TestOutcome{
				{ID: "API-GAP-001-UT", Status: types.TestStatusPassed, Duration: 1500 * time.Millisecond, Category: types.CategoryUnit, Priority: types.PriorityP0, Attempts: 1},
				{ID: "API-GAP-002-UT", Status: types.TestStatusFailed, Category: types.CategoryUnit, Priority: types.PriorityP1, LogPath: "logs/test_x.log", Reason: "exit code 1", Attempts: 1},
			},
			FailedIDs: []string{"API-GAP-002-UT"},
		},
	}
}

func newTestService(p StatusProvider) *Service {
	s := New(p, log.NewLogger(log.DiscardHandler()))
	s.now = func() time.Time { return started.Add(5 * time.Second) }
	return s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := get(t, newTestService(&fakeProvider{state: "Idle"}).Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatus(t *testing.T) {
	rec := get(t, newTestService(runningProvider()).Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Executing", resp.State)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, int64(5000), resp.ElapsedMs)
	assert.Equal(t, 9, resp.Expected)
	assert.Equal(t, 3, resp.Totals.Total)
	assert.Equal(t, []string{"API-GAP-002-UT"}, resp.FailedIDs)
	assert.Equal(t, 2, resp.ByCategory[types.CategoryUnit].Passed)
}

func TestStatusBeforeRun(t *testing.T) {
	rec := get(t, newTestService(&fakeProvider{state: "EnvironmentCheck"}).Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "EnvironmentCheck", resp.State)
	assert.Empty(t, resp.RunID)
	assert.NotNil(t, resp.FailedIDs)
	assert.Nil(t, resp.StartedAt)
}

func TestOutcomeEndpoint(t *testing.T) {
	h := newTestService(runningProvider()).Handler()

	rec := get(t, h, "/status/tests/API-GAP-002-UT")
	require.Equal(t, http.StatusOK, rec.Code)
	var o OutcomeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, types.TestStatusFailed, o.Status)
	assert.Equal(t, "logs/test_x.log", o.LogPath)

	rec = get(t, h, "/status/tests/API-GAP-001-UT")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, int64(1500), o.DurationMs)

	rec = get(t, h, "/status/tests/UNKNOWN")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, newTestService(&fakeProvider{state: "Idle"}).Handler(), "/status/tests/API-GAP-001-UT")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestService(runningProvider()).Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	newTestService(runningProvider()).Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStartStop(t *testing.T) {
	s := newTestService(runningProvider())
	require.NoError(t, s.Start(context.Background(), "127.0.0.1:0"))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "OK", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	other := newTestService(runningProvider())
	require.NoError(t, other.Stop(ctx), "stopping a server that never started is a no-op")
}
