package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/redarc/redarc/internal/store"
)

type fakeRepo struct {
	runs     map[uuid.UUID]store.Run
	outcomes map[uuid.UUID][]store.IssueOutcome
}

func (f *fakeRepo) BeginRun(context.Context, uuid.UUID, time.Time, int) error { return nil }

func (f *fakeRepo) CompleteRun(context.Context, uuid.UUID, time.Time, store.RunStatus, *string) error {
	return nil
}

func (f *fakeRepo) RecordOutcome(context.Context, store.IssueOutcome) error { return nil }

func (f *fakeRepo) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	run, ok := f.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

func (f *fakeRepo) ListRuns(_ context.Context, status *store.RunStatus, _, _ int) ([]store.Run, error) {
	var runs []store.Run
	for _, run := range f.runs {
		if status == nil || run.Status == *status {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

func (f *fakeRepo) ListRunOutcomes(_ context.Context, runID uuid.UUID, _, _ int) ([]store.IssueOutcome, error) {
	return f.outcomes[runID], nil
}

func newTestServer(t *testing.T, repo store.ArchiveRepository) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	srv := NewServer(repo, reg, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "redarc_test_total", Help: "test"})
	require.NoError(t, reg.Register(counter))
	counter.Inc()

	srv := NewServer(nil, reg, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := make([]byte, 4096)
	n, _ := resp.Body.Read(body)
	require.Contains(t, string(body[:n]), "redarc_test_total")
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	runID := uuid.New()
	repo := &fakeRepo{runs: map[uuid.UUID]store.Run{
		runID: {ID: runID, StartedAt: time.Now().UTC(), Status: store.RunCompleted, IssueCount: 3},
	}}
	ts := newTestServer(t, repo)

	resp, err := http.Get(ts.URL + "/api/runs/" + runID.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Run runDTO `json:"run"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Equal(t, runID.String(), payload.Run.ID)
	require.Equal(t, "completed", payload.Run.Status)
	require.Equal(t, 3, payload.Run.IssueCount)
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeRepo{runs: map[uuid.UUID]store.Run{}})

	resp, err := http.Get(ts.URL + "/api/runs/" + uuid.NewString())
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetRunInvalidID(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeRepo{})

	resp, err := http.Get(ts.URL + "/api/runs/not-a-uuid")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListRunOutcomes(t *testing.T) {
	t.Parallel()

	runID := uuid.New()
	pdf := "pdfs/1_Bug.pdf"
	repo := &fakeRepo{
		runs: map[uuid.UUID]store.Run{runID: {ID: runID, Status: store.RunCompleted}},
		outcomes: map[uuid.UUID][]store.IssueOutcome{
			runID: {
				{RunID: runID, IssueID: "1", Status: "succeeded", PDFPath: &pdf},
				{RunID: runID, IssueID: "2", Status: "failed"},
			},
		},
	}
	ts := newTestServer(t, repo)

	resp, err := http.Get(ts.URL + "/api/runs/" + runID.String() + "/outcomes")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Outcomes []outcomeDTO `json:"outcomes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Outcomes, 2)
	require.Equal(t, "1", payload.Outcomes[0].IssueID)
	require.NotNil(t, payload.Outcomes[0].PDFPath)
}

func TestListRunsInvalidLimit(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeRepo{})

	resp, err := http.Get(ts.URL + "/api/runs/?limit=-1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunEndpointsWithoutRepository(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/runs/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
