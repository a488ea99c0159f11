package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/minigist/internal/store"
)

func TestRunHandlerListRuns(t *testing.T) {
	t.Parallel()

	repo := &mockRunRepo{runs: sampleRuns()}
	handler := NewRunHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?status=aborted&limit=10000", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string][]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body["runs"], 1)
	require.NotNil(t, repo.lastStatus)
	require.Equal(t, store.RunAborted, *repo.lastStatus)
	require.Equal(t, maxRunLimit, repo.lastLimit)
}

func TestRunHandlerListRunsRejectsBadStatus(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(&mockRunRepo{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/v1/runs?status=paused", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunHandlerGetRunNotFound(t *testing.T) {
	t.Parallel()

	repo := &mockRunRepo{err: store.ErrNotFound}
	handler := NewRunHandler(repo, zap.NewNop())

	runID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil)
	req = withRunIDParam(req, runID.String())
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunHandlerGetRunInvalidID(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(&mockRunRepo{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/nope", nil)
	req = withRunIDParam(req, "nope")
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunHandlerListRunEntriesInvalidLimit(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(&mockRunRepo{}, zap.NewNop())
	runID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String()+"/entries?limit=-1", nil)
	req = withRunIDParam(req, runID.String())
	rec := httptest.NewRecorder()

	handler.ListRunEntries(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunHandlerRepositoryErrors(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(&mockRunRepo{err: errors.New("db down")}, zap.NewNop())
	runID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String()+"/entries", nil)
	req = withRunIDParam(req, runID.String())
	rec := httptest.NewRecorder()

	handler.ListRunEntries(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunHandlerWithoutStore(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(nil, nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type mockRunRepo struct {
	runs    []store.Run
	entries []store.EntryResult
	err     error

	lastStatus *store.RunStatus
	lastLimit  int
}

func sampleRuns() []store.Run {
	finished := time.Unix(200, 0).UTC()
	return []store.Run{{
		ID:         uuid.MustParse("0190c4d2-7a3b-7cc1-9d2e-3f4a5b6c7d8e"),
		StartedAt:  time.Unix(100, 0).UTC(),
		FinishedAt: &finished,
		Status:     store.RunSuccess,
		Totals:     store.Totals{Processed: 4, Skipped: 1},
	}}
}

func (m *mockRunRepo) StartRun(context.Context, uuid.UUID, time.Time) error {
	return m.err
}

func (m *mockRunRepo) CompleteRun(
	context.Context, uuid.UUID, time.Time, store.RunStatus, store.Totals, *string,
) error {
	return m.err
}

func (m *mockRunRepo) RecordEntries(context.Context, []store.EntryResult) error {
	return m.err
}

func (m *mockRunRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	if len(m.runs) > 0 {
		return m.runs[0], nil
	}
	return store.Run{}, m.err
}

func (m *mockRunRepo) ListRuns(_ context.Context, status *store.RunStatus, limit, _ int) ([]store.Run, error) {
	m.lastStatus = status
	m.lastLimit = limit
	return m.runs, m.err
}

func (m *mockRunRepo) ListRunEntries(context.Context, uuid.UUID, int, int) ([]store.EntryResult, error) {
	return m.entries, m.err
}

func withRunIDParam(r *http.Request, runID string) *http.Request {
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("run_id", runID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, ctx))
}
