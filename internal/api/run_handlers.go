package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/minigist/internal/store"
)

const (
	defaultRunLimit     = 50
	maxRunLimit         = 500
	defaultEntriesLimit = 100
	maxEntriesLimit     = 1000
	historyTimeout      = 3 * time.Second
)

// RunHandler exposes read-only run history endpoints.
type RunHandler struct {
	repo    store.RunRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunHandler wires the repository and logger.
func NewRunHandler(repo store.RunRepository, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		repo:    repo,
		timeout: historyTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /v1/runs?status=&limit=&offset=. It returns a JSON
// object {"runs": [...]} on success, 400 for invalid filters, 503 when the
// run store is disabled, or 500 if the repository call fails.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.RunStatus
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		statusVal, parseErr := parseStatus(statusParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &statusVal
	}
	runs, err := h.repo.ListRuns(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": toRunDTOs(runs)})
}

// GetRun handles GET /v1/runs/{run_id}. It returns {"run": {...}}, 400 for
// malformed IDs and 404 when the repository reports store.ErrNotFound.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

// ListRunEntries handles GET /v1/runs/{run_id}/entries?limit=&offset= and
// returns {"entries": [...]}.
func (h *RunHandler) ListRunEntries(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultEntriesLimit, maxEntriesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	entries, err := h.repo.ListRunEntries(ctx, runID, limit, offset)
	if err != nil {
		h.logger.Error("list run entries failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list run entries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": toEntryDTOs(entries)})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	runID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return runID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.RunStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.RunRunning, nil
	case "success":
		return store.RunSuccess, nil
	case "aborted":
		return store.RunAborted, nil
	case "error", "failed", "failure":
		return store.RunError, nil
	default:
		return "", errors.New("invalid status")
	}
}

func toRunDTOs(in []store.Run) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toRunDTO(run))
	}
	return out
}

func toRunDTO(run store.Run) runDTO {
	return runDTO{
		ID:         run.ID.String(),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Processed:  run.Totals.Processed,
		Skipped:    run.Totals.Skipped,
		Failed:     run.Totals.Failed,
		Error:      run.ErrorMessage,
	}
}

func toEntryDTOs(in []store.EntryResult) []entryDTO {
	out := make([]entryDTO, 0, len(in))
	for _, e := range in {
		out = append(out, entryDTO{
			EntryID:     e.EntryID,
			FeedID:      e.FeedID,
			Disposition: e.Disposition,
			Note:        e.Note,
			Bytes:       e.Bytes,
			At:          e.At,
		})
	}
	return out
}

type runDTO struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Processed  int64      `json:"processed"`
	Skipped    int64      `json:"skipped"`
	Failed     int64      `json:"failed"`
	Error      *string    `json:"error,omitempty"`
}

type entryDTO struct {
	EntryID     int64     `json:"entry_id"`
	FeedID      int64     `json:"feed_id"`
	Disposition string    `json:"disposition"`
	Note        string    `json:"note,omitempty"`
	Bytes       int64     `json:"bytes"`
	At          time.Time `json:"at"`
}
