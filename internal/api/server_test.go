package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/minigist/internal/progress"
	"github.com/JakeFAU/minigist/internal/progress/sinks"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(Options{}), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	ready := serve(newTestServer(Options{}), http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, ready.Code)

	failing := newTestServer(Options{Ready: func(context.Context) error { return errors.New("miniflux down") }})
	rec := serve(failing, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_MetricsUsesGatherer(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "minigist_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	rec := serve(newTestServer(Options{Gatherer: reg}), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "minigist_test_total 3")
}

func TestServer_StatusReportsSnapshot(t *testing.T) {
	t.Parallel()

	status := sinks.NewStatusSink()
	server := newTestServer(Options{Status: status})

	rec := serve(server, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	runID := uuid.New()
	require.NoError(t, status.Consume(context.Background(), []progress.Event{{
		RunID: progress.UUIDToBytes(runID),
		TS:    time.Unix(100, 0).UTC(),
		Stage: progress.StageRunStart,
	}}))

	rec = serve(server, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Run sinks.RunStatus `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, runID.String(), body.Run.RunID)
}

func TestServer_StatusDisabled(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(Options{}), http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_RunRoutes(t *testing.T) {
	t.Parallel()

	repo := &mockRunRepo{runs: sampleRuns()}
	server := newTestServer(Options{Runs: repo})

	rec := serve(server, http.MethodGet, "/v1/runs?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"success"`)

	rec = serve(server, http.MethodGet, "/v1/runs/"+repo.runs[0].ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(server, http.MethodGet, "/v1/runs/"+repo.runs[0].ID.String()+"/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"entries"`)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := newTestServer(Options{Status: sinks.NewStatusSink(), APIKey: "secret"})

	rec := serve(server, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(server, http.MethodGet, "/v1/status", map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(server, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(Options{})
	rec := serve(server, http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(server, http.MethodGet, "/healthz", map[string]string{"X-Request-ID": "abc"})
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestServer(Options{}).ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

func newTestServer(opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.NewRegistry()
	}
	return NewServer(opts, zap.NewNop())
}

func serve(s *Server, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
