package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestObserveDownload(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.ObserveDownload("https://Example.com/a", true, 512)
	m.ObserveDownload("https://example.com/b", false, 0)
	m.ObserveHeadlessPromotion()
	m.ObserveRateLimitDelay("example.com", 200*time.Millisecond)

	if val := testutil.ToFloat64(m.downloadPagesTotal.WithLabelValues("example.com", OutcomeOK)); val != 1 {
		t.Errorf("expected 1 ok download, got %f", val)
	}
	if val := testutil.ToFloat64(m.downloadPagesTotal.WithLabelValues("example.com", OutcomeFailed)); val != 1 {
		t.Errorf("expected 1 failed download, got %f", val)
	}
	if val := testutil.ToFloat64(m.downloadBytesTotal.WithLabelValues("example.com")); val != 512 {
		t.Errorf("expected 512 bytes, got %f", val)
	}
	if val := testutil.ToFloat64(m.headlessPromotionsTotal); val != 1 {
		t.Errorf("expected 1 promotion, got %f", val)
	}
	if val := testutil.CollectAndCount(m.rateLimitDelaySeconds); val != 1 {
		t.Errorf("expected one rate limit series, got %d", val)
	}
}

func TestObserveExecutor(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.ObserveExecutor(3, 4)
	m.ObserveExecutor(1, 4)

	if val := testutil.ToFloat64(m.executorInFlight); val != 1 {
		t.Errorf("expected 1 call in flight, got %f", val)
	}
	if val := testutil.ToFloat64(m.executorSlots); val != 4 {
		t.Errorf("expected 4 slots, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
