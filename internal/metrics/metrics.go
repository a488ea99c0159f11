// Package metrics exposes the Prometheus collectors for downloads and the
// status server.
package metrics

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Download outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Metrics holds collectors registered against one registry.
type Metrics struct {
	downloadPagesTotal         *prometheus.CounterVec
	downloadBytesTotal         *prometheus.CounterVec
	headlessPromotionsTotal    prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	executorInFlight           prometheus.Gauge
	executorSlots              prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		downloadPagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minigist_download_pages_total",
				Help: "Total number of article pages downloaded, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		),
		downloadBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minigist_download_bytes_total",
				Help: "Total number of bytes of article markup downloaded, labeled by site.",
			},
			[]string{"site"},
		),
		headlessPromotionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "minigist_download_headless_promotions_total",
				Help: "Pages re-rendered in a headless browser after a plain fetch looked script-driven.",
			},
		),
		rateLimitDelaySeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "minigist_download_rate_limit_delay_seconds",
				Help:    "Histogram of per-site rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minigist_http_requests_total",
				Help: "Total number of status server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "minigist_http_request_duration_seconds",
				Help:    "Histogram of status server latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
		executorInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "minigist_executor_in_flight",
				Help: "Blocking collaborator calls currently holding an executor slot.",
			},
		),
		executorSlots: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "minigist_executor_slots",
				Help: "Size of the blocking-call executor.",
			},
		),
	}
	for _, c := range []prometheus.Collector{
		m.downloadPagesTotal,
		m.downloadBytesTotal,
		m.headlessPromotionsTotal,
		m.rateLimitDelaySeconds,
		m.httpRequestsTotal,
		m.httpRequestDurationSeconds,
		m.executorInFlight,
		m.executorSlots,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveDownload records one page download attempt.
func (m *Metrics) ObserveDownload(rawURL string, ok bool, bytesFetched int) {
	site := SanitizeSite(rawURL)
	outcome := OutcomeFailed
	if ok {
		outcome = OutcomeOK
	}
	m.downloadPagesTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		m.downloadBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveHeadlessPromotion counts a static page handed to the headless renderer.
func (m *Metrics) ObserveHeadlessPromotion() {
	m.headlessPromotionsTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func (m *Metrics) ObserveRateLimitDelay(site string, duration time.Duration) {
	m.rateLimitDelaySeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveExecutor records the executor occupancy.
func (m *Metrics) ObserveExecutor(inFlight, size int) {
	m.executorInFlight.Set(float64(inFlight))
	m.executorSlots.Set(float64(size))
}
