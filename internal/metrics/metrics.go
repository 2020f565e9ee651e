// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docucrawl"

// collectors groups every series the package records.
type collectors struct {
	attempts       *prometheus.CounterVec
	attemptSeconds *prometheus.HistogramVec
	tasks          *prometheus.CounterVec
	bytes          *prometheus.CounterVec
	transformFails *prometheus.CounterVec
	promotions     prometheus.Counter
	inFlight       prometheus.Gauge
	robotsTimeouts prometheus.Counter
	rateLimitWaits *prometheus.HistogramVec
	requests       *prometheus.CounterVec
	requestSeconds *prometheus.HistogramVec
}

var (
	std  *collectors
	once sync.Once
)

// Init registers the collectors with the default registerer. Calling it more
// than once is safe.
func Init() {
	once.Do(func() {
		std = newCollectors(prometheus.DefaultRegisterer)
	})
}

func newCollectors(reg prometheus.Registerer) *collectors {
	f := promauto.With(reg)
	return &collectors{
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "Fetch strategy tries by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		attemptSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "attempt_duration_seconds",
			Help:      "Fetch strategy try latency by strategy.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"strategy"}),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "tasks_total",
			Help:      "Finished URL tasks by site and status.",
		}, []string{"site", "status"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "html_bytes_total",
			Help:      "HTML bytes fetched by site.",
		}, []string{"site"}),
		transformFails: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "failures_total",
			Help:      "Documents that failed to transform, by stage.",
		}, []string{"stage"}),
		promotions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "shell_promotions_total",
			Help:      "Direct responses handed to a browser strategy.",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "in_flight_tasks",
			Help:      "URL tasks currently holding a concurrency slot.",
		}),
		robotsTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "robots_handshake_timeouts_total",
			Help:      "TLS handshake timeouts while fetching robots.txt.",
		}),
		rateLimitWaits: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting on per-domain rate limits.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"domain"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by method and status code.",
		}, []string{"method", "code"}),
		requestSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency by method and route pattern.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}
}

func get() *collectors {
	Init()
	return std
}

// SanitizeSite reduces a URL to its lowercase host for use as a label.
// Unparseable input and non-web URLs without a host map to "unknown".
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

// Handler serves the default registry.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveAttempt records one strategy try.
func ObserveAttempt(strategy, outcome string, d time.Duration) {
	c := get()
	c.attempts.WithLabelValues(strategy, outcome).Inc()
	c.attemptSeconds.WithLabelValues(strategy).Observe(d.Seconds())
}

// ObserveTask records a finished task and the bytes it fetched.
func ObserveTask(taskURL, status string, bytesFetched int) {
	c := get()
	site := SanitizeSite(taskURL)
	c.tasks.WithLabelValues(site, status).Inc()
	if bytesFetched > 0 {
		c.bytes.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveTransformFailure counts a document that failed at stage.
func ObserveTransformFailure(stage string) {
	get().transformFails.WithLabelValues(stage).Inc()
}

// ObserveShellPromotion counts a direct response handed to the browser.
func ObserveShellPromotion() {
	get().promotions.Inc()
}

// IncInFlight marks a task as holding a slot.
func IncInFlight() {
	get().inFlight.Inc()
}

// DecInFlight releases a slot taken with IncInFlight.
func DecInFlight() {
	get().inFlight.Dec()
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	c := get()
	c.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.requestSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveProbeTLSHandshakeTimeout counts a robots.txt handshake timeout.
func ObserveProbeTLSHandshakeTimeout() {
	get().robotsTimeouts.Inc()
}

// ObserveRateLimitDelay records time spent waiting for a domain's limiter.
func ObserveRateLimitDelay(domain string, d time.Duration) {
	get().rateLimitWaits.WithLabelValues(domain).Observe(d.Seconds())
}
