// Package metrics exposes Prometheus counters for the API.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "inkwell"

type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	mentions       *prometheus.CounterVec
	resetRequests  prometheus.Counter
	revisionErrors prometheus.Counter
}

// New registers the API collectors, plus Go and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		mentions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mentions_total",
			Help:      "Mention outcomes: recorded, auto_shared, notified.",
		}, []string{"outcome"}),
		resetRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_reset_requests_total",
			Help:      "Password reset requests received.",
		}),
		revisionErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revision_commit_failures_total",
			Help:      "Document saves whose revision commit failed.",
		}),
	}
}

// ObserveRequest records one finished HTTP request. A nil receiver is a no-op.
func (m *Metrics) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	route := Route(path)
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveMentions(recorded, autoShared, notified int) {
	if m == nil {
		return
	}
	m.mentions.WithLabelValues("recorded").Add(float64(recorded))
	m.mentions.WithLabelValues("auto_shared").Add(float64(autoShared))
	m.mentions.WithLabelValues("notified").Add(float64(notified))
}

func (m *Metrics) PasswordResetRequested() {
	if m == nil {
		return
	}
	m.resetRequests.Inc()
}

func (m *Metrics) RevisionCommitFailed() {
	if m == nil {
		return
	}
	m.revisionErrors.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Route maps a request path to its route template. Paths that match no
// served route collapse to "other" so label cardinality stays bounded.
func Route(path string) string {
	if path == "/metrics" {
		return path
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] != "api" {
		return "other"
	}
	switch parts[1] {
	case "health", "ready", "session", "share", "users":
		if len(parts) == 2 {
			return "/api/" + parts[1]
		}
	case "auth":
		if len(parts) == 3 && authRoutes[parts[2]] {
			return "/api/auth/" + parts[2]
		}
	case "documents":
		return documentRoute(parts[2:])
	case "notifications":
		switch {
		case len(parts) == 2:
			return "/api/notifications"
		case len(parts) == 3 && parts[2] == "read-all":
			return "/api/notifications/read-all"
		case len(parts) == 4 && parts[3] == "read":
			return "/api/notifications/:id/read"
		}
	case "uploads":
		switch len(parts) {
		case 2:
			return "/api/uploads"
		case 3:
			return "/api/uploads/:key"
		}
	}
	return "other"
}

var authRoutes = map[string]bool{
	"register":        true,
	"signin":          true,
	"signout":         true,
	"forgot-password": true,
	"reset-password":  true,
}

var documentActions = map[string]bool{
	"update":     true,
	"visibility": true,
	"mentions":   true,
	"export":     true,
	"revisions":  true,
	"shares":     true,
}

// documentRoute templates the segments after /api/documents.
func documentRoute(rest []string) string {
	switch {
	case len(rest) == 0:
		return "/api/documents"
	case len(rest) == 1 && rest[0] == "create":
		return "/api/documents/create"
	case len(rest) == 1:
		return "/api/documents/:id"
	case len(rest) == 2 && documentActions[rest[1]]:
		return "/api/documents/:id/" + rest[1]
	case len(rest) == 3 && (rest[1] == "revisions" || rest[1] == "shares"):
		return "/api/documents/:id/" + rest[1] + "/:sub"
	}
	return "other"
}
