package httpapi

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"chatgw/internal/session"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatgw",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatgw",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chatgw",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "In-flight HTTP requests",
		},
		[]string{"path"},
	)

	rejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatgw",
			Subsystem: "http",
			Name:      "rejected_total",
			Help:      "Requests or sessions refused before reaching the pipeline",
		},
		[]string{"reason"},
	)

	sessionActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatgw",
		Subsystem: "session",
		Name:      "active",
		Help:      "Open streaming sessions",
	})

	sessionEnvelopes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatgw",
			Subsystem: "session",
			Name:      "envelopes_total",
			Help:      "Completed reply envelopes by outcome",
		},
		[]string{"outcome"},
	)

	sessionTokens = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatgw",
		Subsystem: "session",
		Name:      "tokens_total",
		Help:      "Token events sent to clients",
	})

	sessionRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatgw",
			Subsystem: "session",
			Name:      "rejected_messages_total",
			Help:      "Inbound messages answered with a lone error",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal, httpRequestDuration, httpInflight, rejectedTotal,
		sessionActive, sessionEnvelopes, sessionTokens, sessionRejected,
	)
}

// statusRecorder wraps http.ResponseWriter to capture status code. It passes
// Hijack and Flush through so websocket upgrades keep working.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	// An upgraded connection is reported as 101.
	sr.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// MetricsMiddleware instruments requests for Prometheus
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := routePatternOrPath(r)
		method := r.Method
		httpInflight.WithLabelValues(path).Inc()
		defer httpInflight.WithLabelValues(path).Dec()

		sr := &statusRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(sr, r)
		// chi fills the pattern while routing, so read it again.
		path = routePatternOrPath(r)
		statusLabel := strconv.Itoa(sr.status)
		dur := time.Since(start).Seconds()
		httpRequestsTotal.WithLabelValues(path, method, statusLabel).Inc()
		httpRequestDuration.WithLabelValues(path, method, statusLabel).Observe(dur)
	})
}

// routePatternOrPath returns the chi route pattern if available, otherwise
// falls back to URL path. This avoids high-cardinality label values.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// IncrementRejected counts a request refused before reaching the pipeline.
func IncrementRejected(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	rejectedTotal.WithLabelValues(reason).Inc()
}

// SessionMetrics is a session.Publisher that feeds the session collectors.
type SessionMetrics struct{}

func (SessionMetrics) Publish(e session.LifecycleEvent) {
	switch e.Name {
	case session.EventOpened:
		sessionActive.Inc()
	case session.EventClosed:
		sessionActive.Dec()
	case session.EventToken:
		sessionTokens.Inc()
	case session.EventFinished:
		outcome, _ := e.Fields["outcome"].(string)
		sessionEnvelopes.WithLabelValues(outcome).Inc()
	case session.EventRejected:
		reason, _ := e.Fields["reason"].(string)
		sessionRejected.WithLabelValues(reason).Inc()
	}
}
