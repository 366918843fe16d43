package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	RequestsCollectorName = "http_requests_total"
	LatencyCollectorName  = "http_request_duration_seconds"
)

// Middleware exposes the number and latency of HTTP requests partitioned by
// status code, method and route pattern.
type Middleware struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewMiddleware(name string) *Middleware {
	var m Middleware
	m.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem:   installer,
			Name:        RequestsCollectorName,
			Help:        "Number of HTTP requests partitioned by status code, method and route.",
			ConstLabels: prometheus.Labels{"service": name},
		}, []string{"code", "method", "path"})

	m.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Subsystem:   installer,
		Name:        LatencyCollectorName,
		Help:        "Time spent on the request partitioned by status code, method and route.",
		ConstLabels: prometheus.Labels{"service": name},
		Buckets:     []float64{0.005, 0.025, 0.1, 0.5, 1, 5},
	}, []string{"code", "method", "path"})

	return &m
}

// Handler returns a handler for the middleware pattern. Requests that did not
// match a route are not recorded to keep the path label bounded.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		rctx := chi.RouteContext(r.Context())
		if rctx == nil || rctx.RoutePattern() == "" {
			return
		}
		code := strconv.Itoa(ww.Status())
		m.requests.WithLabelValues(code, r.Method, rctx.RoutePattern()).Inc()
		m.latency.WithLabelValues(code, r.Method, rctx.RoutePattern()).Observe(time.Since(start).Seconds())
	}
	return http.HandlerFunc(fn)
}

// Collectors returns collector for your own collector registry.
func (m *Middleware) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requests, m.latency}
}

// Register adds the collectors to reg. When reg already holds collectors with
// the same description the middleware switches to those.
func (m *Middleware) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		err := reg.Register(c)
		if err == nil {
			continue
		}
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return err
		}
		switch existing := are.ExistingCollector.(type) {
		case *prometheus.CounterVec:
			m.requests = existing
		case *prometheus.HistogramVec:
			m.latency = existing
		}
	}
	return nil
}
