package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetricsOptions configures the HTTP metrics middleware.
type HTTPMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Subsystem  string
	Buckets    []float64
}

// HTTPMetrics exposes Prometheus collectors for request instrumentation.
// AuthFailures counts the access-control outcomes this service exists to
// produce: rejected identities, denied authorizations, and throttled
// callers, split out from the general status-code counter so a spike in
// denials against a guardian's records is visible on its own.
type HTTPMetrics struct {
	Requests     *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
	InFlight     prometheus.Gauge
	AuthFailures *prometheus.CounterVec
}

// NewHTTPMetrics constructs and registers the request collectors. Collectors
// already present on the registerer are reused, so repeated construction in
// tests and reloads is safe.
func NewHTTPMetrics(opts HTTPMetricsOptions) (*HTTPMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "medrecord"
	}

	subsystem := opts.Subsystem
	if subsystem == "" {
		subsystem = "http"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	requests, err := registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "requests_total",
		Help:      "Total number of HTTP requests partitioned by method, route, and status code.",
	}, []string{"method", "route", "status"}))
	if err != nil {
		return nil, fmt.Errorf("register requests collector: %w", err)
	}

	duration, err := registerOrReuse(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_duration_seconds",
		Help:      "Histogram of HTTP request latencies in seconds partitioned by method, route, and status code.",
		Buckets:   buckets,
	}, []string{"method", "route", "status"}))
	if err != nil {
		return nil, fmt.Errorf("register duration collector: %w", err)
	}

	inFlight, err := registerOrReuse(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "in_flight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	}))
	if err != nil {
		return nil, fmt.Errorf("register inflight collector: %w", err)
	}

	authFailures, err := registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "auth_failures_total",
		Help:      "Total number of rejected requests partitioned by route and failure kind.",
	}, []string{"route", "kind"}))
	if err != nil {
		return nil, fmt.Errorf("register auth failures collector: %w", err)
	}

	return &HTTPMetrics{
		Requests:     requests,
		Duration:     duration,
		InFlight:     inFlight,
		AuthFailures: authFailures,
	}, nil
}

// registerOrReuse registers the collector, or adopts the one already held by
// the registerer when it carries the same descriptor.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing, nil
		}
		var zero T
		return zero, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
	}

	var zero T
	return zero, err
}

// authFailureKind maps a rejection status to the label the failure counter
// uses. Statuses outside the access-control set report "".
func authFailureKind(status int) string {
	switch status {
	case 401:
		return "unauthenticated"
	case 403:
		return "denied"
	case 429:
		return "throttled"
	default:
		return ""
	}
}

// Handler returns a Gin middleware that records the HTTP metrics.
func (m *HTTPMetrics) Handler() gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		if m.InFlight != nil {
			m.InFlight.Inc()
			defer m.InFlight.Dec()
		}

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		status := c.Writer.Status()
		labels := prometheus.Labels{
			"method": c.Request.Method,
			"route":  route,
			"status": strconv.Itoa(status),
		}

		if m.Requests != nil {
			m.Requests.With(labels).Inc()
		}

		if m.Duration != nil {
			elapsed := time.Since(start).Seconds()
			m.Duration.With(labels).Observe(elapsed)
		}

		if m.AuthFailures != nil {
			if kind := authFailureKind(status); kind != "" {
				m.AuthFailures.WithLabelValues(route, kind).Inc()
			}
		}
	}
}
