package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the feature server's counters. Each instance carries its
// own Prometheus registry.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	clusterQueries      prometheus.Counter
	clusterQueryTime    prometheus.Histogram
	indexBuilds         prometheus.Counter
	snapshotSaves       prometheus.Counter
}

// New creates a fresh Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "globe",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by the feature server",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "globe",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by the feature server",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	clusterQueries := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "globe",
		Name:      "cluster_queries_total",
		Help:      "Total number of viewport cluster queries answered",
	})

	clusterQueryTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "globe",
		Name:      "cluster_query_duration_seconds",
		Help:      "Duration of viewport cluster queries",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	indexBuilds := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "globe",
		Name:      "index_builds_total",
		Help:      "Total number of cluster index builds",
	})

	snapshotSaves := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "globe",
		Name:      "snapshot_saves_total",
		Help:      "Total number of index snapshots written to disk",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		clusterQueries,
		clusterQueryTime,
		indexBuilds,
		snapshotSaves,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		clusterQueries:      clusterQueries,
		clusterQueryTime:    clusterQueryTime,
		indexBuilds:         indexBuilds,
		snapshotSaves:       snapshotSaves,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveClusterQuery records one viewport query.
func (m *Metrics) ObserveClusterQuery(duration time.Duration) {
	if m == nil {
		return
	}
	m.clusterQueries.Inc()
	m.clusterQueryTime.Observe(duration.Seconds())
}

// IncIndexBuild increments the index build counter.
func (m *Metrics) IncIndexBuild() {
	if m == nil {
		return
	}
	m.indexBuilds.Inc()
}

// IncSnapshotSave increments the snapshot counter.
func (m *Metrics) IncSnapshotSave() {
	if m == nil {
		return
	}
	m.snapshotSaves.Inc()
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
