package apiServer

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/i5heu/ouroboros-pathindex/pkg/prefixTree"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	stored        prometheus.Counter
	storeFailures *prometheus.CounterVec
	searchResults prometheus.Histogram

	verticesCreated prometheus.Counter
	rollbacks       *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pathindex",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pathindex",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		stored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pathindex",
			Name:      "documents_stored_total",
			Help:      "Documents stored and linked into the prefix tree.",
		}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pathindex",
			Name:      "store_failures_total",
			Help:      "Failed stores, by whether the document was left orphaned.",
		}, []string{"orphaned"}),
		searchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pathindex",
			Name:      "search_results",
			Help:      "Number of documents returned per search.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		verticesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pathindex",
			Subsystem: "tree",
			Name:      "vertices_created_total",
			Help:      "Vertices created by successful inserts.",
		}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pathindex",
			Subsystem: "tree",
			Name:      "rollbacks_total",
			Help:      "Rolled back inserts, by whether vertices were left behind.",
		}, []string{"residue"}),
	}

	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.stored,
		m.storeFailures,
		m.searchResults,
		m.verticesCreated,
		m.rollbacks,
		collectors.NewGoCollector(),
	)
	return m
}

// observeInsertFailure counts err if it is a rolled back tree insert.
func (m *metrics) observeInsertFailure(err error) {
	var insertErr *prefixTree.InsertError
	if !errors.As(err, &insertErr) {
		return
	}
	m.rollbacks.WithLabelValues(strconv.FormatBool(insertErr.RollbackErr != nil)).Inc()
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
