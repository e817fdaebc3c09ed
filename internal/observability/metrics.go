package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider", "operation"},
	)

	IndexRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "index_runs_total",
			Help: "Total number of indexing passes by outcome",
		},
		[]string{"outcome"},
	)
	IndexChunksAddedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "index_chunks_added_total",
			Help: "Total number of chunks written to the vector store",
		},
	)
	IndexRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "index_run_duration_seconds",
			Help:    "Indexing pass duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	PollCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_cycles_total",
			Help: "Total number of mailbox poll cycles by outcome",
		},
		[]string{"outcome"},
	)
	PollMessagesStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "poll_messages_stored_total",
			Help: "Total number of new messages stored by the poller",
		},
	)

	AskRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ask_requests_total",
			Help: "Total number of answered questions by path",
		},
		[]string{"path"},
	)
	QueryCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_cache_hits_total",
			Help: "Retrieval cache lookups by result",
		},
		[]string{"result"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(AIRequestsTotal)
	prometheus.MustRegister(AIRequestDuration)
	prometheus.MustRegister(IndexRunsTotal)
	prometheus.MustRegister(IndexChunksAddedTotal)
	prometheus.MustRegister(IndexRunDuration)
	prometheus.MustRegister(PollCyclesTotal)
	prometheus.MustRegister(PollMessagesStoredTotal)
	prometheus.MustRegister(AskRequestsTotal)
	prometheus.MustRegister(QueryCacheHitsTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveIndexRun records one indexing pass.
func ObserveIndexRun(outcome string, chunksAdded int, dur time.Duration) {
	IndexRunsTotal.WithLabelValues(outcome).Inc()
	if chunksAdded > 0 {
		IndexChunksAddedTotal.Add(float64(chunksAdded))
	}
	IndexRunDuration.Observe(dur.Seconds())
}

// ObservePollCycle records one mailbox poll cycle.
func ObservePollCycle(outcome string, stored int) {
	PollCyclesTotal.WithLabelValues(outcome).Inc()
	if stored > 0 {
		PollMessagesStoredTotal.Add(float64(stored))
	}
}
