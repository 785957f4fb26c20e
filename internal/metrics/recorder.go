package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaxzod-muhandis/Admin-Panel/cache"
)

// Recorder owns a private Prometheus registry with the roster collectors.
// It is a cache.Observer and a rostercache.MutationMetrics.
type Recorder struct {
	registry *prometheus.Registry
	handler  http.Handler

	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	cacheLoadDuration  *prometheus.HistogramVec
	cacheInvalidations *prometheus.CounterVec
	mutationDuration   *prometheus.HistogramVec
	mutationTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
}

var _ cache.Observer = (*Recorder)(nil)

// New registers the collectors.
func New() *Recorder {
	registry := prometheus.NewRegistry()

	cacheHits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_cache_hits_total",
		Help: "Query cache reads served by a Ready, Pending or Failed entry",
	}, []string{"query"})

	cacheMisses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_cache_misses_total",
		Help: "Query cache reads that started a load",
	}, []string{"query"})

	cacheLoadDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roster_cache_load_duration_seconds",
		Help:    "Duration of query loads",
		Buckets: prometheus.DefBuckets,
	}, []string{"query", "result"})

	cacheInvalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_cache_invalidated_keys_total",
		Help: "Query keys removed by invalidation",
	}, []string{"query"})

	mutationDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roster_mutation_duration_seconds",
		Help:    "Duration of create, update and delete calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	mutationTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_mutations_total",
		Help: "Finished mutations by outcome",
	}, []string{"op", "result"})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	registry.MustRegister(cacheHits, cacheMisses, cacheLoadDuration, cacheInvalidations,
		mutationDuration, mutationTotal, requestDuration, requestTotal)

	return &Recorder{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		cacheLoadDuration:  cacheLoadDuration,
		cacheInvalidations: cacheInvalidations,
		mutationDuration:   mutationDuration,
		mutationTotal:      mutationTotal,
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler exposes the Prometheus HTTP handler.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

func (r *Recorder) CacheHit(key string) {
	r.cacheHits.WithLabelValues(queryLabel(key)).Inc()
}

func (r *Recorder) CacheMiss(key string) {
	r.cacheMisses.WithLabelValues(queryLabel(key)).Inc()
}

func (r *Recorder) LoadFinished(key string, took time.Duration, err error) {
	r.cacheLoadDuration.WithLabelValues(queryLabel(key), result(err)).Observe(took.Seconds())
}

func (r *Recorder) Invalidated(prefix string, removed int) {
	if removed <= 0 {
		return
	}
	r.cacheInvalidations.WithLabelValues(queryLabel(prefix)).Add(float64(removed))
}

// RecordMutation records one finished create, update or delete.
func (r *Recorder) RecordMutation(op string, err error, took time.Duration) {
	r.mutationDuration.WithLabelValues(op).Observe(took.Seconds())
	r.mutationTotal.WithLabelValues(op, result(err)).Inc()
}

// ObserveHTTPRequest records one served request.
func (r *Recorder) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labelStatus := strconv.Itoa(status)
	r.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	r.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// GinMiddleware observes every request using the matched route pattern as path.
func (r *Recorder) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		r.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// queryLabel keeps the namespace and method segments so label cardinality
// does not grow with page numbers or ids.
func queryLabel(key string) string {
	parts := strings.SplitN(key, cache.KeySeparator, 3)
	if len(parts) >= 2 {
		return parts[0] + cache.KeySeparator + parts[1]
	}
	return parts[0]
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
