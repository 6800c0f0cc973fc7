package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for canwhat.
type Metrics struct {
	CanWhatRequests       prometheus.Counter
	CanWhatErrors         *prometheus.CounterVec
	CanWhatDuration       prometheus.Histogram
	CacheHits             prometheus.Counter
	CacheMisses           prometheus.Counter
	PipelineStageDuration *prometheus.HistogramVec
	StatementsEmitted     prometheus.Histogram
	gatherer              prometheus.Gatherer
}

// New creates and registers all metrics with the default Prometheus registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics registered against the provided Registerer.
// Use prometheus.NewRegistry() in tests to avoid duplicate registration panics.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := func(c prometheus.Collector) prometheus.Collector {
		reg.MustRegister(c)
		return c
	}

	canWhatRequests := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "canwhat_requests_total",
		Help: "Total number of canWhat invocations.",
	})
	factory(canWhatRequests)

	canWhatErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canwhat_errors_total",
		Help: "Total number of canWhat invocations that failed, by error kind.",
	}, []string{"kind"})
	factory(canWhatErrors)

	canWhatDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "canwhat_duration_seconds",
		Help:    "Duration of canWhat invocations.",
		Buckets: prometheus.DefBuckets,
	})
	factory(canWhatDuration)

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "canwhat_cache_hits_total",
		Help: "Total number of DataStore cache hits.",
	})
	factory(cacheHits)

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "canwhat_cache_misses_total",
		Help: "Total number of DataStore cache misses.",
	})
	factory(cacheMisses)

	pipelineStageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "canwhat_pipeline_stage_duration_seconds",
		Help:    "Duration of each CombinationPipeline stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
	factory(pipelineStageDuration)

	statementsEmitted := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "canwhat_statements_emitted",
		Help:    "Number of statements in the emitted policy document.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})
	factory(statementsEmitted)

	gatherer, ok := reg.(prometheus.Gatherer)
	if !ok {
		panic("BUG: registerer does not implement prometheus.Gatherer")
	}

	return &Metrics{
		CanWhatRequests:       canWhatRequests,
		CanWhatErrors:         canWhatErrors,
		CanWhatDuration:       canWhatDuration,
		CacheHits:             cacheHits,
		CacheMisses:           cacheMisses,
		PipelineStageDuration: pipelineStageDuration,
		StatementsEmitted:     statementsEmitted,
		gatherer:              gatherer,
	}
}

// Handler returns an HTTP handler for the /metrics endpoint using the
// registry that was provided to NewWithRegistry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
