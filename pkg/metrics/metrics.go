// Package metrics exposes Prometheus counters and histograms for the
// request pipeline and model registry. It never phones home: everything it
// tracks is served locally at GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tracker owns the process-wide metric collectors and the helper methods
// the request pipeline and registry call to record activity.
type Tracker struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensEmitted   *prometheus.CounterVec
	modelsLoaded    prometheus.Gauge
	loadDuration    *prometheus.HistogramVec
}

// NewTracker registers the collectors against reg and returns a Tracker.
// Passing prometheus.NewRegistry() (rather than the global default
// registry) keeps tests hermetic.
func NewTracker(reg prometheus.Registerer) *Tracker {
	factory := promauto.With(reg)
	return &Tracker{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shimmy",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests served, by route and status class.",
		}, []string{"route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shimmy",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		tokensEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shimmy",
			Name:      "tokens_emitted_total",
			Help:      "Total generated token fragments, by model.",
		}, []string{"model"}),
		modelsLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "shimmy",
			Name:      "models_loaded",
			Help:      "Number of models currently loaded in the registry cache.",
		}),
		loadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shimmy",
			Name:      "model_load_duration_seconds",
			Help:      "Time spent loading a model into the registry cache.",
			Buckets:   []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model"}),
	}
}

// ObserveRequest records one completed HTTP request.
func (t *Tracker) ObserveRequest(route, statusClass string, seconds float64) {
	t.requestsTotal.WithLabelValues(route, statusClass).Inc()
	t.requestDuration.WithLabelValues(route).Observe(seconds)
}

// ObserveTokens adds n to the tokens-emitted counter for model.
func (t *Tracker) ObserveTokens(model string, n int) {
	if n <= 0 {
		return
	}
	t.tokensEmitted.WithLabelValues(model).Add(float64(n))
}

// ObserveLoad records how long a model load took.
func (t *Tracker) ObserveLoad(model string, seconds float64) {
	t.loadDuration.WithLabelValues(model).Observe(seconds)
}

// SetModelsLoaded sets the models-loaded gauge to n.
func (t *Tracker) SetModelsLoaded(n int) {
	t.modelsLoaded.Set(float64(n))
}
