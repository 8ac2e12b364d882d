// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"solana-swap-watch/internal/collector"
	"solana-swap-watch/internal/notify"
	"solana-swap-watch/internal/pipeline"
	"solana-swap-watch/internal/poller"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "swap_watch"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Poll loop metrics
	PollCycles      *prometheus.CounterVec
	PollDuration    *prometheus.HistogramVec
	FetchErrors     *prometheus.CounterVec
	ActivitiesFetch *prometheus.CounterVec
	TradesEmitted   *prometheus.CounterVec
	NotifyErrors    *prometheus.CounterVec

	// Pipeline metrics
	RecordsDropped *prometheus.CounterVec

	// Notifier metrics
	NotifierFailures *prometheus.CounterVec

	// Collector metrics
	CollectorPages      prometheus.Counter
	CollectorSignatures prometheus.Counter
	CollectorDropped    prometheus.Counter

	// Health metrics
	LastSuccessfulPoll *prometheus.GaugeVec
}

// Compile-time interface checks.
var (
	_ poller.Recorder        = (*Metrics)(nil)
	_ pipeline.DropObserver  = (*Metrics)(nil)
	_ notify.FailureObserver = (*Metrics)(nil)
	_ collector.Recorder     = (*Metrics)(nil)
)

// NewMetrics creates a Metrics instance registered with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PollCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycles_total",
			Help:      "Total number of completed poll cycles",
		}, []string{"target"}),
		PollDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycle_duration_seconds",
			Help:      "Poll cycle duration in seconds, fetch through delivery",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"target"}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "fetch_errors_total",
			Help:      "Total number of failed provider fetches by kind",
		}, []string{"target", "kind"}),
		ActivitiesFetch: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "activities_fetched_total",
			Help:      "Total number of raw activities returned by the provider",
		}, []string{"target"}),
		TradesEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "trades_emitted_total",
			Help:      "Total number of trades that passed every filter",
		}, []string{"target"}),
		NotifyErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "notify_errors_total",
			Help:      "Total number of trades whose delivery failed",
		}, []string{"target"}),

		RecordsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_dropped_total",
			Help:      "Total number of raw activities dropped by reason",
		}, []string{"target", "reason"}),

		NotifierFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Total number of failed deliveries by notifier",
		}, []string{"notifier"}),

		CollectorPages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "pages_total",
			Help:      "Total number of signature pages fetched",
		}),
		CollectorSignatures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "signatures_total",
			Help:      "Total number of signatures collected",
		}),
		CollectorDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "transactions_dropped_total",
			Help:      "Total number of transaction detail lookups that failed",
		}),

		LastSuccessfulPoll: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_poll_timestamp",
			Help:      "Unix timestamp of the last poll whose fetch succeeded",
		}, []string{"target"}),
	}
}

// ObserveCycle records one completed poll cycle.
func (m *Metrics) ObserveCycle(target string, fetched, emitted int, seconds float64) {
	m.PollCycles.WithLabelValues(target).Inc()
	m.PollDuration.WithLabelValues(target).Observe(seconds)
	m.ActivitiesFetch.WithLabelValues(target).Add(float64(fetched))
	m.TradesEmitted.WithLabelValues(target).Add(float64(emitted))
}

// ObserveFetchError records a failed fetch.
func (m *Metrics) ObserveFetchError(target string, auth bool) {
	kind := "fetch"
	if auth {
		kind = "auth"
	}
	m.FetchErrors.WithLabelValues(target, kind).Inc()
}

// ObserveNotifyError records a trade whose delivery failed.
func (m *Metrics) ObserveNotifyError(target string) {
	m.NotifyErrors.WithLabelValues(target).Inc()
}

// ObserveSuccess stamps the last successful poll.
func (m *Metrics) ObserveSuccess(target string) {
	m.LastSuccessfulPoll.WithLabelValues(target).Set(float64(time.Now().Unix()))
}

// ObserveDrop records a dropped raw activity.
func (m *Metrics) ObserveDrop(target, reason string) {
	m.RecordsDropped.WithLabelValues(target, reason).Inc()
}

// ObserveNotifierFailure records a failure of one notifier in a fan-out.
func (m *Metrics) ObserveNotifierFailure(name string) {
	m.NotifierFailures.WithLabelValues(name).Inc()
}

// ObserveCollectorPage records a fetched signature page.
func (m *Metrics) ObserveCollectorPage(signatures int) {
	m.CollectorPages.Inc()
	m.CollectorSignatures.Add(float64(signatures))
}

// ObserveCollectorDropped records a failed transaction lookup.
func (m *Metrics) ObserveCollectorDropped() {
	m.CollectorDropped.Inc()
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler serving a specific registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
