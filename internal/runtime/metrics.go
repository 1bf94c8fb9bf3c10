package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for the processed-entries counter.
const (
	ResultProcessed    = "processed"
	ResultSkipped      = "skipped"
	ResultPermanent    = "permanent_failure"
	ResultTransient    = "transient_failure"
	ResultDeadLettered = "dead_lettered"
)

// Metrics bundles the Prometheus collectors for the event stream runtime.
type Metrics struct {
	Published       *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
	Processed       *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
	Missions        *prometheus.CounterVec
	PendingDepth    *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventstream",
			Name:      "events_published_total",
			Help:      "Events successfully appended to a stream.",
		}, []string{"stream"}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventstream",
			Name:      "publish_failures_total",
			Help:      "Publish attempts dropped after exhausting retries.",
		}, []string{"stream"}),
		Processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventstream",
			Name:      "entries_processed_total",
			Help:      "Stream entries handled by a consumer, by outcome.",
		}, []string{"stream", "group", "result"}),
		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "eventstream",
			Name:      "handler_duration_seconds",
			Help:      "Time spent running all handlers for one entry.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"group", "event_type"}),
		Missions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventstream",
			Name:      "missions_total",
			Help:      "Mission lifecycle transitions, by resulting status.",
		}, []string{"status"}),
		PendingDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "eventstream",
			Name:      "pending_entries",
			Help:      "Depth of a consumer group's pending list.",
		}, []string{"stream", "group"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Published,
			m.PublishFailures,
			m.Processed,
			m.HandlerDuration,
			m.Missions,
			m.PendingDepth,
		)
	}
	return m
}

// NopMetrics returns unregistered collectors, for callers that do not care
// about metrics.
func NopMetrics() *Metrics {
	return NewMetrics(nil)
}
