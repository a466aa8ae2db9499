package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Sends           *prometheus.CounterVec
	Fallbacks       prometheus.Counter
	EventsIngested  prometheus.Counter
	EventsDuplicate prometheus.Counter
	EventsMalformed prometheus.Counter
	SyncRuns        prometheus.Counter
	SyncPages       prometheus.Counter
	SyncFailures    prometheus.Counter
	SyncDuration    prometheus.Histogram
}

// NewMetrics creates Prometheus metrics registered with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Sends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_relay_sends_total",
			Help: "Total number of send attempts by transport and outcome",
		}, []string{"transport", "outcome"}),
		Fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_relay_fallback_total",
			Help: "Total number of sends re-dispatched through the fallback transport",
		}),
		EventsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_relay_events_ingested_total",
			Help: "Total number of provider events recorded",
		}),
		EventsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_relay_events_duplicate_total",
			Help: "Total number of provider events skipped as duplicates",
		}),
		EventsMalformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_relay_events_malformed_total",
			Help: "Total number of provider events dropped as malformed",
		}),
		SyncRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_relay_sync_runs_total",
			Help: "Total number of event sync runs",
		}),
		SyncPages: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_relay_sync_pages_total",
			Help: "Total number of event log pages fetched",
		}),
		SyncFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_relay_sync_failures_total",
			Help: "Total number of event sync runs that ended with an error",
		}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mail_relay_sync_duration_seconds",
			Help:    "Time spent syncing the provider event log",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
