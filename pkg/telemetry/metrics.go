package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline counters, exposed on /metrics next to the default Go and
// process collectors.
var (
	RecordsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "missionlog_records_created_total",
		Help: "Records committed to the store.",
	})

	IndexPushFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "missionlog_index_push_failures_total",
		Help: "Best-effort index pushes that failed after commit.",
	})

	OutboxAcked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "missionlog_outbox_acked_total",
		Help: "Outbox entries applied to the search index.",
	})

	OutboxRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "missionlog_outbox_retries_total",
		Help: "Outbox apply attempts that failed and were rescheduled.",
	})

	OutboxFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "missionlog_outbox_failed_total",
		Help: "Outbox entries that exhausted their attempts.",
	})

	Queries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "missionlog_queries_total",
		Help: "Search queries served.",
	})

	QueriesDegraded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "missionlog_queries_degraded_total",
		Help: "Search queries answered from the store scan fallback.",
	})
)

func init() {
	prometheus.MustRegister(RecordsCreated)
	prometheus.MustRegister(IndexPushFailures)
	prometheus.MustRegister(OutboxAcked)
	prometheus.MustRegister(OutboxRetries)
	prometheus.MustRegister(OutboxFailed)
	prometheus.MustRegister(Queries)
	prometheus.MustRegister(QueriesDegraded)
}

// RegisterStoreGauges wires gauges that read live store state. Called once
// at startup, after the store is open.
func RegisterStoreGauges(outboxDepth, storeBytes func() float64) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "missionlog_outbox_pending",
			Help: "Outbox entries waiting to be applied.",
		},
		outboxDepth,
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "missionlog_store_bytes",
			Help: "On-disk size of the store directory.",
		},
		storeBytes,
	))
}
