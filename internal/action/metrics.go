package action

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plenum_action_batches_total",
		Help: "Processed action batches by outcome.",
	}, []string{"result"})

	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plenum_actions_total",
		Help: "Executed actions by name and outcome.",
	}, []string{"action", "result"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plenum_action_retries_total",
		Help: "Batch retries caused by datastore lock conflicts.",
	})

	writeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "plenum_write_request_seconds",
		Help:    "Latency of the merged write request.",
		Buckets: prometheus.DefBuckets,
	})
)
