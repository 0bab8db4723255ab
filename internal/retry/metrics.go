package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "blockr",
			Subsystem: "retry_queue",
			Name:      "depth",
			Help:      "Operations waiting in the retry queue, including the running one.",
		},
	)

	queueOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blockr",
			Subsystem: "retry_queue",
			Name:      "ops_total",
			Help:      "Queued operations settled, by result.",
		},
		[]string{"result"},
	)

	attemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blockr",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Retries scheduled after a transient failure.",
		},
	)
)
