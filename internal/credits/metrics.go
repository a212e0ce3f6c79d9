package credits

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadpilot",
		Subsystem: "credits",
		Name:      "operations_total",
		Help:      "Ledger operations by kind and outcome.",
	}, []string{"kind", "outcome"})

	OpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "leadpilot",
		Subsystem: "credits",
		Name:      "operation_duration_seconds",
		Help:      "Ledger operation latency by kind.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	ContentionRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leadpilot",
		Subsystem: "credits",
		Name:      "contention_retries_total",
		Help:      "Ledger write attempts retried after a conflict.",
	})
)

// observeOp times one ledger operation. The returned func records duration;
// outcome counters are bumped by the caller via OpsTotal where needed.
func observeOp(kind string) func() {
	start := time.Now()
	return func() {
		OpDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}
