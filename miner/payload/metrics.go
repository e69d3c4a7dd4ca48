package payload

import "github.com/prometheus/client_golang/prometheus"

var (
	txIncludedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "execution_core",
		Subsystem: "payload",
		Name:      "transactions_included_total",
		Help:      "Number of transactions included into a built payload.",
	})
	txSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "execution_core",
		Subsystem: "payload",
		Name:      "transactions_skipped_total",
		Help:      "Number of transactions dropped from a build attempt, by reason.",
	}, []string{"reason"})
	buildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "execution_core",
		Subsystem: "payload",
		Name:      "build_duration_seconds",
		Help:      "Wall-clock time spent in one buildPayload call.",
		Buckets:   prometheus.DefBuckets,
	})
	rebuildsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "execution_core",
		Subsystem: "payload",
		Name:      "rebuilds_total",
		Help:      "Number of times the build loop produced a fresh candidate payload.",
	})
)

func init() {
	prometheus.MustRegister(txIncludedTotal, txSkippedTotal, buildDuration, rebuildsTotal)
}
