package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "warungpos"

type Metrics struct {
	SalesTotal      *prometheus.CounterVec
	SalesRevenue    *prometheus.CounterVec
	SaleFailures    *prometheus.CounterVec
	SaleDuration    prometheus.Histogram
	StoreBusy       prometheus.Counter
	SchemaVersion   prometheus.Gauge
	IncomingGoods   prometheus.Counter
	FileCacheHits   prometheus.Counter
	FileCacheMisses prometheus.Counter
}

// New registers every collector on reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SalesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "completed_total",
			Help:      "Completed sales by transaction type",
		}, []string{"type"}),
		SalesRevenue: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "revenue_rupiah_total",
			Help:      "Sum of sale totals in rupiah by transaction type",
		}, []string{"type"}),
		SaleFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "rejected_total",
			Help:      "Rejected sales by reason",
		}, []string{"reason"}),
		SaleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "duration_seconds",
			Help:      "Time spent committing a sale",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		StoreBusy: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "busy_total",
			Help:      "Writes rejected because a lock could not be taken in time",
		}),
		SchemaVersion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "schema_version",
			Help:      "Schema version the store is at",
		}),
		IncomingGoods: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "incoming_goods_total",
			Help:      "Recorded incoming goods documents",
		}),
		FileCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "files",
			Name:      "cache_hits_total",
			Help:      "File reads served from the LRU",
		}),
		FileCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "files",
			Name:      "cache_misses_total",
			Help:      "File reads that went to the store",
		}),
	}
}
