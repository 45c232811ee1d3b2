package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scatter_runs_total",
			Help: "Total number of engine runs by terminal status.",
		},
		[]string{"status"},
	)

	itemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scatter_items_total",
			Help: "Total number of work items by terminal status.",
		},
		[]string{"status"},
	)

	outstandingItems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scatter_outstanding_items",
			Help: "Work items currently submitted and unresolved.",
		},
	)

	itemDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scatter_item_duration_seconds",
			Help:    "Work item duration from submission to resolution in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(itemsTotal)
	prometheus.MustRegister(outstandingItems)
	prometheus.MustRegister(itemDuration)
}
