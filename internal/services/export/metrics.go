package export

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	exportRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orderflow_export_running",
		Help: "1 while an export session is running",
	})

	exportRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_export_runs_total",
		Help: "Total number of finished export sessions by outcome",
	}, []string{"outcome"})

	exportPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderflow_export_pages_total",
		Help: "Total number of list pages processed",
	})

	exportRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderflow_export_records_total",
		Help: "Total number of records appended to export aggregates",
	})

	exportRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orderflow_export_run_duration_seconds",
		Help:    "Duration of export sessions",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
	})
)
