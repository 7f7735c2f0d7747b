package tasks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orderflow_tasks_in_flight",
		Help: "Number of detail tasks currently running",
	})

	tasksStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderflow_tasks_started_total",
		Help: "Total number of detail tasks started",
	})

	tasksSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderflow_tasks_skipped_total",
		Help: "Total number of detail tasks skipped because a stop was requested",
	})

	tasksPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderflow_tasks_panics_total",
		Help: "Total number of detail tasks that panicked and were recovered",
	})
)
