package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "obt_builder_build_info",
			Help: "Build information of the OBT builder",
		},
		[]string{"version", "commit", "date"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obt_builder_runs_total",
			Help: "Total number of build runs",
		},
		[]string{"mode", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "obt_builder_run_duration_seconds",
			Help:    "Duration of build runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3h
		},
		[]string{"mode"},
	)

	UnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obt_builder_units_total",
			Help: "Total number of finished units by outcome",
		},
		[]string{"mode", "status"},
	)

	UnitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "obt_builder_unit_duration_seconds",
			Help:    "Duration of units of work",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s to ~13.6m
		},
		[]string{"mode", "service"},
	)

	RowsInsertedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obt_builder_rows_inserted_total",
			Help: "Total number of rows inserted into the trips table",
		},
		[]string{"service"},
	)

	RowsDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obt_builder_rows_deleted_total",
			Help: "Total number of rows deleted from replaced partitions",
		},
		[]string{"service"},
	)

	RowsMirroredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obt_builder_rows_mirrored_total",
			Help: "Total number of rows copied to the ClickHouse mirror",
		},
		[]string{"service"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obt_builder_errors_total",
			Help: "Total number of failed runs by error class",
		},
		[]string{"type"},
	)
)
