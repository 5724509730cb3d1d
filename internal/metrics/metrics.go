package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Import metrics
	ImportRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadtrack_import_rows_total",
			Help: "Rows read by imports, by outcome",
		},
		[]string{"outcome"}, // created | updated | unchanged | skipped
	)

	ImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leadtrack_import_duration_seconds",
			Help:    "Duration of an import batch in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Store metrics
	LeadsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadtrack_leads",
			Help: "Leads currently held in the store",
		},
	)

	ChangeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadtrack_change_events_total",
			Help: "Change events recorded, by field",
		},
		[]string{"field"},
	)

	// Persistence metrics
	SaveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leadtrack_save_duration_seconds",
			Help:    "Duration of save transactions in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SaveErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadtrack_save_errors_total",
			Help: "Total number of failed saves",
		},
	)

	CorruptRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadtrack_corrupt_records_total",
			Help: "Stored records rejected on load, by table",
		},
		[]string{"table"},
	)

	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadtrack_backups_total",
			Help: "Backups taken, by status",
		},
		[]string{"status"},
	)

	// API metrics
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadtrack_api_rate_limit_hits_total",
			Help: "Total number of rate limited API requests",
		},
	)
)
