package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeliveriesEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitalsync_deliveries_enqueued_total",
		Help: "Total number of deliveries placed on the ingest queue, labelled by origin.",
	}, []string{"origin"})

	DeliveriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vitalsync_deliveries_dropped_total",
		Help: "Total number of deliveries refused because the ingest queue was full.",
	})

	DeliveriesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitalsync_deliveries_processed_total",
		Help: "Total number of deliveries processed, labelled by source and outcome.",
	}, []string{"source", "outcome"})

	EventsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitalsync_events_accepted_total",
		Help: "Total number of events persisted, labelled by source and kind.",
	}, []string{"source", "kind"})

	// EventsDuplicate is labelled by the layer that caught the duplicate: cache or store.
	EventsDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitalsync_events_duplicate_total",
		Help: "Total number of duplicate events suppressed, labelled by source and layer.",
	}, []string{"source", "layer"})

	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitalsync_events_rejected_total",
		Help: "Total number of malformed samples dropped, labelled by source.",
	}, []string{"source"})

	CacheErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vitalsync_cache_errors_total",
		Help: "Total number of idempotency cache failures.",
	})

	// StaleMarkers counts cache markers left behind after a failed store write.
	StaleMarkers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vitalsync_cache_stale_markers_total",
		Help: "Total number of cache markers that could not be released after a store failure.",
	})

	StoreErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vitalsync_store_errors_total",
		Help: "Total number of event store failures.",
	})

	IngestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vitalsync_ingest_duration_ms",
		Help:    "Per-delivery ingest latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"source"})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vitalsync_queue_utilization_ratio",
		Help: "Current ingest queue utilization (0–1).",
	})

	PollRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitalsync_poll_runs_total",
		Help: "Total number of poll job runs, labelled by job and status.",
	}, []string{"job", "status"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitalsync_http_requests_total",
		Help: "Total number of HTTP requests, labelled by route and status code.",
	}, []string{"route", "code"})
)
