// Package metrics exposes Prometheus instrumentation for the poller,
// historical cache, and WebSocket hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollCyclesTotal counts completed current-day poll iterations.
	PollCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rubintv_poll_cycles_total",
		Help: "Total number of current-day poll iterations completed",
	})

	// PollCameraErrorsTotal counts per-camera failures during polling.
	PollCameraErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rubintv_poll_camera_errors_total",
		Help: "Total number of per-camera poll errors by reason",
	}, []string{"location", "camera", "reason"})

	// PollBroadcastsTotal counts broadcasts emitted by kind.
	PollBroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rubintv_poll_broadcasts_total",
		Help: "Total number of broadcasts emitted by kind",
	}, []string{"kind"})

	// PollCycleDurationSeconds measures iteration latency.
	PollCycleDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rubintv_poll_cycle_duration_seconds",
		Help:    "Duration of a full current-day poll iteration",
		Buckets: prometheus.DefBuckets,
	})

	// HistoricalBuildDurationSeconds measures a full historical rebuild.
	HistoricalBuildDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rubintv_historical_build_duration_seconds",
		Help:    "Duration of a historical cache rebuild per location",
		Buckets: prometheus.DefBuckets,
	}, []string{"location"})

	// HistoricalBusy reports 1 while the historical cache is still
	// performing its initial build.
	HistoricalBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rubintv_historical_busy",
		Help: "Whether the historical cache is still performing its initial build",
	})

	// HistoricalEventsTotal tracks event counts per location after a rebuild.
	HistoricalEventsTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rubintv_historical_events_total",
		Help: "Number of events held in the historical cache per location",
	}, []string{"location"})

	// HubClientsConnected tracks currently connected WebSocket clients.
	HubClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rubintv_hub_clients_connected",
		Help: "Number of currently connected WebSocket clients",
	})

	// HubSubscriptionsTotal tracks active subscriptions by kind.
	HubSubscriptionsTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rubintv_hub_subscriptions_total",
		Help: "Number of active subscriptions by kind",
	}, []string{"kind"})

	// HubClientsDroppedTotal counts clients disconnected for a full queue.
	HubClientsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rubintv_hub_clients_dropped_total",
		Help: "Total number of clients dropped due to a full outbound queue",
	})

	// PresignCacheHitsTotal / MissesTotal measure the object-store
	// presigned URL cache effectiveness.
	PresignCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rubintv_presign_cache_hits_total",
		Help: "Total number of presigned URL cache hits",
	})
	PresignCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rubintv_presign_cache_misses_total",
		Help: "Total number of presigned URL cache misses",
	})
)
