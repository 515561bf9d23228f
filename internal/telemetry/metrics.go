/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnirswitch_api_requests_total",
		Help: "Total HTTP requests served by the control API.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grimnirswitch_api_request_duration_seconds",
		Help:    "Control API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnirswitch_api_active_connections",
		Help: "In-flight control API requests.",
	})

	ItemsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnirswitch_playout_items_started_total",
		Help: "Playlist items started, by source type.",
	}, []string{"source_type"})

	SwitchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grimnirswitch_playout_switches_total",
		Help: "Crossfade commands issued to the switcher.",
	})

	SourcesEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnirswitch_playout_sources_ended_total",
		Help: "Source end events, by reason (eof, disconnect).",
	}, []string{"reason"})

	ListenerDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grimnirswitch_listener_disconnects_total",
		Help: "Publisher disconnects observed on shared listener sockets.",
	})

	CurrentItemIndex = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnirswitch_playout_current_item_index",
		Help: "Index of the playlist item currently in the current slot.",
	})

	PlaylistExhaustedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnirswitch_playout_exhausted",
		Help: "1 once the playlist has run out of items.",
	})

	WHIPSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnirswitch_whip_sessions_active",
		Help: "Active WHIP ingest sessions.",
	})

	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grimnirswitch_db_query_duration_seconds",
		Help:    "Database operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnirswitch_db_errors_total",
		Help: "Database errors by operation.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnirswitch_db_connections_active",
		Help: "Open database connections.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
