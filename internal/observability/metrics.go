// Package observability holds the Prometheus collectors of the widget server.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	interactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapwidget_interactions_total",
			Help: "Map and layer clicks relayed from clients.",
		},
		[]string{"widget", "kind"},
	)

	refreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapwidget_refresh_total",
			Help: "Configuration payloads pushed to widget instances.",
		},
		[]string{"widget"},
	)

	layersDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapwidget_layers_dropped_total",
			Help: "Layers left out of a payload for invalid geometry.",
		},
		[]string{"type"},
	)

	markersCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapwidget_markers_created_total",
			Help: "Marker creation attempts by outcome.",
		},
		[]string{"widget", "outcome"},
	)

	buildSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mapwidget_config_build_seconds",
			Help:    "Time spent building a widget configuration.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"widget"},
	)
)

func IncInteraction(widget, kind string) {
	interactionsTotal.WithLabelValues(widget, kind).Inc()
}

func IncRefresh(widget string) {
	refreshTotal.WithLabelValues(widget).Inc()
}

func IncLayerDropped(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	layersDroppedTotal.WithLabelValues(kind).Inc()
}

func IncMarkerCreated(widget string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	markersCreatedTotal.WithLabelValues(widget, outcome).Inc()
}

func ObserveBuild(widget string, seconds float64) {
	buildSeconds.WithLabelValues(widget).Observe(seconds)
}
