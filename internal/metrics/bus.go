// SPDX-License-Identifier: MIT

// Package metrics exposes the daemon's Prometheus collectors.
//
// Labels are kept to small fixed sets; video ids and request ids never
// become label values.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BusPublishedTotal counts events published to the summary bus by tag.
	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapterd_bus_published_total",
		Help: "Total number of events published to the summary bus, by event tag.",
	}, []string{"event"})

	// BusDroppedTotal counts events dropped before reaching a subscriber.
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chapterd_bus_dropped_total",
		Help: "Total number of bus events dropped, by reason.",
	}, []string{"reason"})

	// SSESubscribers tracks currently connected SSE subscribers.
	SSESubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chapterd_sse_subscribers",
		Help: "Current number of connected SSE subscribers.",
	})
)

// IncBusPublished records a published bus event.
func IncBusPublished(event string) {
	if event == "" {
		event = "unknown"
	}
	BusPublishedTotal.WithLabelValues(event).Inc()
}

// IncBusDropped records a bus event dropped for the given reason.
func IncBusDropped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(reason).Inc()
}

// IncSSESubscribers records a subscriber attach.
func IncSSESubscribers() {
	SSESubscribers.Inc()
}

// DecSSESubscribers records a subscriber detach.
func DecSSESubscribers() {
	SSESubscribers.Dec()
}
