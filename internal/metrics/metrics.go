// Package metrics defines the Prometheus collectors exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BidsAccepted counts admitted bids by mode ("sealed" or "outcry").
	BidsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gavel",
		Name:      "bids_accepted_total",
		Help:      "Bids admitted by the pipeline.",
	}, []string{"mode"})

	// BidsRejected counts rejected bids by error code.
	BidsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gavel",
		Name:      "bids_rejected_total",
		Help:      "Bids rejected by the admission pipeline.",
	}, []string{"code"})

	// SettlementActions counts settlement actions by kind.
	SettlementActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gavel",
		Name:      "settlement_actions_total",
		Help:      "Auctioneer settlement actions applied.",
	}, []string{"action"})

	// AdmissionDuration observes bid admission latency.
	AdmissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gavel",
		Name:      "bid_admission_duration_seconds",
		Help:      "Latency of the bid admission pipeline.",
		Buckets:   prometheus.DefBuckets,
	})

	// EventSubscribers gauges currently connected event stream subscribers.
	EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gavel",
		Name:      "event_subscribers",
		Help:      "Connected auction event stream subscribers.",
	})

	// EventsDropped counts fan-out envelopes dropped on slow subscribers.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gavel",
		Name:      "events_dropped_total",
		Help:      "Event envelopes dropped because a subscriber buffer was full.",
	})
)
