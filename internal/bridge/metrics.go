package bridge

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mesh",
			Subsystem: "bridge",
			Name:      "frames_in_total",
			Help:      "Inbound transport frames by disposition.",
		},
		[]string{"bridge", "disposition"},
	)
	framesOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mesh",
			Subsystem: "bridge",
			Name:      "frames_out_total",
			Help:      "Outbound envelopes written to the transport.",
		},
		[]string{"bridge", "type"},
	)
	droppedSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mesh",
			Subsystem: "bridge",
			Name:      "dropped_sends_total",
			Help:      "Sends dropped because the bridge was not connected.",
		},
		[]string{"bridge"},
	)
	droppedPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mesh",
			Subsystem: "bridge",
			Name:      "dropped_publishes_total",
			Help:      "Inbound publishes to channels with no subscribers.",
		},
		[]string{"bridge"},
	)
	reconnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mesh",
			Subsystem: "bridge",
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnect attempts.",
		},
		[]string{"bridge"},
	)
	requestOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mesh",
			Subsystem: "bridge",
			Name:      "requests_total",
			Help:      "Correlated requests by outcome.",
		},
		[]string{"bridge", "outcome"},
	)
	activeSubscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mesh",
			Subsystem: "bridge",
			Name:      "active_subscriptions",
			Help:      "Live subscription ids across all channels.",
		},
		[]string{"bridge"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesIn,
			framesOut,
			droppedSends,
			droppedPublishes,
			reconnectAttempts,
			requestOutcomes,
			activeSubscriptions,
		)
	})
}
