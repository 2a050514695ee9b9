// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roomrelay"

var (
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms_active",
		Help:      "Rooms with at least one member.",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Connections currently served, in any session state.",
	})

	MessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_published_total",
		Help:      "Lines published into a room by a local session.",
	})

	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_delivered_total",
		Help:      "Lines written out to a session's connection.",
	})

	MessagesLagged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_lagged_total",
		Help:      "Broadcast messages dropped because a subscriber fell behind.",
	})

	MessagesRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_rate_limited_total",
		Help:      "Inbound lines discarded by the per-connection rate limiter.",
	})

	SessionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_errors_total",
		Help:      "Sessions that ended with an error, by reason.",
	}, []string{"reason"})

	BusMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_messages_total",
		Help:      "Messages exchanged with other relay instances, by direction.",
	}, []string{"direction"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
