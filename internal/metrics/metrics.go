// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Connections prometheus.Gauge

	ClaimsGranted prometheus.Counter
	ClaimsDenied  *prometheus.CounterVec

	Drops   prometheus.Counter
	Expired prometheus.Counter

	SendFailures prometheus.Counter
	BadMessages  prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer
// in main; tests use a fresh registry so parallel packages don't collide.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "citypulse_connections",
			Help: "Currently registered client connections.",
		}),
		ClaimsGranted: f.NewCounter(prometheus.CounterOpts{
			Name: "citypulse_claims_granted_total",
			Help: "Claim attempts that won the conditional update.",
		}),
		ClaimsDenied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citypulse_claims_denied_total",
			Help: "Claim attempts that lost, by reason.",
		}, []string{"reason"}),
		Drops: f.NewCounter(prometheus.CounterOpts{
			Name: "citypulse_collectible_drops_total",
			Help: "Collectibles created by the drop duty.",
		}),
		Expired: f.NewCounter(prometheus.CounterOpts{
			Name: "citypulse_collectibles_expired_total",
			Help: "Collectibles deactivated by the expiry sweep.",
		}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "citypulse_send_failures_total",
			Help: "Outbound deliveries dropped because the transport failed.",
		}),
		BadMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "citypulse_bad_messages_total",
			Help: "Inbound messages rejected by validation.",
		}),
	}
}
