// Package metrics exposes Prometheus counters for the client core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the client core's counters. Construct one per registry; tests
// pass their own registry so counters never collide across cases.
type Metrics struct {
	Requests       *prometheus.CounterVec
	TokenRefreshes *prometheus.CounterVec
	ForcedSignOuts *prometheus.CounterVec
}

// New registers the counters on reg. A nil reg registers nothing, which keeps
// the counters usable for hosts that do not scrape.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "console_client_requests_total",
			Help: "Outbound API requests by method and HTTP status.",
		}, []string{"method", "status"}),
		TokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "console_client_token_refresh_total",
			Help: "Access-token refresh attempts by outcome.",
		}, []string{"outcome"}),
		ForcedSignOuts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "console_client_forced_signout_total",
			Help: "Forced sign-outs by reason.",
		}, []string{"reason"}),
	}
}
