// Package obs holds the prometheus instrumentation of the client core.
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes recorded by the sync engine.
const (
	OutcomeRemote  = "remote"
	OutcomeCreated = "created"
	OutcomeCached  = "cached"
	OutcomeDefault = "default"
	OutcomeShared  = "shared"
)

// Metrics groups the counters of the session and sync layers. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ProfileFetches *prometheus.CounterVec
	RemoteWrites   *prometheus.CounterVec
	PendingStaged  prometheus.Counter
	Retries        prometheus.Counter
	TokenRefreshes *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProfileFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "examreg_profile_fetches_total",
			Help: "Profile fetch-or-create calls by outcome.",
		}, []string{"outcome"}),
		RemoteWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "examreg_profile_remote_writes_total",
			Help: "Remote profile writes by result.",
		}, []string{"result"}),
		PendingStaged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "examreg_profile_pending_staged_total",
			Help: "Profile updates staged locally after a failed remote write.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "examreg_remote_retries_total",
			Help: "Retried remote document store attempts.",
		}),
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "examreg_token_refreshes_total",
			Help: "Bearer token mints by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.ProfileFetches, m.RemoteWrites, m.PendingStaged, m.Retries, m.TokenRefreshes)
	return m
}

func (m *Metrics) Fetch(outcome string) {
	if m != nil {
		m.ProfileFetches.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Write(ok bool) {
	if m != nil {
		m.RemoteWrites.WithLabelValues(result(ok)).Inc()
	}
}

func (m *Metrics) Staged() {
	if m != nil {
		m.PendingStaged.Inc()
	}
}

func (m *Metrics) Retry() {
	if m != nil {
		m.Retries.Inc()
	}
}

func (m *Metrics) Refresh(ok bool) {
	if m != nil {
		m.TokenRefreshes.WithLabelValues(result(ok)).Inc()
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// Handler exposes the registry in the prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
