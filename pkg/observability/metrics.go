package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the linking service. All
// recording methods are safe on a nil receiver so instrumentation can be
// omitted in tests.
type Metrics struct {
	sessionsCreated prometheus.Counter
	callbacks       *prometheus.CounterVec
	roleGrants      *prometheus.CounterVec
	groupChecks     *prometheus.CounterVec
	providerReqs    *prometheus.HistogramVec
}

// NewMetrics creates and registers the service collectors.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_sessions_created_total",
			Help:      "Total number of verification sessions created.",
		}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_callbacks_total",
			Help:      "Total number of OAuth callbacks processed, by outcome.",
		}, []string{"outcome"}),
		roleGrants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "role_grants_total",
			Help:      "Total number of roles granted, by guild.",
		}, []string{"guild"}),
		groupChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_checks_total",
			Help:      "Total number of Roblox group membership checks, by result.",
		}, []string{"result"}),
		providerReqs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of Roblox API requests, by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(m.sessionsCreated, m.callbacks, m.roleGrants, m.groupChecks, m.providerReqs)

	return m
}

// RecordSessionCreated counts a newly created verification session.
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}

	m.sessionsCreated.Inc()
}

// RecordCallback counts a processed callback with its outcome.
func (m *Metrics) RecordCallback(outcome string) {
	if m == nil {
		return
	}

	m.callbacks.WithLabelValues(outcome).Inc()
}

// RecordRoleGrants counts roles granted in a guild.
func (m *Metrics) RecordRoleGrants(guildID int64, count int) {
	if m == nil || count == 0 {
		return
	}

	m.roleGrants.WithLabelValues(strconv.FormatInt(guildID, 10)).Add(float64(count))
}

// RecordGroupCheck counts a group membership check result.
func (m *Metrics) RecordGroupCheck(result string) {
	if m == nil {
		return
	}

	m.groupChecks.WithLabelValues(result).Inc()
}

// ObserveProviderRequest records the duration of a Roblox API call.
func (m *Metrics) ObserveProviderRequest(operation string, seconds float64) {
	if m == nil {
		return
	}

	m.providerReqs.WithLabelValues(operation).Observe(seconds)
}
