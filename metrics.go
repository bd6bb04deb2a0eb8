package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "adminauth"

// Metrics groups the collectors updated by verifier, state machine and assigner.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	verifications *prometheus.CounterVec
	issued        prometheus.Counter
	transitions   *prometheus.CounterVec
	assignments   *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "magic_link_verifications_total",
			Help:      "Magic token verifications by outcome",
		}, []string{"outcome"}),
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "magic_links_issued_total",
			Help:      "Magic tokens issued",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "account_transitions_total",
			Help:      "Account lifecycle transitions by kind and result",
		}, []string{"transition", "result"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "permission_assignments_total",
			Help:      "Permission set replacements by result",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{m.verifications, m.issued, m.transitions, m.assignments} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) observeVerification(outcome VerifyOutcome) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) observeIssued() {
	if m == nil {
		return
	}
	m.issued.Inc()
}

func (m *Metrics) observeTransition(transition string, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(transition, resultLabel(err)).Inc()
}

func (m *Metrics) observeAssignment(err error) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsForbidden(err):
		return "forbidden"
	case IsNotFound(err):
		return "not_found"
	case IsInvalidPermission(err):
		return "invalid_permission"
	case IsCancelled(err):
		return "cancelled"
	default:
		return "error"
	}
}
