package lifecycle

import "github.com/prometheus/client_golang/prometheus"

var (
	phaseTransitions   *prometheus.CounterVec
	invalidTransitions *prometheus.CounterVec
)

func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec) {
	applied := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "move_phase_transitions_total",
			Help: "Applied move phase transitions by target phase",
		},
		[]string{"to"},
	)
	invalid := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "move_invalid_transitions_total",
			Help: "Rejected phase changes by operation",
		},
		[]string{"op"},
	)
	return applied, invalid
}

func init() {
	phaseTransitions, invalidTransitions = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers lifecycle metrics on reg, or on the default
// registerer when reg is nil.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(phaseTransitions, invalidTransitions)
}

// ResetMetrics recreates the collectors for tests and registers them on reg
// when not nil.
func ResetMetrics(reg prometheus.Registerer) {
	phaseTransitions, invalidTransitions = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
