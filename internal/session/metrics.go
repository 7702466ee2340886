package session

import "github.com/prometheus/client_golang/prometheus"

const (
	triggerInit       = "init"
	triggerBackground = "background"
	triggerManual     = "manual"
)

var (
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusfeed_session_refresh_total",
			Help: "Session revalidations by trigger and outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusfeed_session_transitions_total",
			Help: "Session state transitions by target state.",
		},
		[]string{"to"},
	)

	stateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "campusfeed_session_state",
			Help: "1 for the current session state, 0 otherwise.",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(refreshTotal, transitionsTotal, stateGauge)
}

func recordState(s State) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		stateGauge.WithLabelValues(string(st)).Set(v)
	}
}
