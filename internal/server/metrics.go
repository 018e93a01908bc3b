package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewarden_turns_total",
		Help: "Completed dialogue turns, partitioned by whether they ended the conversation.",
	}, []string{"terminal"})

	metricVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewarden_verdicts_total",
		Help: "Terminal verdicts rendered.",
	}, []string{"outcome"})

	metricOracleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewarden_oracle_failures_total",
		Help: "Oracle calls that failed, partitioned by mode.",
	}, []string{"mode"})

	metricEnforcerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatewarden_enforcer_failures_total",
		Help: "Firewall permits that failed.",
	})
)
