package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reader_flight_breaker_state",
		Help: "Circuit breaker state of the Flight client (0 closed, 1 open, 2 half-open)",
	})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reader_flight_breaker_transitions_total",
		Help: "Circuit breaker state transitions by target state",
	}, []string{"state"})

	rowsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_flight_rows_sent_total",
		Help: "Prediction rows written to the Flight server",
	})

	putErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_flight_put_errors_total",
		Help: "Failed or rejected Flight DoPut calls",
	})
)
