package license

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "licensegate",
			Subsystem: "pipeline",
			Name:      "outcomes_total",
			Help:      "Validation pipeline decisions by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	activationsInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "licensegate",
			Subsystem: "ledger",
			Name:      "activations_used",
			Help:      "Active slot count observed on the last commit, per tier.",
		},
		[]string{"tier"},
	)
)
