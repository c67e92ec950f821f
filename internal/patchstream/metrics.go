package patchstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proctail",
		Subsystem: "patchstream",
		Name:      "operations_total",
		Help:      "Patch operations processed, by result (applied, fallback, dropped).",
	}, []string{"result"})

	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "proctail",
		Subsystem: "patchstream",
		Name:      "batches_total",
		Help:      "Patch batches applied.",
	})
)
