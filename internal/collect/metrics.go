package collect

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proctail",
		Subsystem: "collector",
		Name:      "ingest_operations_total",
		Help:      "Patch operations ingested, by result (accepted or dropped).",
	}, []string{"result"})

	ingestRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proctail",
		Subsystem: "collector",
		Name:      "ingest_requests_total",
		Help:      "Total ingest requests, by status.",
	}, []string{"status"})

	ingestDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "proctail",
		Subsystem: "collector",
		Name:      "ingest_duration_seconds",
		Help:      "Ingest request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	registeredProcesses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "proctail",
		Subsystem: "collector",
		Name:      "registered_processes",
		Help:      "Number of processes currently listed.",
	})

	opLogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "proctail",
		Subsystem: "collector",
		Name:      "op_log_operations",
		Help:      "Operations held in memory across all process logs.",
	})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "proctail",
		Subsystem: "collector",
		Name:      "ws_connections_active",
		Help:      "Number of active WebSocket connections.",
	})
)
