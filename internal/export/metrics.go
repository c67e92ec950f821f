package export

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesShipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "proctail",
		Subsystem: "exporter",
		Name:      "messages_shipped_total",
		Help:      "Total patch messages successfully shipped to the collector.",
	})

	messagesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "proctail",
		Subsystem: "exporter",
		Name:      "messages_failed_total",
		Help:      "Total patch messages that failed to ship.",
	})

	shipDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "proctail",
		Subsystem: "exporter",
		Name:      "ship_duration_seconds",
		Help:      "Ship request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	shipRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proctail",
		Subsystem: "exporter",
		Name:      "ship_requests_total",
		Help:      "Total ship requests by status.",
	}, []string{"status"})
)
