package fanout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_delivered_total",
		Help: "Payloads successfully pushed to a connection.",
	})
	prunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_pruned_connections_total",
		Help: "Connections removed after a push reported the recipient gone.",
	})
	failedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_failed_total",
		Help: "Pushes that failed transiently; connection left registered.",
	})
)
