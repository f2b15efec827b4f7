package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var batchFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "easyauth",
	Name:      "graph_batch_failures_total",
	Help:      "Graph batch queries that failed, counting individual error items.",
})
