package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// requestsTotal counts answered requests by class and source.
var requestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "edgecache_requests_total",
		Help: "Total number of requests by class and response source",
	},
	[]string{"class", "source"}, // source: cache, network, fallback, passthrough, error
)
