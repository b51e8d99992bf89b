// Package metrics defines the Prometheus metrics exported by the speedtest
// client and the sink server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for exporting to prometheus to aid in monitoring long-running
// measurement loops.
var (
	TestRate = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "speedtest_test_rate_mbps",
			Help: "A histogram of measured rates.",
			Buckets: []float64{
				.1, .15, .25, .4, .6,
				1, 1.5, 2.5, 4, 6,
				10, 15, 25, 40, 60,
				100, 150, 250, 400, 600,
				1000},
		},
		[]string{"direction"},
	)
	TestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedtest_test_total",
			Help: "Number of speedtest runs by direction and result.",
		},
		[]string{"direction", "result"},
	)
	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedtest_test_errors_total",
			Help: "Number of test errors of each type for each direction.",
		},
		[]string{"direction", "error"},
	)
	BytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedtest_bytes_total",
			Help: "Payload bytes counted by completed runs.",
		},
		[]string{"direction"},
	)
	SinkConnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedtest_sink_connections_total",
			Help: "Number of connections drained by the upload sink.",
		},
		[]string{"result"},
	)
	SinkBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speedtest_sink_bytes_total",
			Help: "Bytes received by the upload sink.",
		},
	)
)
