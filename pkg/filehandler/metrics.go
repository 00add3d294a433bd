package filehandler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricOperationSeconds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fsmonitor",
		Subsystem: "files",
		Name:      "operation_seconds_total",
		Help:      "Total time spent in file queries",
	}, []string{"operation"})
	metricOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fsmonitor",
		Subsystem: "files",
		Name:      "operations_total",
		Help:      "Total number of file queries",
	}, []string{"operation"})
	metricBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fsmonitor",
		Subsystem: "files",
		Name:      "operation_bytes_total",
		Help:      "Total number of bytes read by file queries",
	}, []string{"operation"})
)

func account(op string) func(bytes int) {
	t0 := time.Now()
	return func(bytes int) {
		metricOperationSeconds.WithLabelValues(op).Add(time.Since(t0).Seconds())
		metricOperations.WithLabelValues(op).Inc()
		if bytes >= 0 {
			metricBytes.WithLabelValues(op).Add(float64(bytes))
		}
	}
}
