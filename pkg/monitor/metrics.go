package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricWatches = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fsmonitor",
		Subsystem: "monitor",
		Name:      "watches",
		Help:      "Number of registered watches per state",
	}, []string{"state"})
	metricEventsCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fsmonitor",
		Subsystem: "monitor",
		Name:      "events_captured_total",
		Help:      "Total number of raw events captured, by filter result",
	}, []string{"result"})
	metricDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fsmonitor",
		Subsystem: "monitor",
		Name:      "delivery_attempts_total",
		Help:      "Total number of notification delivery attempts, by result",
	}, []string{"result"})
	metricEventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fsmonitor",
		Subsystem: "monitor",
		Name:      "events_delivered_total",
		Help:      "Total number of notification events acknowledged by clients",
	})
	metricEventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fsmonitor",
		Subsystem: "monitor",
		Name:      "events_dropped_total",
		Help:      "Total number of queued notification events dropped, by reason",
	}, []string{"reason"})
)

const (
	resultAccepted = "accepted"
	resultRejected = "rejected"
	resultSuccess  = "success"
	resultFailure  = "failure"

	reasonRetriesExhausted = "retries_exhausted"
	reasonDestroyed        = "destroyed"
)
