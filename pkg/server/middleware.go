package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/logger"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/protocol"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/user"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fsmonitor",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total number of API requests, by method and status code",
	}, []string{"method", "code"})
	metricRequestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fsmonitor",
		Subsystem: "api",
		Name:      "request_seconds",
		Help:      "API request latency",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"method"})
)

func metricsMiddleware(h http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(metricRequests,
		promhttp.InstrumentHandlerDuration(metricRequestSeconds, h))
}

func basicAuthMiddleware(users *user.UserManager, next http.Handler, lg *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if ok && users.CheckUserPassword(username, password) {
			next.ServeHTTP(w, r)
			return
		}

		lg.Warnf("server error :: authentication failed for %q from %s", username, r.RemoteAddr)
		w.Header().Set("WWW-Authenticate", `Basic realm="fsmonitor"`)
		writeStatus(w, http.StatusUnauthorized, protocol.ErrorPayload{
			Reason: "authentication failed",
			Kind:   model.KindInvalidRequest.String(),
		})
	})
}
