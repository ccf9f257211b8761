package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentgate_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentgate_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	verifyAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentgate_verify_attempts_total",
		Help: "Credential verification attempts by result.",
	}, []string{"result"})

	lockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agentgate_lockouts_total",
		Help: "Number of verification attempts rejected by an active lockout.",
	})

	agentsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentgate_agents_total",
		Help: "Number of registered agents.",
	})

	lockedAgentsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentgate_locked_agents_total",
		Help: "Number of agents with an active lockout.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, verifyAttemptsTotal, lockoutsTotal, agentsTotal, lockedAgentsTotal)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)

		log.Debug().
			Str("request_id", requestIDFromCtx(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rr.statusCode).
			Float64("duration", dur).
			Msg("request")
	})
}
