package conduit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packrat_conduit_requests_total",
			Help: "Counter of Conduit API calls by method and result",
		},
		[]string{"method", "result"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "packrat_conduit_request_duration_seconds",
			Help:    "Latency of Conduit API calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func observeRequest(method string, start time.Time, err error) {
	result := "ok"
	switch err.(type) {
	case nil:
	case *Error:
		result = "conduit_error"
	default:
		result = "transport_error"
	}

	requestsTotal.WithLabelValues(method, result).Inc()
	requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
