package review

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packrat_review_requests_total",
			Help: "Counter of review requests by result",
		},
		[]string{"result"},
	)

	requestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "packrat_review_request_duration_seconds",
			Help:    "Time spent processing review requests",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
		},
	)
)

func observeRequest(start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}

	requestsTotal.WithLabelValues(result).Inc()
	requestDuration.Observe(time.Since(start).Seconds())
}
