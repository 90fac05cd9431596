package mirror

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packrat_mirror_sync_total",
			Help: "Counter of mirror clones and fetches by result",
		},
		[]string{"op", "result"},
	)

	syncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "packrat_mirror_sync_duration_seconds",
			Help:    "Time spent cloning and fetching mirrors",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
		},
		[]string{"op"},
	)
)

func observeSync(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}

	syncTotal.WithLabelValues(op, result).Inc()
	syncDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
