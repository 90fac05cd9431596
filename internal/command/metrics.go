package command

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	inFlightCommandGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "packrat_commands_running",
			Help: "Total number of processes currently being executed",
		},
	)

	commandDurationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "packrat_command_duration_seconds",
			Help:    "Wall clock time spent in spawned processes, by git subcommand",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
		},
		[]string{"subcommand"},
	)
)
