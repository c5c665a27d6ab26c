package monitor

import "github.com/prometheus/client_golang/prometheus"

var (
	framesProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trafficwatch",
			Subsystem: "monitor",
			Name:      "frames_processed_total",
			Help:      "Total number of frames analyzed.",
		},
	)

	detectionsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trafficwatch",
			Subsystem: "monitor",
			Name:      "detections_skipped_total",
			Help:      "Detections dropped because their bounding box was malformed.",
		},
	)

	tracksCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trafficwatch",
			Subsystem: "monitor",
			Name:      "tracks_created_total",
			Help:      "Total number of tracks created.",
		},
	)

	tracksExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trafficwatch",
			Subsystem: "monitor",
			Name:      "tracks_expired_total",
			Help:      "Total number of tracks destroyed after being lost.",
		},
	)

	activeTracks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trafficwatch",
			Subsystem: "monitor",
			Name:      "active_tracks",
			Help:      "Number of tracks alive after the most recent frame.",
		},
	)

	violationsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trafficwatch",
			Subsystem: "monitor",
			Name:      "violations_total",
			Help:      "Violation events emitted, by kind.",
		},
		[]string{"kind"},
	)

	sinkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trafficwatch",
			Subsystem: "monitor",
			Name:      "sink_failures_total",
			Help:      "Errors returned by event sinks and frame observers.",
		},
		[]string{"sink"},
	)
)

func init() {
	_ = prometheus.Register(framesProcessed)
	_ = prometheus.Register(detectionsSkipped)
	_ = prometheus.Register(tracksCreated)
	_ = prometheus.Register(tracksExpired)
	_ = prometheus.Register(activeTracks)
	_ = prometheus.Register(violationsEmitted)
	_ = prometheus.Register(sinkFailures)
}
