// Package metrics exports capture loop instruments to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kai5263499/sentry-timelapse/internal/activity"
	"github.com/kai5263499/sentry-timelapse/internal/timelapse"
)

var (
	FramesProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timelapse_frames_processed_total",
		Help: "Total number of frames processed by the capture loop",
	})

	FramesWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timelapse_frames_written_total",
		Help: "Total number of frames written to the recording, by activity state",
	}, []string{"state"})

	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timelapse_events_total",
		Help: "Total number of events started, by the state that started them",
	}, []string{"state"})

	SpeedIncreasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timelapse_speed_increases_total",
		Help: "Total number of idle playback speed doublings",
	})

	ActivityState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timelapse_activity_state",
		Help: "Current activity state (0 idle, 1 motion, 2 person)",
	})

	GrabPeriod = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timelapse_grab_period",
		Help: "Current idle sampling period in frames",
	})

	ElapsedIdleFrames = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timelapse_elapsed_idle_frames",
		Help: "Idle frames since the last event ended",
	})
)

// Observer feeds the package instruments from loop reports.
type Observer struct{}

// Observe implements timelapse.Observer.
func (Observer) Observe(r timelapse.Report) {
	FramesProcessedTotal.Inc()
	ActivityState.Set(float64(r.State))
	GrabPeriod.Set(float64(r.Rate.GrabPeriod))
	ElapsedIdleFrames.Set(float64(r.Rate.ElapsedIdleFrames))

	if r.Decision.Write {
		FramesWrittenTotal.WithLabelValues(r.State.String()).Inc()
	}
	if r.EventStarted {
		EventsTotal.WithLabelValues(r.State.String()).Inc()
	}
	if r.Decision.Doubled {
		SpeedIncreasesTotal.Inc()
	}
}

var _ timelapse.Observer = Observer{}

// stateLabels lists every label value so series exist before the first event.
var stateLabels = []activity.State{activity.Idle, activity.Motion, activity.Person}

func init() {
	for _, s := range stateLabels {
		FramesWrittenTotal.WithLabelValues(s.String())
		EventsTotal.WithLabelValues(s.String())
	}
}
