// Package rate decides which frames make it into the timelapse.
//
// Event frames (motion or person) are sampled at fixed short periods. Idle
// frames are sampled at a period that doubles every time the run of idle
// frames exceeds a threshold which itself doubles, so the playback speed of
// an idle stretch grows with the logarithm of its length. The first idle
// frame after an event resets everything.
package rate

import "github.com/kai5263499/sentry-timelapse/internal/activity"

// Config holds the fixed event sampling periods.
type Config struct {
	// FaceEventPeriod writes every Nth frame while a person is visible.
	FaceEventPeriod int
	// MotionEventPeriod writes every Nth frame during motion. It is also the
	// idle grab period right after an event ends.
	MotionEventPeriod int
}

// DefaultConfig returns periods 1 and 2.
func DefaultConfig() Config {
	return Config{
		FaceEventPeriod:   1,
		MotionEventPeriod: 2,
	}
}

// State is the idle backoff state.
type State struct {
	GrabPeriod        int
	ElapsedIdleFrames int
	DoublingThreshold float64
}

// Edge marks a transition between idle and event frames.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeStarted
	EdgeEnded
)

func (e Edge) String() string {
	switch e {
	case EdgeStarted:
		return "started"
	case EdgeEnded:
		return "ended"
	default:
		return "none"
	}
}

// Decision is the per-frame output of the controller.
type Decision struct {
	Write bool
	Edge  Edge
	// Multiplier is the sampling period applied to this frame.
	Multiplier int
	// Doubled is set on the idle frame that doubled the grab period.
	Doubled bool
}

// Controller is the rate state machine. It is owned by a single capture loop.
type Controller struct {
	cfg   Config
	fps   float64
	state State
	prev  activity.State
}

// New returns a controller whose previous state is initial and whose
// doubling threshold starts at fps.
func New(cfg Config, fps float64, initial activity.State) *Controller {
	return &Controller{
		cfg:  cfg,
		fps:  fps,
		prev: initial,
		state: State{
			GrabPeriod:        cfg.MotionEventPeriod,
			DoublingThreshold: fps,
		},
	}
}

// Decide advances the machine by one frame with activity s at index i.
func (c *Controller) Decide(s activity.State, i uint64) Decision {
	defer func() { c.prev = s }()

	var d Decision
	switch s {
	case activity.Person:
		d.Multiplier = c.cfg.FaceEventPeriod
		d.Write = due(i, c.cfg.FaceEventPeriod)
		if c.prev == activity.Idle {
			d.Edge = EdgeStarted
		}
	case activity.Motion:
		d.Multiplier = c.cfg.MotionEventPeriod
		d.Write = due(i, c.cfg.MotionEventPeriod)
		if c.prev == activity.Idle {
			d.Edge = EdgeStarted
		}
	default:
		if c.prev.IsEvent() {
			c.state = State{
				GrabPeriod:        c.cfg.MotionEventPeriod,
				DoublingThreshold: c.fps,
			}
			d.Edge = EdgeEnded
		}

		c.state.ElapsedIdleFrames++
		if float64(c.state.ElapsedIdleFrames) > c.state.DoublingThreshold {
			c.state.DoublingThreshold *= 2
			c.state.GrabPeriod *= 2
			d.Doubled = true
		}

		d.Multiplier = c.state.GrabPeriod
		d.Write = due(i, c.state.GrabPeriod)
	}
	return d
}

// State returns a copy of the idle backoff state.
func (c *Controller) State() State {
	return c.state
}

// Previous returns the activity of the last decided frame.
func (c *Controller) Previous() activity.State {
	return c.prev
}

func due(i uint64, period int) bool {
	if period <= 1 {
		return true
	}
	return i%uint64(period) == 0
}
