// Package timelapse runs the capture loop: read, classify, decide, write.
package timelapse

import (
	"errors"
	"image"
	"time"

	"github.com/kai5263499/sentry-timelapse/internal/activity"
	"github.com/kai5263499/sentry-timelapse/internal/rate"
)

var (
	// ErrCapture is returned when the frame source cannot deliver a frame.
	ErrCapture = errors.New("capture failure")
	// ErrBufferNotReady is returned when no reference frame exists after
	// bootstrap. It indicates a broken invariant.
	ErrBufferNotReady = errors.New("reference buffer not ready")
	// ErrOutput is returned when the sink rejects a frame.
	ErrOutput = errors.New("output failure")
)

// Source delivers frames already scaled to the output resolution.
type Source[F any] interface {
	Read() (F, error)
	// FPS is the nominal rate of the stream, or zero if unknown.
	FPS() float64
	Close() error
}

// Frames derives comparison frames and releases frame memory.
type Frames[F, P any] interface {
	Preprocess(frame F) P
	ReleaseFrame(frame F)
	ReleaseReference(ref P)
}

// Sink receives the frames selected for the recording.
type Sink[F any] interface {
	Append(frame F) error
	Close() error
}

// Display shows every processed frame.
type Display[F any] interface {
	Show(frame F)
	Close() error
}

// Annotator draws on a frame after it has been classified.
type Annotator[F any] interface {
	Label(frame F, state activity.State)
	Boxes(frame F, state activity.State, boxes []image.Rectangle)
	Speed(frame F, multiplier int)
}

// Report describes one main loop iteration.
type Report struct {
	Index    uint64
	Time     time.Time
	State    activity.State
	Boxes    int
	Decision rate.Decision
	Rate     rate.State
	// EventStarted marks the first main loop frame of an event. Unlike
	// Decision.Edge it is also set when the event was already in progress
	// at the end of bootstrap.
	EventStarted bool
}

// Observer is notified after every main loop iteration. Observe runs on the
// loop goroutine and must not block.
type Observer interface {
	Observe(r Report)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Report)

func (f ObserverFunc) Observe(r Report) { f(r) }

// Options configures a Loop.
type Options struct {
	// Name identifies the session in logs and stats.
	Name string
	// ComparisonDistance is the reference buffer capacity.
	ComparisonDistance int
	// FallbackFPS seeds the doubling threshold when the source reports no fps.
	FallbackFPS float64
	Classifier activity.Options
	Rate       rate.Config
}

// Stats is a point-in-time view of a running loop.
type Stats struct {
	Name          string    `json:"name"`
	StartedAt     time.Time `json:"started_at"`
	Running       bool      `json:"running"`
	Bootstrapped  bool      `json:"bootstrapped"`
	FrameIndex    uint64    `json:"frame_index"`
	FramesWritten uint64    `json:"frames_written"`
	Events        uint64    `json:"events"`
	State         string    `json:"state"`
	FPS           float64   `json:"fps"`
	GrabPeriod    int       `json:"grab_period"`
	ElapsedIdle   int       `json:"elapsed_idle_frames"`
	Threshold     float64   `json:"doubling_threshold"`
	LastError     string    `json:"last_error,omitempty"`
}
