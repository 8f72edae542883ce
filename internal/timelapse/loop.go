package timelapse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kai5263499/sentry-timelapse/internal/activity"
	"github.com/kai5263499/sentry-timelapse/internal/rate"
	"github.com/kai5263499/sentry-timelapse/internal/refbuf"
)

// Loop owns the reference buffer and rate state of one capture session.
// F is the full frame type, P the preprocessed comparison frame type.
type Loop[F, P any] struct {
	source     Source[F]
	frames     Frames[F, P]
	sink       Sink[F]
	display    Display[F]
	annotator  Annotator[F]
	observers  []Observer
	classifier *activity.Classifier[F, P]
	refs       *refbuf.Buffer[P]
	opts       Options

	rate    *rate.Controller
	index   uint64
	inEvent bool

	mu    sync.RWMutex
	stats Stats
}

// New builds a loop. display and annotator may be nil.
func New[F, P any](
	source Source[F],
	frames Frames[F, P],
	detector activity.Detector[F, P],
	sink Sink[F],
	display Display[F],
	annotator Annotator[F],
	opts Options,
) *Loop[F, P] {
	return &Loop[F, P]{
		source:     source,
		frames:     frames,
		sink:       sink,
		display:    display,
		annotator:  annotator,
		classifier: activity.NewClassifier(detector, opts.Classifier),
		refs:       refbuf.New[P](opts.ComparisonDistance),
		opts:       opts,
		stats:      Stats{Name: opts.Name, State: activity.Idle.String()},
	}
}

// AddObserver registers o. Call before Run.
func (l *Loop[F, P]) AddObserver(o Observer) {
	l.observers = append(l.observers, o)
}

// Run bootstraps the reference buffer and processes frames until ctx is
// cancelled or a fatal error occurs. Cancellation returns nil. On every exit
// path the source, sink and display are closed in that order.
func (l *Loop[F, P]) Run(ctx context.Context) (err error) {
	l.mu.Lock()
	l.stats.StartedAt = time.Now()
	l.stats.Running = true
	l.mu.Unlock()

	defer func() {
		l.refs.Drain(l.frames.ReleaseReference)
		err = errors.Join(err, l.closeAll())
		l.finish(err)
	}()

	fps := l.source.FPS()
	if fps <= 0 {
		log.Warn().Str("camera", l.opts.Name).Float64("fallback_fps", l.opts.FallbackFPS).Msg("Source reports no frame rate, using fallback")
		fps = l.opts.FallbackFPS
	}

	initial, done, err := l.bootstrap(ctx)
	if err != nil || done {
		return err
	}

	l.rate = rate.New(l.opts.Rate, fps, initial)
	l.mu.Lock()
	l.stats.Bootstrapped = true
	l.stats.FPS = fps
	l.stats.State = initial.String()
	l.setRateStats(l.rate.State())
	l.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("camera", l.opts.Name).Uint64("frames", l.index).Msg("Capture cancelled")
			return nil
		default:
		}

		if err := l.step(); err != nil {
			return err
		}
	}
}

// bootstrap fills the reference buffer. Only the last frame is classified,
// against the partial view, to seed the previous activity state.
func (l *Loop[F, P]) bootstrap(ctx context.Context) (activity.State, bool, error) {
	n := l.refs.Cap()
	state := activity.Idle
	log.Info().Str("camera", l.opts.Name).Int("frames", n).Msg("Filling reference buffer")

	for k := 0; k < n; k++ {
		if ctx.Err() != nil {
			log.Info().Str("camera", l.opts.Name).Msg("Capture cancelled during bootstrap")
			return state, true, nil
		}

		frame, err := l.source.Read()
		if err != nil {
			return state, false, fmt.Errorf("%w: bootstrap frame %d of %d: %w", ErrCapture, k+1, n, err)
		}

		ref := l.frames.Preprocess(frame)
		if k == n-1 {
			baseline, ok := l.refs.Baseline()
			state = l.classifier.Classify(frame, ref, baseline, ok).State
		}
		l.push(ref)
		l.frames.ReleaseFrame(frame)
	}

	log.Info().Str("camera", l.opts.Name).Stringer("state", state).Msg("Reference buffer ready")
	return state, false, nil
}

func (l *Loop[F, P]) step() error {
	frame, err := l.source.Read()
	if err != nil {
		return fmt.Errorf("%w: frame %d: %w", ErrCapture, l.index+1, err)
	}
	defer l.frames.ReleaseFrame(frame)

	l.index++
	ref := l.frames.Preprocess(frame)

	baseline, ok := l.refs.Baseline()
	if !ok || !l.refs.Full() {
		l.frames.ReleaseReference(ref)
		return fmt.Errorf("%w: frame %d", ErrBufferNotReady, l.index)
	}

	result := l.classifier.Classify(frame, ref, baseline, true)
	decision := l.rate.Decide(result.State, l.index)
	l.push(ref)
	started := result.State.IsEvent() && !l.inEvent
	l.inEvent = result.State.IsEvent()
	l.logTransition(result.State, decision, started)

	if l.annotator != nil {
		if result.State.IsEvent() {
			l.annotator.Label(frame, result.State)
			if l.drawBoxes(result.State) && len(result.Boxes) > 0 {
				l.annotator.Boxes(frame, result.State, result.Boxes)
			}
		} else if decision.Write {
			l.annotator.Speed(frame, decision.Multiplier)
		}
	}

	if decision.Write {
		if err := l.sink.Append(frame); err != nil {
			return fmt.Errorf("%w: frame %d: %w", ErrOutput, l.index, err)
		}
	}

	if l.display != nil {
		l.display.Show(frame)
	}

	report := Report{
		Index:    l.index,
		Time:     time.Now(),
		State:    result.State,
		Boxes:    len(result.Boxes),
		Decision: decision,
		Rate:     l.rate.State(),

		EventStarted: started,
	}
	l.record(report)
	for _, o := range l.observers {
		o.Observe(report)
	}
	return nil
}

func (l *Loop[F, P]) push(ref P) {
	if evicted, ok := l.refs.Push(ref); ok {
		l.frames.ReleaseReference(evicted)
	}
}

func (l *Loop[F, P]) drawBoxes(state activity.State) bool {
	switch state {
	case activity.Person:
		return l.opts.Classifier.DrawFaceBoxes
	case activity.Motion:
		return l.opts.Classifier.DrawMotionBoxes
	}
	return false
}

func (l *Loop[F, P]) logTransition(state activity.State, d rate.Decision, started bool) {
	if started && d.Edge != rate.EdgeStarted {
		log.Info().Str("camera", l.opts.Name).Stringer("state", state).Uint64("frame", l.index).Msg("Event in progress since bootstrap")
	}
	switch d.Edge {
	case rate.EdgeStarted:
		log.Info().Str("camera", l.opts.Name).Stringer("state", state).Uint64("frame", l.index).Msg("Event started, idle period ended")
	case rate.EdgeEnded:
		log.Info().Str("camera", l.opts.Name).Uint64("frame", l.index).Msg("Event ended, idle period starting")
	}
	if d.Doubled {
		log.Info().Str("camera", l.opts.Name).Int("speed", d.Multiplier).Uint64("frame", l.index).Msg("Idle playback speed increased")
	}
}

func (l *Loop[F, P]) record(r Report) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.FrameIndex = r.Index
	l.stats.State = r.State.String()
	if r.Decision.Write {
		l.stats.FramesWritten++
	}
	if r.EventStarted {
		l.stats.Events++
	}
	l.setRateStats(r.Rate)
}

// setRateStats must be called with mu held.
func (l *Loop[F, P]) setRateStats(s rate.State) {
	l.stats.GrabPeriod = s.GrabPeriod
	l.stats.ElapsedIdle = s.ElapsedIdleFrames
	l.stats.Threshold = s.DoublingThreshold
}

func (l *Loop[F, P]) closeAll() error {
	var errs []error
	if err := l.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close source: %w", err))
	}
	if err := l.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sink: %w", err))
	}
	if l.display != nil {
		if err := l.display.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close display: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (l *Loop[F, P]) finish(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.Running = false
	if err != nil {
		l.stats.LastError = err.Error()
	}
}

// Stats returns a copy of the live counters. Safe to call from any goroutine.
func (l *Loop[F, P]) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

// FrameIndex returns the number of frames processed by the main loop.
func (l *Loop[F, P]) FrameIndex() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats.FrameIndex
}
