package timelapse

import (
	"context"
	"errors"
	"image"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kai5263499/sentry-timelapse/internal/activity"
	"github.com/kai5263499/sentry-timelapse/internal/rate"
)

type fakeFrame struct {
	id     int
	face   bool
	motion bool
	labels []activity.State
	boxes  int
	speed  int
}

type fakeRef struct {
	id     int
	motion bool
}

type fakeSource struct {
	frames  []*fakeFrame
	pos     int
	fps     float64
	failAt  int
	closed  *[]string
	readErr error
}

func (s *fakeSource) Read() (*fakeFrame, error) {
	if s.failAt > 0 && s.pos == s.failAt {
		return nil, s.readErr
	}
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *fakeSource) FPS() float64 { return s.fps }

func (s *fakeSource) Close() error {
	*s.closed = append(*s.closed, "source")
	return nil
}

type fakeFrames struct {
	preprocessed int
	released     int
	refsReleased int
}

func (f *fakeFrames) Preprocess(frame *fakeFrame) fakeRef {
	f.preprocessed++
	return fakeRef{id: frame.id, motion: frame.motion}
}

func (f *fakeFrames) ReleaseFrame(*fakeFrame) { f.released++ }

func (f *fakeFrames) ReleaseReference(fakeRef) { f.refsReleased++ }

type fakeDetector struct {
	comparisons [][2]int
}

func (d *fakeDetector) Faces(frame *fakeFrame) []activity.Region {
	if !frame.face {
		return nil
	}
	return []activity.Region{{Box: image.Rect(0, 0, 100, 100), Area: 10000}}
}

func (d *fakeDetector) Motion(baseline, current fakeRef, _ activity.MotionParams) []activity.Region {
	d.comparisons = append(d.comparisons, [2]int{baseline.id, current.id})
	if !current.motion {
		return nil
	}
	return []activity.Region{{Box: image.Rect(0, 0, 100, 100), Area: 10000}}
}

type fakeSink struct {
	written []int
	err     error
	closed  *[]string
}

func (s *fakeSink) Append(frame *fakeFrame) error {
	if s.err != nil {
		return s.err
	}
	s.written = append(s.written, frame.id)
	return nil
}

func (s *fakeSink) Close() error {
	*s.closed = append(*s.closed, "sink")
	return nil
}

type fakeDisplay struct {
	shown  int
	closed *[]string
}

func (d *fakeDisplay) Show(*fakeFrame) { d.shown++ }

func (d *fakeDisplay) Close() error {
	*d.closed = append(*d.closed, "display")
	return nil
}

type fakeAnnotator struct{}

func (fakeAnnotator) Label(frame *fakeFrame, state activity.State) {
	frame.labels = append(frame.labels, state)
}

func (fakeAnnotator) Boxes(frame *fakeFrame, _ activity.State, boxes []image.Rectangle) {
	frame.boxes += len(boxes)
}

func (fakeAnnotator) Speed(frame *fakeFrame, multiplier int) {
	frame.speed = multiplier
}

type harness struct {
	source   *fakeSource
	frames   *fakeFrames
	detector *fakeDetector
	sink     *fakeSink
	display  *fakeDisplay
	closed   []string
	reports  []Report
	loop     *Loop[*fakeFrame, fakeRef]
}

func newHarness(t *testing.T, frames []*fakeFrame, opts Options) *harness {
	t.Helper()
	h := &harness{
		frames:   &fakeFrames{},
		detector: &fakeDetector{},
	}
	h.source = &fakeSource{frames: frames, fps: 5, closed: &h.closed}
	h.sink = &fakeSink{closed: &h.closed}
	h.display = &fakeDisplay{closed: &h.closed}
	h.loop = New[*fakeFrame, fakeRef](h.source, h.frames, h.detector, h.sink, h.display, fakeAnnotator{}, opts)
	h.loop.AddObserver(ObserverFunc(func(r Report) { h.reports = append(h.reports, r) }))
	return h
}

func defaultOptions(n int) Options {
	return Options{
		Name:               "test",
		ComparisonDistance: n,
		FallbackFPS:        30,
		Classifier:         activity.Options{MinArea: 5000, DrawFaceBoxes: true},
		Rate:               rate.DefaultConfig(),
	}
}

// frameSet builds total frames; marks maps a frame id to a face/motion flag.
func frameSet(total int, faces, motion map[int]bool) []*fakeFrame {
	out := make([]*fakeFrame, total)
	for i := range out {
		out[i] = &fakeFrame{id: i, face: faces[i], motion: motion[i]}
	}
	return out
}

func (h *harness) writtenIndices() []uint64 {
	var out []uint64
	for _, r := range h.reports {
		if r.Decision.Write {
			out = append(out, r.Index)
		}
	}
	return out
}

func TestIdleBackoffEndToEnd(t *testing.T) {
	frames := frameSet(3+8, nil, nil)
	h := newHarness(t, frames, defaultOptions(3))

	err := h.loop.Run(context.Background())

	require.ErrorIs(t, err, ErrCapture)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []uint64{2, 4, 8}, h.writtenIndices())
	// Main index i is frame id i+2 after three bootstrap frames.
	assert.Equal(t, []int{4, 6, 10}, h.sink.written)
	assert.Equal(t, 2, frames[4].speed)
	assert.Equal(t, 2, frames[6].speed)
	assert.Equal(t, 4, frames[10].speed)
	assert.Equal(t, 0, frames[8].speed)

	last := h.reports[len(h.reports)-1].Rate
	assert.Equal(t, rate.State{GrabPeriod: 4, ElapsedIdleFrames: 8, DoublingThreshold: 10}, last)
}

func TestBaselineIsComparisonDistanceBehind(t *testing.T) {
	const n = 4
	h := newHarness(t, frameSet(40, nil, nil), defaultOptions(n))

	_ = h.loop.Run(context.Background())

	require.NotEmpty(t, h.detector.comparisons)
	// The first comparison is the bootstrap seed against the partial view.
	assert.Equal(t, [2]int{0, n - 1}, h.detector.comparisons[0])
	for _, c := range h.detector.comparisons[1:] {
		assert.Equal(t, c[1]-n, c[0], "frame %d", c[1])
	}
	assert.Len(t, h.detector.comparisons, 40-n+1)
}

func TestPersonBeatsMotion(t *testing.T) {
	both := map[int]bool{5: true}
	frames := frameSet(8, both, both)
	h := newHarness(t, frames, defaultOptions(3))

	_ = h.loop.Run(context.Background())

	var person *Report
	for i := range h.reports {
		if h.reports[i].Index == 3 {
			person = &h.reports[i]
		}
	}
	require.NotNil(t, person)
	assert.Equal(t, activity.Person, person.State)
	assert.Equal(t, rate.EdgeStarted, person.Decision.Edge)
	assert.True(t, person.Decision.Write)
	assert.Equal(t, []activity.State{activity.Person}, frames[5].labels)
	assert.Equal(t, 1, frames[5].boxes)
}

func TestEventSampling(t *testing.T) {
	faces := map[int]bool{}
	motion := map[int]bool{}
	for id := 3; id < 13; id++ {
		faces[id] = true
	}
	for id := 13; id < 23; id++ {
		motion[id] = true
	}
	h := newHarness(t, frameSet(23, faces, motion), defaultOptions(3))

	_ = h.loop.Run(context.Background())

	for _, r := range h.reports {
		switch r.State {
		case activity.Person:
			assert.True(t, r.Decision.Write, "person frame %d", r.Index)
		case activity.Motion:
			assert.Equal(t, r.Index%2 == 0, r.Decision.Write, "motion frame %d", r.Index)
		default:
			t.Fatalf("unexpected state %s at %d", r.State, r.Index)
		}
	}
}

func TestMotionBoxesHiddenWhenDisabled(t *testing.T) {
	motion := map[int]bool{4: true}
	frames := frameSet(6, nil, motion)
	h := newHarness(t, frames, defaultOptions(3))

	_ = h.loop.Run(context.Background())

	assert.Equal(t, []activity.State{activity.Motion}, frames[4].labels)
	assert.Equal(t, 0, frames[4].boxes)
}

func TestFrameIndexIsMonotonic(t *testing.T) {
	faces := map[int]bool{10: true, 11: true, 30: true}
	motion := map[int]bool{20: true, 21: true, 22: true, 50: true}
	h := newHarness(t, frameSet(200, faces, motion), defaultOptions(5))

	_ = h.loop.Run(context.Background())

	require.Len(t, h.reports, 195)
	for i, r := range h.reports {
		assert.Equal(t, uint64(i+1), r.Index)
	}
	assert.Equal(t, uint64(195), h.loop.FrameIndex())
}

func TestBootstrapSeedsPreviousState(t *testing.T) {
	// The last bootstrap frame shows motion, so the first idle frame ends an event.
	frames := frameSet(5, nil, map[int]bool{2: true})
	h := newHarness(t, frames, defaultOptions(3))

	_ = h.loop.Run(context.Background())

	require.NotEmpty(t, h.reports)
	assert.Equal(t, rate.EdgeEnded, h.reports[0].Decision.Edge)
}

func TestBootstrapCaptureFailure(t *testing.T) {
	readErr := errors.New("device unplugged")
	h := newHarness(t, frameSet(10, nil, nil), defaultOptions(5))
	h.source.failAt = 2
	h.source.readErr = readErr

	err := h.loop.Run(context.Background())

	require.ErrorIs(t, err, ErrCapture)
	require.ErrorIs(t, err, readErr)
	assert.Empty(t, h.reports)
	assert.Empty(t, h.sink.written)
	assert.Equal(t, []string{"source", "sink", "display"}, h.closed)
	assert.Equal(t, h.frames.preprocessed, h.frames.refsReleased)
	assert.False(t, h.loop.Stats().Running)
	assert.Contains(t, h.loop.Stats().LastError, "device unplugged")
}

func TestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, frameSet(100, nil, nil), defaultOptions(3))
	h.loop.AddObserver(ObserverFunc(func(r Report) {
		if r.Index == 10 {
			cancel()
		}
	}))

	err := h.loop.Run(ctx)

	require.NoError(t, err)
	assert.Len(t, h.reports, 10)
	assert.Equal(t, 10, h.display.shown)
	assert.Equal(t, []string{"source", "sink", "display"}, h.closed)
	assert.Equal(t, h.frames.preprocessed, h.frames.refsReleased)
	assert.Equal(t, h.frames.preprocessed, h.frames.released)
}

func TestCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := newHarness(t, frameSet(10, nil, nil), defaultOptions(3))

	require.NoError(t, h.loop.Run(ctx))
	assert.Equal(t, 0, h.source.pos)
	assert.Equal(t, []string{"source", "sink", "display"}, h.closed)
}

func TestSinkFailureIsFatal(t *testing.T) {
	h := newHarness(t, frameSet(10, map[int]bool{3: true}, nil), defaultOptions(3))
	h.sink.err = errors.New("disk full")

	err := h.loop.Run(context.Background())

	require.ErrorIs(t, err, ErrOutput)
	assert.Empty(t, h.reports)
	assert.Equal(t, []string{"source", "sink", "display"}, h.closed)
}

func TestFallbackFPS(t *testing.T) {
	opts := defaultOptions(3)
	opts.FallbackFPS = 5
	h := newHarness(t, frameSet(11, nil, nil), opts)
	h.source.fps = 0

	_ = h.loop.Run(context.Background())

	assert.Equal(t, []uint64{2, 4, 8}, h.writtenIndices())
	assert.Equal(t, 5.0, h.loop.Stats().FPS)
}

func TestStats(t *testing.T) {
	faces := map[int]bool{5: true, 6: true}
	h := newHarness(t, frameSet(12, faces, nil), defaultOptions(3))

	_ = h.loop.Run(context.Background())

	s := h.loop.Stats()
	assert.Equal(t, "test", s.Name)
	assert.True(t, s.Bootstrapped)
	assert.False(t, s.Running)
	assert.Equal(t, uint64(9), s.FrameIndex)
	assert.Equal(t, uint64(1), s.Events)
	assert.Equal(t, "idle", s.State)
	assert.Equal(t, uint64(len(h.sink.written)), s.FramesWritten)
	assert.False(t, s.StartedAt.IsZero())
}

func TestEventInProgressAfterBootstrap(t *testing.T) {
	// Bootstrap ends on motion and main frames 1..4 keep moving.
	motion := map[int]bool{2: true, 3: true, 4: true, 5: true, 6: true}
	h := newHarness(t, frameSet(3+5, nil, motion), defaultOptions(3))

	err := h.loop.Run(context.Background())

	require.ErrorIs(t, err, ErrCapture)
	require.Len(t, h.reports, 5)
	assert.True(t, h.reports[0].EventStarted)
	assert.Equal(t, rate.EdgeNone, h.reports[0].Decision.Edge)
	for _, r := range h.reports[1:] {
		assert.False(t, r.EventStarted, "frame %d", r.Index)
	}
	assert.Equal(t, rate.EdgeEnded, h.reports[4].Decision.Edge)
	assert.Equal(t, uint64(1), h.loop.Stats().Events)
}

func TestBufferNotReady(t *testing.T) {
	h := newHarness(t, frameSet(10, nil, nil), defaultOptions(3))
	h.loop.AddObserver(ObserverFunc(func(r Report) {
		if r.Index == 1 {
			h.loop.refs.Drain(h.frames.ReleaseReference)
		}
	}))

	err := h.loop.Run(context.Background())

	require.ErrorIs(t, err, ErrBufferNotReady)
	assert.Len(t, h.reports, 1)
	assert.Equal(t, []string{"source", "sink", "display"}, h.closed)
	assert.Equal(t, h.frames.preprocessed, h.frames.refsReleased)
	assert.Equal(t, h.frames.preprocessed, h.frames.released)
	assert.Contains(t, h.loop.Stats().LastError, "frame 2")
}
