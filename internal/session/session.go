//go:build opencv

// Package session wires one capture session together: stream, detector,
// recorder, preview window, journal and metrics.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/kai5263499/sentry-timelapse/internal/config"
	"github.com/kai5263499/sentry-timelapse/internal/display"
	"github.com/kai5263499/sentry-timelapse/internal/journal"
	"github.com/kai5263499/sentry-timelapse/internal/metrics"
	"github.com/kai5263499/sentry-timelapse/internal/motion"
	"github.com/kai5263499/sentry-timelapse/internal/overlay"
	"github.com/kai5263499/sentry-timelapse/internal/recorder"
	"github.com/kai5263499/sentry-timelapse/internal/timelapse"
	"github.com/kai5263499/sentry-timelapse/pkg/camera"
)

type Session struct {
	name    string
	cfg     *config.Config
	journal *journal.Journal

	stream   *camera.Stream
	detector *motion.Detector
	recorder *recorder.VideoRecorder
	loop     *timelapse.Loop[*camera.Frame, gocv.Mat]

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New opens every resource the session needs. j may be nil. If any step
// fails the resources opened so far are released.
func New(ctx context.Context, cfg *config.Config, j *journal.Journal) (_ *Session, err error) {
	s := &Session{
		name:    cfg.Output.Prefix,
		cfg:     cfg,
		journal: j,
	}

	var closers []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i](); cerr != nil {
				log.Warn().Err(cerr).Str("camera", s.name).Msg("Cleanup after failed setup")
			}
		}
	}()

	preflight(ctx, s.name, cfg.Capture.Source)

	s.stream = camera.NewStream(s.name, cfg.Capture.Source, camera.Options{
		Width:        cfg.Output.Width,
		Height:       cfg.Output.Height,
		AutoExposure: cfg.Capture.AutoExposureEnabled(),
		ExposureLock: cfg.Capture.Exposure(),
	})
	if err := s.stream.Open(); err != nil {
		_ = s.stream.Close()
		return nil, fmt.Errorf("open capture source: %w", err)
	}
	closers = append(closers, s.stream.Close)

	s.detector, err = motion.NewDetector(cfg.Detection.CascadePath)
	if err != nil {
		return nil, err
	}
	closers = append(closers, s.detector.Close)

	s.recorder, err = recorder.NewRecorder(s.name, recorder.Options{
		Dir:        cfg.Output.Dir,
		Prefix:     cfg.Output.Prefix,
		Codec:      cfg.Output.Codec,
		FPS:        cfg.Output.FPS,
		Width:      cfg.Output.Width,
		Height:     cfg.Output.Height,
		ConvertMP4: cfg.Output.ConvertMP4,
	})
	if err != nil {
		return nil, err
	}
	closers = append(closers, s.recorder.Close)

	var window timelapse.Display[*camera.Frame]
	if cfg.Display.ShowWindow() {
		window = display.NewWindow("Frame", cfg.Display.WaitMs, s.Stop)
	}

	s.loop = timelapse.New[*camera.Frame, gocv.Mat](
		s.stream,
		camera.NewPreprocessor(cfg.Detection.BlurKernel),
		s.detector,
		s.recorder,
		window,
		overlay.Annotator{},
		loopOptions(s.name, cfg),
	)
	s.loop.AddObserver(metrics.Observer{})
	if j != nil {
		s.loop.AddObserver(j)
	}

	info := s.stream.GetInfo()
	log.Info().
		Str("camera", s.name).
		Str("resolution", info.Resolution).
		Float64("fps", info.FPS).
		Str("output", s.recorder.File()).
		Msg("Session ready")

	return s, nil
}

// Run counts down, then runs the capture loop until ctx is cancelled, Stop
// is called or a fatal error occurs. The stream, recorder and window are
// closed when Run returns.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		if err := s.detector.Close(); err != nil {
			log.Warn().Err(err).Str("camera", s.name).Msg("Failed to release detector")
		}
	}()

	if s.journal != nil {
		if _, err := s.journal.Begin(ctx, journal.Session{
			Name:   s.name,
			Source: s.cfg.Capture.Source,
			Output: s.recorder.File(),
		}); err != nil {
			log.Warn().Err(err).Str("camera", s.name).Msg("Journal disabled for this session")
			s.journal = nil
		}
	}

	// A cancelled countdown still goes through the loop so it closes
	// every resource.
	if !countdown(ctx, s.cfg.Capture.Warmup(), time.Second) {
		log.Info().Str("camera", s.name).Msg("Capture cancelled during warmup")
	}

	err := s.loop.Run(ctx)

	if s.journal != nil {
		if jerr := s.journal.End(context.Background(), endReason(err)); jerr != nil {
			log.Warn().Err(jerr).Str("camera", s.name).Msg("Failed to close journal session")
		}
	}
	return err
}

// Stop asks a running session to finish its current frame and exit.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Stats implements server.StatusProvider.
func (s *Session) Stats() timelapse.Stats {
	return s.loop.Stats()
}

// Recording returns the path of the output file.
func (s *Session) Recording() string {
	return s.recorder.File()
}
