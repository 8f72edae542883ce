//go:build opencv

package camera

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// autoExposureOn is the V4L2 aperture-priority value for CAP_PROP_AUTO_EXPOSURE.
const autoExposureOn = 3

var (
	errNotOpen    = errors.New("stream not open")
	errReadFailed = errors.New("failed to read frame")
	errEmptyFrame = errors.New("empty frame")
)

// Options controls how frames are captured.
type Options struct {
	// Width and Height are the size every frame is scaled to.
	Width  int
	Height int
	// AutoExposure lets the camera pick exposure. When false ExposureLock is
	// applied instead.
	AutoExposure bool
	ExposureLock float64
}

// Stream reads scaled color and grayscale frames from a device index, file
// or stream URL.
type Stream struct {
	Name   string
	Source string

	opts       Options
	capture    *gocv.VideoCapture
	raw        gocv.Mat
	isOpen     bool
	frameCount int64
	mu         sync.Mutex
}

type StreamInfo struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	Resolution string  `json:"resolution"`
}

func NewStream(name, source string, opts Options) *Stream {
	return &Stream{
		Name:   name,
		Source: source,
		opts:   opts,
		raw:    gocv.NewMat(),
	}
}

// Open opens the capture and applies the exposure settings.
func (s *Stream) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Info().Str("camera", s.Name).Str("source", s.Source).Msg("Opening stream")

	capture, err := gocv.OpenVideoCapture(s.Source)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}

	if !capture.IsOpened() {
		_ = capture.Close()
		return fmt.Errorf("stream opened but not ready")
	}

	if s.opts.AutoExposure {
		capture.Set(gocv.VideoCaptureAutoExposure, autoExposureOn)
	} else {
		capture.Set(gocv.VideoCaptureExposure, s.opts.ExposureLock)
	}

	s.capture = capture
	s.isOpen = true
	log.Info().Str("camera", s.Name).Bool("auto_exposure", s.opts.AutoExposure).Msg("Stream opened successfully")
	return nil
}

func (s *Stream) GetInfo() StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOpen || s.capture == nil {
		return StreamInfo{}
	}

	width := int(s.capture.Get(gocv.VideoCaptureFrameWidth))
	height := int(s.capture.Get(gocv.VideoCaptureFrameHeight))

	return StreamInfo{
		Width:      width,
		Height:     height,
		FPS:        s.capture.Get(gocv.VideoCaptureFPS),
		Resolution: fmt.Sprintf("%dx%d", width, height),
	}
}

// FPS returns the frame rate reported by the capture, zero if unknown.
func (s *Stream) FPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOpen || s.capture == nil {
		return 0
	}
	return s.capture.Get(gocv.VideoCaptureFPS)
}

// Read returns the next frame scaled to the configured size. The caller owns
// the returned frame and must Close it.
func (s *Stream) Read() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOpen || s.capture == nil {
		return nil, errNotOpen
	}

	if !s.capture.Read(&s.raw) {
		return nil, errReadFailed
	}
	if s.raw.Empty() {
		return nil, errEmptyFrame
	}

	frame := NewFrame()
	gocv.Resize(s.raw, &frame.Color, image.Pt(s.opts.Width, s.opts.Height), 0, 0, gocv.InterpolationLinear)
	gocv.CvtColor(frame.Color, &frame.Gray, gocv.ColorBGRToGray)

	s.frameCount++
	return frame, nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.capture != nil {
		err = s.capture.Close()
		s.capture = nil
	}
	if s.raw.Ptr() != nil {
		_ = s.raw.Close()
	}
	s.isOpen = false
	log.Info().Str("camera", s.Name).Int64("frames", s.frameCount).Msg("Stream closed")
	return err
}

func (s *Stream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isOpen
}
