//go:build opencv

package recorder

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/kai5263499/sentry-timelapse/internal/timelapse"
	"github.com/kai5263499/sentry-timelapse/pkg/camera"
)

var errClosed = errors.New("recorder closed")

// Options describes the output container.
type Options struct {
	Dir    string
	Prefix string
	Codec  string
	FPS    float64
	Width  int
	Height int
	// ConvertMP4 re-encodes the AVI with ffmpeg once it is closed and
	// removes the AVI on success.
	ConvertMP4 bool
}

// VideoRecorder appends selected frames to a single timestamped AVI file.
type VideoRecorder struct {
	Name string
	opts Options

	writer         *gocv.VideoWriter
	currentFile    string
	recordingStart time.Time
	frames         int64
	mu             sync.Mutex
}

// NewRecorder creates the output directory and opens the writer.
func NewRecorder(name string, opts Options) (*VideoRecorder, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.avi", opts.Prefix, timestamp))

	writer, err := gocv.VideoWriterFile(filename, opts.Codec, opts.FPS, opts.Width, opts.Height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open video writer: %w", err)
	}

	if !writer.IsOpened() {
		_ = writer.Close()
		return nil, fmt.Errorf("video writer not opened")
	}

	log.Info().Str("camera", name).Str("file", filename).Str("codec", opts.Codec).Msg("Started recording")

	return &VideoRecorder{
		Name:           name,
		opts:           opts,
		writer:         writer,
		currentFile:    filename,
		recordingStart: time.Now(),
	}, nil
}

// Append writes the color frame to the recording.
func (r *VideoRecorder) Append(frame *camera.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		return errClosed
	}
	if frame.Color.Empty() {
		return fmt.Errorf("empty frame")
	}
	if err := r.writer.Write(frame.Color); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	r.frames++
	return nil
}

// File returns the path of the recording.
func (r *VideoRecorder) File() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentFile
}

// Frames returns the number of frames written so far.
func (r *VideoRecorder) Frames() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Close finalizes the file. With ConvertMP4 set the conversion runs before
// Close returns.
func (r *VideoRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		return nil
	}

	err := r.writer.Close()
	r.writer = nil

	log.Info().
		Str("camera", r.Name).
		Str("file", r.currentFile).
		Int64("frames", r.frames).
		Dur("duration", time.Since(r.recordingStart)).
		Msg("Stopped recording")

	if err != nil {
		return fmt.Errorf("failed to close video writer: %w", err)
	}

	if r.opts.ConvertMP4 && r.frames > 0 {
		mp4, convErr := r.convertAVItoMP4(r.currentFile)
		if convErr != nil {
			log.Warn().Err(convErr).Str("camera", r.Name).Msg("Keeping AVI recording")
			return nil
		}
		r.currentFile = mp4
	}
	return nil
}

// convertAVItoMP4 converts an AVI file to MP4 using ffmpeg
func (r *VideoRecorder) convertAVItoMP4(aviPath string) (string, error) {
	mp4Path := strings.TrimSuffix(aviPath, ".avi") + ".mp4"

	log.Info().Str("camera", r.Name).Str("file", filepath.Base(aviPath)).Msg("Converting to MP4")

	// H.264 with constant rate factor 23, overwrite existing output
	cmd := exec.Command("ffmpeg",
		"-i", aviPath,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-y",
		mp4Path,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		log.Error().Err(err).Str("camera", r.Name).Str("output", string(output)).Msg("FFmpeg conversion failed")
		return "", fmt.Errorf("ffmpeg conversion failed: %w", err)
	}

	log.Info().Str("camera", r.Name).Str("file", filepath.Base(mp4Path)).Msg("Successfully converted to MP4")

	if err := os.Remove(aviPath); err != nil {
		log.Warn().Err(err).Str("camera", r.Name).Msg("Failed to delete AVI file")
	}

	return mp4Path, nil
}

var _ timelapse.Sink[*camera.Frame] = (*VideoRecorder)(nil)
