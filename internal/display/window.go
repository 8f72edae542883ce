//go:build opencv

// Package display shows processed frames in a desktop window.
package display

import (
	"context"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/kai5263499/sentry-timelapse/internal/timelapse"
	"github.com/kai5263499/sentry-timelapse/pkg/camera"
)

// QuitKey stops the capture when pressed in the window.
const QuitKey = 'q'

// Window must be used from the goroutine that runs the capture loop.
type Window struct {
	window *gocv.Window
	waitMs int
	cancel context.CancelFunc
}

// NewWindow opens a window titled name. cancel is called when QuitKey is
// pressed.
func NewWindow(name string, waitMs int, cancel context.CancelFunc) *Window {
	log.Info().Str("window", name).Msg("Opening preview window, press q to stop")
	return &Window{
		window: gocv.NewWindow(name),
		waitMs: waitMs,
		cancel: cancel,
	}
}

func (w *Window) Show(frame *camera.Frame) {
	w.window.IMShow(frame.Color)
	if key := w.window.WaitKey(w.waitMs); key&0xFF == QuitKey {
		log.Info().Msg("Quit key pressed")
		w.cancel()
	}
}

func (w *Window) Close() error {
	return w.window.Close()
}

var _ timelapse.Display[*camera.Frame] = (*Window)(nil)
