//go:build opencv

// Package overlay draws activity labels, detection boxes and the playback
// speed onto color frames.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/kai5263499/sentry-timelapse/internal/activity"
	"github.com/kai5263499/sentry-timelapse/internal/timelapse"
	"github.com/kai5263499/sentry-timelapse/pkg/camera"
)

var (
	labelColor  = color.RGBA{255, 0, 0, 0}
	faceColor   = color.RGBA{0, 0, 255, 0}
	motionColor = color.RGBA{0, 255, 0, 0}
	speedColor  = color.RGBA{255, 255, 255, 0}

	labelOrigin = image.Pt(20, 20)
	speedOrigin = image.Pt(20, 30)
)

const thickness = 2

var labels = map[activity.State]string{
	activity.Person: "Face Detected",
	activity.Motion: "Motion Detected",
}

type Annotator struct{}

func (Annotator) Label(frame *camera.Frame, state activity.State) {
	text, ok := labels[state]
	if !ok {
		return
	}
	gocv.PutText(&frame.Color, text, labelOrigin, gocv.FontHersheySimplex, 0.5, labelColor, thickness)
}

func (Annotator) Boxes(frame *camera.Frame, state activity.State, boxes []image.Rectangle) {
	c := motionColor
	if state == activity.Person {
		c = faceColor
	}
	for _, b := range boxes {
		gocv.Rectangle(&frame.Color, b, c, thickness)
	}
}

func (Annotator) Speed(frame *camera.Frame, multiplier int) {
	gocv.PutText(&frame.Color, fmt.Sprintf("%dx Speed", multiplier), speedOrigin, gocv.FontHersheySimplex, 1, speedColor, thickness)
}

var _ timelapse.Annotator[*camera.Frame] = Annotator{}
