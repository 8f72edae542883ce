//go:build opencv

// Package motion finds faces with a Haar cascade and motion by differencing
// a frame against an older reference.
package motion

import (
	"fmt"
	"image"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/kai5263499/sentry-timelapse/internal/activity"
	"github.com/kai5263499/sentry-timelapse/pkg/camera"
)

const (
	scaleFactor  = 1.1
	minNeighbors = 6
)

type Detector struct {
	cascade gocv.CascadeClassifier
	kernel  gocv.Mat
}

// NewDetector loads the face cascade from cascadePath.
func NewDetector(cascadePath string) (*Detector, error) {
	cascade := gocv.NewCascadeClassifier()
	if !cascade.Load(cascadePath) {
		_ = cascade.Close()
		return nil, fmt.Errorf("failed to load face cascade %q", cascadePath)
	}
	log.Info().Str("cascade", cascadePath).Msg("Face cascade loaded")

	return &Detector{
		cascade: cascade,
		kernel:  gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
	}, nil
}

// Faces runs the cascade on the grayscale frame. Area is w*h.
func (d *Detector) Faces(frame *camera.Frame) []activity.Region {
	rects := d.cascade.DetectMultiScaleWithParams(frame.Gray, scaleFactor, minNeighbors, 0, image.Pt(0, 0), image.Pt(0, 0))

	regions := make([]activity.Region, 0, len(rects))
	for _, r := range rects {
		regions = append(regions, activity.Region{
			Box:  r,
			Area: float64(r.Dx() * r.Dy()),
		})
	}
	return regions
}

// Motion thresholds the difference between baseline and current, dilates it
// to fill holes and returns the external contours.
func (d *Detector) Motion(baseline, current gocv.Mat, p activity.MotionParams) []activity.Region {
	delta := gocv.NewMat()
	defer delta.Close()
	gocv.AbsDiff(baseline, current, &delta)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(delta, &mask, float32(p.DiffThreshold), 255, gocv.ThresholdBinary)

	for i := 0; i < p.DilateIterations; i++ {
		gocv.Dilate(mask, &mask, d.kernel)
	}

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	regions := make([]activity.Region, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		regions = append(regions, activity.Region{
			Box:  gocv.BoundingRect(c),
			Area: gocv.ContourArea(c),
		})
	}
	return regions
}

func (d *Detector) Close() error {
	return firstErr(d.cascade.Close(), d.kernel.Close())
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

var _ activity.Detector[*camera.Frame, gocv.Mat] = (*Detector)(nil)
