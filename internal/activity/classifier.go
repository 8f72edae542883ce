package activity

import "image"

// Options configures a Classifier.
type Options struct {
	// MinArea discards face and motion regions smaller than this many pixels.
	MinArea float64
	// DrawFaceBoxes collects every surviving face box for annotation.
	DrawFaceBoxes bool
	// DrawMotionBoxes collects every surviving motion box for annotation.
	DrawMotionBoxes bool
	// Motion is passed through to Detector.Motion.
	Motion MotionParams
}

// Result is the outcome of classifying one frame.
type Result struct {
	State State
	// Boxes holds the surviving regions of the winning predicate. When box
	// drawing is off for that state it holds at most one box.
	Boxes []image.Rectangle
}

// Classifier turns detector output into a State.
type Classifier[F, P any] struct {
	detector Detector[F, P]
	opts     Options
}

func NewClassifier[F, P any](detector Detector[F, P], opts Options) *Classifier[F, P] {
	return &Classifier[F, P]{
		detector: detector,
		opts:     opts,
	}
}

// Classify evaluates the predicates in Priority order. hasBaseline is false
// only when no reference frame has been stored yet, in which case the motion
// predicate cannot hold.
func (c *Classifier[F, P]) Classify(frame F, current, baseline P, hasBaseline bool) Result {
	for _, state := range Priority {
		var regions []Region
		switch state {
		case Person:
			regions = c.detector.Faces(frame)
		case Motion:
			if !hasBaseline {
				continue
			}
			regions = c.detector.Motion(baseline, current, c.opts.Motion)
		case Idle:
			return Result{State: Idle}
		}

		if boxes, ok := c.filter(regions, c.collectAll(state)); ok {
			return Result{State: state, Boxes: boxes}
		}
	}
	return Result{State: Idle}
}

func (c *Classifier[F, P]) collectAll(state State) bool {
	switch state {
	case Person:
		return c.opts.DrawFaceBoxes
	case Motion:
		return c.opts.DrawMotionBoxes
	}
	return false
}

// filter drops regions under MinArea. Unless all is set it stops at the
// first survivor.
func (c *Classifier[F, P]) filter(regions []Region, all bool) ([]image.Rectangle, bool) {
	var boxes []image.Rectangle
	for _, r := range regions {
		if r.Area < c.opts.MinArea {
			continue
		}
		boxes = append(boxes, r.Box)
		if !all {
			break
		}
	}
	return boxes, len(boxes) > 0
}
