//go:build opencv

package camera

import (
	"image"

	"gocv.io/x/gocv"
)

// Frame is one captured image: the color frame that gets annotated and
// recorded, and its grayscale copy used for face detection.
type Frame struct {
	Color gocv.Mat
	Gray  gocv.Mat
}

func NewFrame() *Frame {
	return &Frame{
		Color: gocv.NewMat(),
		Gray:  gocv.NewMat(),
	}
}

// Close releases both matrices.
func (f *Frame) Close() {
	if f == nil {
		return
	}
	_ = f.Color.Close()
	_ = f.Gray.Close()
}

// Preprocessor turns frames into blurred grayscale references for motion
// comparison and releases frame memory.
type Preprocessor struct {
	kernel image.Point
}

// NewPreprocessor uses a square Gaussian kernel of the given odd size.
func NewPreprocessor(blurKernel int) *Preprocessor {
	return &Preprocessor{kernel: image.Pt(blurKernel, blurKernel)}
}

func (p *Preprocessor) Preprocess(frame *Frame) gocv.Mat {
	ref := gocv.NewMat()
	gocv.GaussianBlur(frame.Gray, &ref, p.kernel, 0, 0, gocv.BorderDefault)
	return ref
}

func (p *Preprocessor) ReleaseFrame(frame *Frame) {
	frame.Close()
}

func (p *Preprocessor) ReleaseReference(ref gocv.Mat) {
	_ = ref.Close()
}
