//go:build opencv

package camera

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"
)

func testFrame(t *testing.T) *Frame {
	t.Helper()
	f := &Frame{
		Color: gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3),
		Gray:  gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8U),
	}
	gocv.Rectangle(&f.Gray, image.Rect(300, 200, 340, 240), color.RGBA{255, 255, 255, 0}, -1)
	return f
}

func TestPreprocessBlursGray(t *testing.T) {
	p := NewPreprocessor(41)
	f := testFrame(t)
	defer p.ReleaseFrame(f)

	ref := p.Preprocess(f)
	defer p.ReleaseReference(ref)

	if ref.Rows() != 480 || ref.Cols() != 640 {
		t.Fatalf("Expected 640x480 reference, got %dx%d", ref.Cols(), ref.Rows())
	}
	if ref.Channels() != 1 {
		t.Errorf("Expected single channel reference, got %d", ref.Channels())
	}

	center := ref.GetUCharAt(220, 320)
	edge := ref.GetUCharAt(220, 345)
	if center == 0 || edge == 0 {
		t.Errorf("Expected blur to spread the square, center=%d edge=%d", center, edge)
	}
	if edge >= center {
		t.Errorf("Expected blurred edge %d to be darker than center %d", edge, center)
	}
}

func TestPreprocessDoesNotTouchFrame(t *testing.T) {
	p := NewPreprocessor(41)
	f := testFrame(t)
	defer p.ReleaseFrame(f)

	ref := p.Preprocess(f)
	p.ReleaseReference(ref)

	if got := f.Gray.GetUCharAt(220, 345); got != 0 {
		t.Errorf("Expected source gray to stay sharp, got %d outside the square", got)
	}
}

func TestFrameCloseNil(t *testing.T) {
	var f *Frame
	f.Close()
}

func TestReadBeforeOpen(t *testing.T) {
	s := NewStream("test-cam", "0", Options{Width: 640, Height: 480, AutoExposure: true})
	defer s.Close()

	if _, err := s.Read(); err == nil {
		t.Error("Expected error reading from unopened stream")
	}
	if fps := s.FPS(); fps != 0 {
		t.Errorf("Expected zero fps before open, got %f", fps)
	}
}

func TestCloseReleasesUnreadBuffer(t *testing.T) {
	s := NewStream("test-cam", "0", Options{Width: 640, Height: 480})

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if s.raw.Ptr() != nil {
		t.Error("Expected read buffer to be released after Close")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	s := NewStream("test-cam", filepath.Join(t.TempDir(), "missing.avi"), Options{Width: 640, Height: 480})
	defer s.Close()

	if err := s.Open(); err == nil {
		t.Error("Expected error opening a missing file")
	}
	if s.IsOpen() {
		t.Error("Stream should not report open")
	}
}
