package activity

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scene struct {
	faces  []Region
	motion []Region
}

type stubDetector struct {
	faceCalls   int
	motionCalls int
	lastParams  MotionParams
}

func (d *stubDetector) Faces(frame scene) []Region {
	d.faceCalls++
	return frame.faces
}

func (d *stubDetector) Motion(baseline, current scene, params MotionParams) []Region {
	d.motionCalls++
	d.lastParams = params
	return current.motion
}

func region(x, y, w, h int) Region {
	return Region{Box: image.Rect(x, y, x+w, y+h), Area: float64(w * h)}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "motion", Motion.String())
	assert.Equal(t, "person", Person.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.False(t, Idle.IsEvent())
	assert.True(t, Motion.IsEvent())
	assert.True(t, Person.IsEvent())
}

func TestPriorityOrder(t *testing.T) {
	assert.Equal(t, [...]State{Person, Motion, Idle}, Priority)
}

func TestClassify(t *testing.T) {
	opts := Options{MinArea: 100, DrawFaceBoxes: true, Motion: DefaultMotionParams()}

	tests := []struct {
		name        string
		frame       scene
		hasBaseline bool
		want        State
		wantBoxes   int
	}{
		{name: "nothing", frame: scene{}, hasBaseline: true, want: Idle},
		{name: "face wins over motion", frame: scene{faces: []Region{region(0, 0, 20, 20)}, motion: []Region{region(0, 0, 50, 50)}}, hasBaseline: true, want: Person, wantBoxes: 1},
		{name: "motion only", frame: scene{motion: []Region{region(0, 0, 50, 50)}}, hasBaseline: true, want: Motion, wantBoxes: 1},
		{name: "small face ignored", frame: scene{faces: []Region{region(0, 0, 5, 5)}, motion: []Region{region(0, 0, 50, 50)}}, hasBaseline: true, want: Motion, wantBoxes: 1},
		{name: "small motion ignored", frame: scene{motion: []Region{region(0, 0, 9, 9)}}, hasBaseline: true, want: Idle},
		{name: "no baseline skips motion", frame: scene{motion: []Region{region(0, 0, 50, 50)}}, hasBaseline: false, want: Idle},
		{name: "no baseline still finds faces", frame: scene{faces: []Region{region(0, 0, 20, 20)}}, hasBaseline: false, want: Person, wantBoxes: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier[scene, scene](&stubDetector{}, opts)
			got := c.Classify(tt.frame, tt.frame, scene{}, tt.hasBaseline)
			assert.Equal(t, tt.want, got.State)
			assert.Len(t, got.Boxes, tt.wantBoxes)
		})
	}
}

func TestClassifyShortCircuitsOnFace(t *testing.T) {
	d := &stubDetector{}
	c := NewClassifier[scene, scene](d, Options{MinArea: 1})

	frame := scene{faces: []Region{region(0, 0, 10, 10)}, motion: []Region{region(0, 0, 10, 10)}}
	got := c.Classify(frame, frame, scene{}, true)

	assert.Equal(t, Person, got.State)
	assert.Equal(t, 1, d.faceCalls)
	assert.Equal(t, 0, d.motionCalls)
}

func TestClassifyPassesMotionParams(t *testing.T) {
	d := &stubDetector{}
	params := MotionParams{DiffThreshold: 40, DilateIterations: 3}
	c := NewClassifier[scene, scene](d, Options{MinArea: 1, Motion: params})

	c.Classify(scene{}, scene{}, scene{}, true)

	assert.Equal(t, 1, d.motionCalls)
	assert.Equal(t, params, d.lastParams)
}

func TestBoxCollectionDoesNotChangeState(t *testing.T) {
	frames := []scene{
		{faces: []Region{region(0, 0, 20, 20), region(30, 30, 20, 20), region(60, 60, 2, 2)}},
		{motion: []Region{region(0, 0, 2, 2), region(10, 10, 40, 40), region(100, 100, 40, 40)}},
		{},
	}

	for _, frame := range frames {
		on := NewClassifier[scene, scene](&stubDetector{}, Options{MinArea: 100, DrawFaceBoxes: true, DrawMotionBoxes: true})
		off := NewClassifier[scene, scene](&stubDetector{}, Options{MinArea: 100})

		withBoxes := on.Classify(frame, frame, scene{}, true)
		firstOnly := off.Classify(frame, frame, scene{}, true)

		require.Equal(t, withBoxes.State, firstOnly.State)
		if withBoxes.State == Idle {
			assert.Empty(t, withBoxes.Boxes)
			assert.Empty(t, firstOnly.Boxes)
			continue
		}
		assert.Len(t, withBoxes.Boxes, 2)
		require.Len(t, firstOnly.Boxes, 1)
		assert.Equal(t, withBoxes.Boxes[0], firstOnly.Boxes[0])
	}
}
