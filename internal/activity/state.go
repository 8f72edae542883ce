// Package activity classifies a frame as idle, generic motion or a person.
package activity

import "image"

// State is the per-frame activity classification.
type State int

const (
	Idle State = iota
	Motion
	Person
)

// Priority is the order in which predicates are evaluated. The first state
// whose predicate holds wins, so a frame with both a face and motion is
// always Person.
var Priority = [...]State{Person, Motion, Idle}

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Motion:
		return "motion"
	case Person:
		return "person"
	default:
		return "unknown"
	}
}

// IsEvent reports whether the state counts as an event (motion or person).
func (s State) IsEvent() bool {
	return s == Motion || s == Person
}

// Region is a candidate detection before the minimum area filter.
type Region struct {
	Box  image.Rectangle
	Area float64
}

// MotionParams tunes the frame differencing pipeline.
type MotionParams struct {
	DiffThreshold    float64
	DilateIterations int
}

// DefaultMotionParams returns the binarization threshold and dilation
// count used unless configured otherwise.
func DefaultMotionParams() MotionParams {
	return MotionParams{
		DiffThreshold:    25,
		DilateIterations: 2,
	}
}

// Detector finds faces in a full frame and motion between two
// preprocessed frames. Implementations must be deterministic for identical
// inputs and must not modify them.
type Detector[F, P any] interface {
	Faces(frame F) []Region
	Motion(baseline, current P, params MotionParams) []Region
}
