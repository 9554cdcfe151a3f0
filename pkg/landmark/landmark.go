// Package landmark defines the face observation model consumed by the
// liveness engine and provides a dlib-backed provider implementation.
//
// The landmark topology is fixed and known at compile time, so features
// are stored in an enum-indexed array rather than a keyed map.
package landmark

import (
	"image"
	"time"
)

// Feature identifies a named landmark group on a detected face.
type Feature int

const (
	// LeftEye is the 6-point left eye contour.
	LeftEye Feature = iota
	// RightEye is the 6-point right eye contour.
	RightEye
	// NoseTip is a single stable reference point used for movement
	// tracking.
	NoseTip

	numFeatures
)

// String returns the feature name.
func (f Feature) String() string {
	switch f {
	case LeftEye:
		return "left_eye"
	case RightEye:
		return "right_eye"
	case NoseTip:
		return "nose_tip"
	}
	return "unknown"
}

// EyePointCount is the number of contour points per eye. Index 0 and 3
// are the horizontal corners; 1,2 and 4,5 are the upper and lower lids.
const EyePointCount = 6

// FaceObservation is one detected face in one frame. It is produced by a
// Provider and never mutated afterwards.
type FaceObservation struct {
	Timestamp   time.Time
	BoundingBox image.Rectangle

	features [numFeatures][]image.Point
}

// NewFaceObservation builds an observation for the given box.
func NewFaceObservation(ts time.Time, box image.Rectangle) *FaceObservation {
	return &FaceObservation{Timestamp: ts, BoundingBox: box}
}

// SetPoints assigns the points for a feature. Intended for providers and
// tests; the slice is not copied.
func (o *FaceObservation) SetPoints(f Feature, pts []image.Point) {
	if f >= 0 && f < numFeatures {
		o.features[f] = pts
	}
}

// Points returns the points for a feature, or nil when the provider did
// not supply them.
func (o *FaceObservation) Points(f Feature) []image.Point {
	if f < 0 || f >= numFeatures {
		return nil
	}
	return o.features[f]
}

// Nose returns the nose tip reference point and whether it is present.
func (o *FaceObservation) Nose() (image.Point, bool) {
	pts := o.features[NoseTip]
	if len(pts) == 0 {
		return image.Point{}, false
	}
	return pts[0], true
}

// Area returns the bounding box area in pixels.
func (o *FaceObservation) Area() int {
	return o.BoundingBox.Dx() * o.BoundingBox.Dy()
}

// Provider locates at most one primary face per frame. The boolean is
// false when no face was observed; that is a normal per-frame outcome,
// not an error.
type Provider interface {
	Detect(img image.Image, ts time.Time) (*FaceObservation, bool)
}
