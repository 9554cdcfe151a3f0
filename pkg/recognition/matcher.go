// Package recognition matches a verified-live face frame against the
// enrolled users of the door system. Detection and descriptor
// extraction run on dlib via go-face; matching is plain Euclidean
// distance in descriptor space with a configurable tolerance.
package recognition

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/logging"
)

// Descriptor is a 128-dimensional dlib face descriptor.
type Descriptor = face.Descriptor

var (
	ErrNoFaceDetected = errors.New("no face detected")
	ErrMultipleFaces  = errors.New("multiple faces detected")
	ErrModelNotLoaded = errors.New("recognition models not loaded")
)

// Profile is one enrolled identity in the matching gallery.
type Profile struct {
	UserID     string
	Descriptor Descriptor
}

// MatchResult describes the closest gallery entry for a probe.
type MatchResult struct {
	UserID   string
	Distance float64
	Matched  bool
}

// IdentityMatcher wraps the dlib recognizer for enrollment and access
// decisions. Safe for concurrent use.
type IdentityMatcher struct {
	rec       *face.Recognizer
	mu        sync.RWMutex
	tolerance float64
	loaded    bool
}

// NewIdentityMatcher creates a matcher with the given distance
// tolerance. Descriptor distances below the tolerance count as the
// same person; 0.4 is a strict production default.
func NewIdentityMatcher(tolerance float64) *IdentityMatcher {
	return &IdentityMatcher{tolerance: tolerance}
}

// LoadModels loads the dlib model files from the directory. The
// directory must contain shape_predictor_5_face_landmarks.dat and
// dlib_face_recognition_resnet_model_v1.dat.
func (m *IdentityMatcher) LoadModels(modelPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return nil
	}

	logging.Infof("Loading recognition models from: %s", modelPath)
	rec, err := face.NewRecognizer(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load recognition models: %w", err)
	}
	m.rec = rec
	m.loaded = true
	return nil
}

// IsLoaded reports whether the models are ready.
func (m *IdentityMatcher) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Close releases the dlib resources.
func (m *IdentityMatcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec != nil {
		m.rec.Close()
		m.rec = nil
	}
	m.loaded = false
	return nil
}

// DescriptorFromImage extracts the descriptor of the single face in
// the frame. Multiple faces are rejected so an enrollment or access
// probe is always unambiguous.
func (m *IdentityMatcher) DescriptorFromImage(img image.Image) (Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.loaded {
		return Descriptor{}, ErrModelNotLoaded
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return Descriptor{}, fmt.Errorf("failed to encode frame: %w", err)
	}

	faces, err := m.rec.Recognize(buf.Bytes())
	if err != nil {
		return Descriptor{}, fmt.Errorf("face detection failed: %w", err)
	}
	if len(faces) == 0 {
		return Descriptor{}, ErrNoFaceDetected
	}
	if len(faces) > 1 {
		return Descriptor{}, ErrMultipleFaces
	}
	return faces[0].Descriptor, nil
}

// Tolerance returns the configured matching tolerance.
func (m *IdentityMatcher) Tolerance() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tolerance
}

// SetTolerance adjusts the matching tolerance. Lower is stricter.
func (m *IdentityMatcher) SetTolerance(tolerance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tolerance = tolerance
}

// Match reports whether two descriptors belong to the same person
// under the configured tolerance.
func (m *IdentityMatcher) Match(a, b Descriptor) bool {
	return EuclideanDistance(a, b) < m.Tolerance()
}

// BestMatch scans the gallery for the closest profile to the probe.
// The result's Matched field reflects the tolerance check; an empty
// gallery yields an unmatched result.
func (m *IdentityMatcher) BestMatch(probe Descriptor, gallery []Profile) MatchResult {
	tolerance := m.Tolerance()

	best := MatchResult{Distance: math.MaxFloat64}
	for _, p := range gallery {
		dist := EuclideanDistance(probe, p.Descriptor)
		if dist < best.Distance {
			best.Distance = dist
			best.UserID = p.UserID
		}
	}
	best.Matched = best.UserID != "" && best.Distance < tolerance
	return best
}

// EuclideanDistance computes the L2 distance between two descriptors.
func EuclideanDistance(a, b Descriptor) float64 {
	if len(a) != len(b) {
		return math.MaxFloat64
	}
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// AverageDescriptor combines several enrollment samples of the same
// person into one gallery descriptor.
func AverageDescriptor(samples []Descriptor) Descriptor {
	var avg Descriptor
	if len(samples) == 0 {
		return avg
	}
	for _, s := range samples {
		for i, v := range s {
			avg[i] += v
		}
	}
	n := float32(len(samples))
	for i := range avg {
		avg[i] /= n
	}
	return avg
}
