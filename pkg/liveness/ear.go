package liveness

import (
	"image"
	"math"

	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/landmark"
)

// eyeAspectRatio computes the ratio of the two vertical eye distances
// to the horizontal one over a six-point eye contour. Open eyes sit
// around 0.25-0.35; a closed eye drops well below 0.2. The ratio is
// scale invariant, so it needs no knowledge of face size or camera
// distance.
func eyeAspectRatio(pts []image.Point) float64 {
	if len(pts) != landmark.EyePointCount {
		return 0
	}
	horizontal := pointDistance(pts[0], pts[3])
	if horizontal < 1e-6 {
		return 0
	}
	v1 := pointDistance(pts[1], pts[5])
	v2 := pointDistance(pts[2], pts[4])
	return (v1 + v2) / (2 * horizontal)
}

func pointDistance(a, b image.Point) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// EarProcessor turns face observations into EAR samples and feeds the
// shared history.
type EarProcessor struct {
	history *EarHistory
}

func NewEarProcessor(history *EarHistory) *EarProcessor {
	return &EarProcessor{history: history}
}

// Observe averages both eyes of the observation into a single EAR
// value and records it. Degenerate landmark geometry yields a neutral
// zero sample rather than an error, so a single bad frame cannot take
// down a session.
func (p *EarProcessor) Observe(obs *landmark.FaceObservation) EarSample {
	left := eyeAspectRatio(obs.Points(landmark.LeftEye))
	right := eyeAspectRatio(obs.Points(landmark.RightEye))
	sample := EarSample{
		Timestamp: obs.Timestamp,
		EAR:       (left + right) / 2,
	}
	if nose, ok := obs.Nose(); ok {
		sample.Nose = nose
	}
	p.history.Push(sample)
	return sample
}
