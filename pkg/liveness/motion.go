package liveness

import (
	"image"
	"time"
)

const (
	motionDownsample    = 4
	motionPixelDelta    = 30
	motionWindow        = 5
	motionStillScore    = 0.005
	motionMinHistory    = 3
	motionRequiredStill = 10
)

// MotionTracker measures global inter-frame motion and decides when
// the subject is holding still. Blinks observed while the whole frame
// is moving (hand-held photo waving, screen repositioning) are not
// trustworthy, so the blink stage gates on this signal.
type MotionTracker struct {
	history  *MotionHistory
	prev     *image.Gray
	stillRun int
}

func NewMotionTracker() *MotionTracker {
	return &MotionTracker{history: NewMotionHistory(motionWindow)}
}

// Update scores the new frame against the previous one. The frames are
// downsampled before differencing, which keeps the per-frame cost
// small enough for every frame of the session.
func (t *MotionTracker) Update(img image.Image, ts time.Time) MotionSample {
	gray := downsampleGray(img, motionDownsample)
	sample := MotionSample{Timestamp: ts}
	if t.prev != nil && t.prev.Rect == gray.Rect {
		sample.Score = frameDiffScore(t.prev, gray)
	}
	t.prev = gray
	t.history.Push(sample)

	if t.history.Len() >= motionMinHistory {
		if t.history.Average() > motionStillScore {
			t.stillRun = 0
		} else {
			t.stillRun++
		}
	}
	return sample
}

// Still reports whether enough consecutive low-motion frames have been
// seen. A single spike resets the run.
func (t *MotionTracker) Still() bool {
	return t.stillRun >= motionRequiredStill
}

// frameDiffScore returns the fraction of pixels whose intensity moved
// by more than the pixel threshold between two equal-sized frames.
func frameDiffScore(a, b *image.Gray) float64 {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	changed := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			va := int(a.GrayAt(x, y).Y)
			vb := int(b.GrayAt(x, y).Y)
			d := va - vb
			if d < 0 {
				d = -d
			}
			if d > motionPixelDelta {
				changed++
			}
		}
	}
	return float64(changed) / float64(w*h)
}
