package liveness

import "math"

const (
	blinkConsecFrames  = 2
	blinkCalibrationN  = 10
	blinkPercentile    = 70
	blinkThresholdFrac = 0.75
	blinkMinAmplitude  = 0.03
	blinkCloseDelta    = 0.01
	blinkOpenDelta     = 0.005
	blinkPatternWindow = 5
)

// BlinkDecision reports the outcome of feeding one EAR sample into
// the detector.
type BlinkDecision struct {
	Detected  bool
	Count     int
	Threshold float64
}

// BlinkDetector finds natural blinks in an EAR series. The closed-eye
// threshold adapts to the subject once enough calibration samples have
// accumulated, and a candidate dip only counts when the trajectory
// into and out of the minimum looks like a real eyelid: sharp close,
// softer reopen, with enough amplitude. Replayed video with the eyes
// frozen open, or a photo, never produces that shape.
type BlinkDetector struct {
	floor    float64
	belowRun int
	count    int
}

func NewBlinkDetector(floor float64) *BlinkDetector {
	return &BlinkDetector{floor: floor}
}

// Count returns the number of blinks accepted so far. The counter is
// monotonic for the lifetime of a session.
func (d *BlinkDetector) Count() int {
	return d.count
}

// Update consumes the latest sample in the history. Samples that
// arrive while the subject is moving are discarded and any in-progress
// dip is abandoned, since frame-wide motion can fake an EAR dip.
func (d *BlinkDetector) Update(h *EarHistory, still bool) BlinkDecision {
	threshold := d.threshold(h)
	decision := BlinkDecision{Count: d.count, Threshold: threshold}

	if !still || h.Len() < motionMinHistory {
		d.belowRun = 0
		return decision
	}

	last, ok := h.Last()
	if !ok {
		return decision
	}

	if last.EAR < threshold {
		d.belowRun++
		return decision
	}

	if d.belowRun >= blinkConsecFrames && naturalBlinkShape(h.Values()) {
		d.count++
		decision.Detected = true
		decision.Count = d.count
	}
	d.belowRun = 0
	return decision
}

// threshold returns the closed-eye cutoff: a fraction of the subject's
// typical open-eye EAR once calibrated, never below the fixed floor.
func (d *BlinkDetector) threshold(h *EarHistory) float64 {
	if h.Len() < blinkCalibrationN {
		return d.floor
	}
	adaptive := blinkThresholdFrac * percentile(h.Values(), blinkPercentile)
	return math.Max(d.floor, adaptive)
}

// naturalBlinkShape checks the last few samples for a decrease into a
// minimum followed by an increase out of it, with realistic deltas and
// overall amplitude.
func naturalBlinkShape(vals []float64) bool {
	n := len(vals)
	if n < blinkPatternWindow {
		return false
	}
	before := vals[n-5]
	mid := vals[n-3]
	after := vals[n-1]

	if !(before > mid && mid < after) {
		return false
	}
	if math.Abs(after-mid) <= blinkCloseDelta {
		return false
	}
	if math.Abs(mid-before) <= blinkOpenDelta {
		return false
	}

	window := vals[n-blinkPatternWindow:]
	lo, hi := window[0], window[0]
	for _, v := range window[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi-lo > blinkMinAmplitude
}
