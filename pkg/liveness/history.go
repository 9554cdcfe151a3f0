package liveness

import (
	"image"
	"time"
)

// EarSample is one eye-aspect-ratio measurement tied to the frame it
// came from.
type EarSample struct {
	Timestamp time.Time
	EAR       float64
	Nose      image.Point
}

// EarHistory keeps a bounded, time-windowed run of EAR samples. Old
// samples are evicted both by age and by count so memory stays flat no
// matter how long a session runs.
type EarHistory struct {
	samples []EarSample
	horizon time.Duration
	maxLen  int
}

// NewEarHistory creates a history bounded to maxLen samples within the
// given time horizon.
func NewEarHistory(horizon time.Duration, maxLen int) *EarHistory {
	return &EarHistory{
		samples: make([]EarSample, 0, maxLen),
		horizon: horizon,
		maxLen:  maxLen,
	}
}

// Push appends a sample and evicts anything outside the bounds.
func (h *EarHistory) Push(s EarSample) {
	h.samples = append(h.samples, s)
	cutoff := s.Timestamp.Add(-h.horizon)
	i := 0
	for i < len(h.samples) && h.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if over := len(h.samples) - i - h.maxLen; over > 0 {
		i += over
	}
	if i > 0 {
		h.samples = append(h.samples[:0], h.samples[i:]...)
	}
}

func (h *EarHistory) Len() int {
	return len(h.samples)
}

// Values returns the EAR series oldest first. The slice is a copy.
func (h *EarHistory) Values() []float64 {
	vals := make([]float64, len(h.samples))
	for i, s := range h.samples {
		vals[i] = s.EAR
	}
	return vals
}

// Last returns the most recent sample, if any.
func (h *EarHistory) Last() (EarSample, bool) {
	if len(h.samples) == 0 {
		return EarSample{}, false
	}
	return h.samples[len(h.samples)-1], true
}

// MotionSample is one inter-frame motion score.
type MotionSample struct {
	Timestamp time.Time
	Score     float64
}

// MotionHistory is a fixed-size rolling window of motion scores.
type MotionHistory struct {
	samples []MotionSample
	maxLen  int
}

func NewMotionHistory(maxLen int) *MotionHistory {
	return &MotionHistory{samples: make([]MotionSample, 0, maxLen), maxLen: maxLen}
}

func (h *MotionHistory) Push(s MotionSample) {
	h.samples = append(h.samples, s)
	if len(h.samples) > h.maxLen {
		h.samples = append(h.samples[:0], h.samples[len(h.samples)-h.maxLen:]...)
	}
}

func (h *MotionHistory) Len() int {
	return len(h.samples)
}

// Average returns the mean score over the window.
func (h *MotionHistory) Average() float64 {
	if len(h.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range h.samples {
		sum += s.Score
	}
	return sum / float64(len(h.samples))
}
