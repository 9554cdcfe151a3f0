package liveness

import (
	"math"
	"testing"
	"time"
)

// feedSequence pushes an EAR series into the history, updating the
// detector after each sample, and returns the final decision.
func feedSequence(d *BlinkDetector, h *EarHistory, ears []float64, still bool) BlinkDecision {
	base := time.Now()
	var decision BlinkDecision
	for i, ear := range ears {
		h.Push(EarSample{Timestamp: base.Add(time.Duration(i) * 33 * time.Millisecond), EAR: ear})
		decision = d.Update(h, still)
	}
	return decision
}

// blinkSequence is a natural open-dip-recover trajectory.
func blinkSequence(open, closed float64) []float64 {
	return []float64{open, open, open, open, closed, closed, open}
}

func TestBlinkDetectorCountsNaturalBlink(t *testing.T) {
	h := NewEarHistory(5*time.Second, 60)
	d := NewBlinkDetector(0.20)

	decision := feedSequence(d, h, blinkSequence(0.32, 0.10), true)

	if d.Count() != 1 {
		t.Fatalf("expected 1 blink, got %d", d.Count())
	}
	if !decision.Detected {
		t.Error("final recovery sample should report the blink")
	}
}

func TestBlinkDetectorIgnoresBlinkWhileMoving(t *testing.T) {
	h := NewEarHistory(5*time.Second, 60)
	d := NewBlinkDetector(0.20)

	feedSequence(d, h, blinkSequence(0.32, 0.10), false)

	if d.Count() != 0 {
		t.Errorf("blink during motion should not count, got %d", d.Count())
	}
}

func TestBlinkDetectorRejectsSingleFrameDip(t *testing.T) {
	h := NewEarHistory(5*time.Second, 60)
	d := NewBlinkDetector(0.20)

	// One below-threshold frame, then recovery. Sensor noise, not a
	// blink.
	feedSequence(d, h, []float64{0.32, 0.32, 0.32, 0.32, 0.10, 0.32}, true)

	if d.Count() != 0 {
		t.Errorf("single-frame dip should not count, got %d", d.Count())
	}
}

func TestBlinkDetectorRejectsShallowDip(t *testing.T) {
	h := NewEarHistory(5*time.Second, 60)
	d := NewBlinkDetector(0.10)

	// Dips below the floor but total amplitude stays under the
	// natural-blink minimum.
	feedSequence(d, h, []float64{0.115, 0.115, 0.115, 0.115, 0.095, 0.095, 0.115}, true)

	if d.Count() != 0 {
		t.Errorf("shallow dip should not count, got %d", d.Count())
	}
}

func TestBlinkDetectorCountIsMonotonic(t *testing.T) {
	h := NewEarHistory(5*time.Second, 60)
	d := NewBlinkDetector(0.20)

	feedSequence(d, h, blinkSequence(0.32, 0.10), true)
	feedSequence(d, h, blinkSequence(0.32, 0.10), true)

	if d.Count() != 2 {
		t.Errorf("expected 2 blinks over two sequences, got %d", d.Count())
	}
}

func TestBlinkThresholdBeforeCalibration(t *testing.T) {
	h := NewEarHistory(5*time.Second, 60)
	d := NewBlinkDetector(0.20)

	base := time.Now()
	for i := 0; i < 5; i++ {
		h.Push(EarSample{Timestamp: base.Add(time.Duration(i) * time.Millisecond), EAR: 0.40})
	}

	if got := d.threshold(h); got != 0.20 {
		t.Errorf("expected fixed floor before calibration, got %.4f", got)
	}
}

func TestBlinkThresholdAdaptsToSubject(t *testing.T) {
	h := NewEarHistory(5*time.Second, 60)
	d := NewBlinkDetector(0.20)

	// Subject with unusually high open-eye EAR.
	base := time.Now()
	for i := 0; i < 12; i++ {
		h.Push(EarSample{Timestamp: base.Add(time.Duration(i) * time.Millisecond), EAR: 0.40})
	}

	got := d.threshold(h)
	want := 0.75 * 0.40
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("expected adaptive threshold %.4f, got %.4f", want, got)
	}
}

func TestBlinkThresholdNeverBelowFloor(t *testing.T) {
	h := NewEarHistory(5*time.Second, 60)
	d := NewBlinkDetector(0.20)

	// Low-EAR subject: adaptive value would fall below the floor.
	base := time.Now()
	for i := 0; i < 12; i++ {
		h.Push(EarSample{Timestamp: base.Add(time.Duration(i) * time.Millisecond), EAR: 0.22})
	}

	if got := d.threshold(h); got != 0.20 {
		t.Errorf("threshold should clamp to floor 0.20, got %.4f", got)
	}
}

func TestNaturalBlinkShape(t *testing.T) {
	tests := []struct {
		name string
		vals []float64
		want bool
	}{
		{
			name: "classic blink",
			vals: []float64{0.32, 0.32, 0.10, 0.10, 0.32},
			want: true,
		},
		{
			name: "too short",
			vals: []float64{0.32, 0.10, 0.32},
			want: false,
		},
		{
			name: "monotonic decrease",
			vals: []float64{0.32, 0.30, 0.28, 0.26, 0.24},
			want: false,
		},
		{
			name: "flat series",
			vals: []float64{0.30, 0.30, 0.30, 0.30, 0.30},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := naturalBlinkShape(tt.vals); got != tt.want {
				t.Errorf("naturalBlinkShape(%v) = %t, want %t", tt.vals, got, tt.want)
			}
		})
	}
}
