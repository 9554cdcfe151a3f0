package liveness

import (
	"image"
	"math/rand"
	"testing"
)

// createChallengeWithDirection retries seeds until the random pick
// lands on the wanted direction, so tests stay deterministic without
// reaching into the struct.
func createChallengeWithDirection(t *testing.T, want Direction) *Challenge {
	t.Helper()
	for seed := int64(0); seed < 64; seed++ {
		c := NewChallenge(rand.New(rand.NewSource(seed)))
		if c.Direction() == want {
			return c
		}
	}
	t.Fatalf("no seed produced direction %v", want)
	return nil
}

func observeRun(c *Challenge, pts []image.Point) {
	for _, p := range pts {
		c.Observe(p)
	}
}

func repeatPoint(p image.Point, n int) []image.Point {
	pts := make([]image.Point, n)
	for i := range pts {
		pts[i] = p
	}
	return pts
}

func TestChallengeCompletesOnRequestedMovement(t *testing.T) {
	tests := []struct {
		name      string
		direction Direction
		moved     image.Point
	}{
		{"right", DirRight, image.Point{160, 100}},
		{"left", DirLeft, image.Point{40, 100}},
		{"down", DirDown, image.Point{100, 160}},
		{"up", DirUp, image.Point{100, 40}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := createChallengeWithDirection(t, tt.direction)
			observeRun(c, repeatPoint(image.Point{100, 100}, challengeWindow))
			observeRun(c, repeatPoint(tt.moved, challengeWindow))

			if !c.Completed() {
				t.Errorf("movement to %v should complete a %s challenge", tt.moved, tt.direction)
			}
		})
	}
}

func TestChallengeIgnoresWrongDirection(t *testing.T) {
	c := createChallengeWithDirection(t, DirRight)

	observeRun(c, repeatPoint(image.Point{100, 100}, challengeWindow))
	// Moving left when right was requested.
	observeRun(c, repeatPoint(image.Point{40, 100}, challengeWindow))

	if c.Completed() {
		t.Error("opposite movement should not complete the challenge")
	}
}

func TestChallengeIgnoresJitter(t *testing.T) {
	c := createChallengeWithDirection(t, DirRight)

	observeRun(c, repeatPoint(image.Point{100, 100}, challengeWindow))
	// Landmark jitter of a few pixels, no net displacement.
	observeRun(c, []image.Point{
		{102, 99}, {98, 101}, {101, 100}, {99, 102},
		{103, 98}, {97, 100}, {100, 101},
	})

	if c.Completed() {
		t.Error("jitter without net displacement should not complete the challenge")
	}
}

func TestChallengeStaysCompleted(t *testing.T) {
	c := createChallengeWithDirection(t, DirRight)
	observeRun(c, repeatPoint(image.Point{100, 100}, challengeWindow))
	observeRun(c, repeatPoint(image.Point{200, 100}, challengeWindow))
	if !c.Completed() {
		t.Fatal("expected challenge completed")
	}

	// Moving back does not un-complete it.
	observeRun(c, repeatPoint(image.Point{100, 100}, challengeWindow*2))
	if !c.Completed() {
		t.Error("a completed challenge must stay completed")
	}
}

func TestDirectionString(t *testing.T) {
	tests := []struct {
		d    Direction
		want string
	}{
		{DirLeft, "left"},
		{DirRight, "right"},
		{DirUp, "up"},
		{DirDown, "down"},
		{Direction(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("Direction(%d).String() = %q, want %q", tt.d, got, tt.want)
		}
	}
}
