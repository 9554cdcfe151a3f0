package liveness

import (
	"image"
	"math/rand"
)

// Direction is a requested head movement.
type Direction int

const (
	DirLeft Direction = iota
	DirRight
	DirUp
	DirDown
	numDirections
)

func (d Direction) String() string {
	switch d {
	case DirLeft:
		return "left"
	case DirRight:
		return "right"
	case DirUp:
		return "up"
	case DirDown:
		return "down"
	default:
		return "unknown"
	}
}

const (
	challengeWindow    = 4
	challengeMinPixels = 15.0
)

// Challenge asks the subject to move their head in a randomly chosen
// direction and tracks the nose tip until the displacement along the
// requested axis is large enough. Comparing windowed means rather than
// single positions keeps landmark jitter from triggering completion.
type Challenge struct {
	direction Direction
	baseline  []image.Point
	recent    []image.Point
	completed bool
}

// NewChallenge picks a direction uniformly at random.
func NewChallenge(rng *rand.Rand) *Challenge {
	return &Challenge{
		direction: Direction(rng.Intn(int(numDirections))),
		baseline:  make([]image.Point, 0, challengeWindow),
		recent:    make([]image.Point, 0, challengeWindow),
	}
}

func (c *Challenge) Direction() Direction {
	return c.direction
}

// Observe records one nose position. The first few observations form
// the baseline; after that only a small window of recent positions is
// retained.
func (c *Challenge) Observe(p image.Point) {
	if c.completed {
		return
	}
	if len(c.baseline) < challengeWindow {
		c.baseline = append(c.baseline, p)
		return
	}
	c.recent = append(c.recent, p)
	if len(c.recent) > challengeWindow {
		c.recent = append(c.recent[:0], c.recent[len(c.recent)-challengeWindow:]...)
	}
	if len(c.recent) == challengeWindow {
		c.check()
	}
}

// Completed reports whether the requested movement has been performed.
// Once true it stays true.
func (c *Challenge) Completed() bool {
	return c.completed
}

func (c *Challenge) check() {
	bx, by := meanPoint(c.baseline)
	rx, ry := meanPoint(c.recent)
	dx := rx - bx
	dy := ry - by

	switch c.direction {
	case DirLeft:
		c.completed = dx < -challengeMinPixels
	case DirRight:
		c.completed = dx > challengeMinPixels
	case DirUp:
		c.completed = dy < -challengeMinPixels
	case DirDown:
		c.completed = dy > challengeMinPixels
	}
}

func meanPoint(pts []image.Point) (float64, float64) {
	var sx, sy float64
	for _, p := range pts {
		sx += float64(p.X)
		sy += float64(p.Y)
	}
	n := float64(len(pts))
	return sx / n, sy / n
}
