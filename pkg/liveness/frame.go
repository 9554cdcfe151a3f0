package liveness

import (
	"image"
	"image/draw"
	"time"
)

// FrameSource delivers frames to a session. The camera device satisfies
// it structurally; tests substitute scripted sources.
type FrameSource interface {
	Capture() (image.Image, time.Time, error)
}

// Frame is a captured image retained past its processing step, such as
// the best face returned with a live verdict.
type Frame struct {
	Image     image.Image
	Timestamp time.Time
}

// Clone returns a deep copy of the frame's pixels.
func (f *Frame) Clone() *Frame {
	if f == nil || f.Image == nil {
		return nil
	}
	b := f.Image.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, f.Image, b.Min, draw.Src)
	return &Frame{Image: dst, Timestamp: f.Timestamp}
}
