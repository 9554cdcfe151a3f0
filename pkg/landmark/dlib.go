package landmark

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/Kagami/go-face"

	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/logging"
)

// Indices into the dlib 68-point shape for the feature groups we carry.
const (
	leftEyeStart  = 36
	leftEyeEnd    = 42
	rightEyeStart = 42
	rightEyeEnd   = 48
	noseTipIndex  = 30
	shapeCount    = 68
)

// DlibProvider extracts face observations using dlib via go-face. It
// requires the 68-point shape predictor model; the 5-point model does
// not carry the eye contours the blink stage needs.
type DlibProvider struct {
	rec *face.Recognizer
}

// NewDlibProvider loads the dlib models from modelPath.
func NewDlibProvider(modelPath string) (*DlibProvider, error) {
	rec, err := face.NewRecognizer(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load dlib models: %w", err)
	}
	return &DlibProvider{rec: rec}, nil
}

// Detect returns the largest face in the image, or false when none is
// found or the shape topology is unusable.
func (p *DlibProvider) Detect(img image.Image, ts time.Time) (*FaceObservation, bool) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		logging.Component("landmark").WithError(err).Debug("frame encode failed")
		return nil, false
	}

	faces, err := p.rec.Recognize(buf.Bytes())
	if err != nil || len(faces) == 0 {
		return nil, false
	}

	// Primary face is the largest by area.
	best := faces[0]
	bestArea := best.Rectangle.Dx() * best.Rectangle.Dy()
	for _, f := range faces[1:] {
		if a := f.Rectangle.Dx() * f.Rectangle.Dy(); a > bestArea {
			best, bestArea = f, a
		}
	}

	if len(best.Shapes) < shapeCount {
		logging.Component("landmark").Debugf(
			"shape has %d points, need %d (is the 68-point predictor installed?)",
			len(best.Shapes), shapeCount)
		return nil, false
	}

	obs := NewFaceObservation(ts, best.Rectangle)
	obs.SetPoints(LeftEye, best.Shapes[leftEyeStart:leftEyeEnd])
	obs.SetPoints(RightEye, best.Shapes[rightEyeStart:rightEyeEnd])
	obs.SetPoints(NoseTip, best.Shapes[noseTipIndex:noseTipIndex+1])
	return obs, true
}

// Close releases the dlib recognizer.
func (p *DlibProvider) Close() {
	if p.rec != nil {
		p.rec.Close()
	}
}
