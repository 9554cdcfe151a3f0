package liveness

import (
	"image"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/landmark"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/logging"
)

// FocusStatus is the outcome of the focus-depth stage.
type FocusStatus int

const (
	// FocusNotEvaluated means the camera offers no focus control, so
	// the stage was skipped and contributes nothing to the decision.
	FocusNotEvaluated FocusStatus = iota
	FocusPassed
	FocusFailed
)

func (s FocusStatus) String() string {
	switch s {
	case FocusPassed:
		return "passed"
	case FocusFailed:
		return "failed"
	default:
		return "not-evaluated"
	}
}

// FocusController abstracts the camera's manual focus interface.
type FocusController interface {
	SupportsFocus() bool
	Focus() (float64, error)
	SetFocus(value float64) error
	AutoFocus() (bool, error)
	SetAutoFocus(enabled bool) error
}

// FocusReport carries the stage outcome plus the measurements behind
// it.
type FocusReport struct {
	Status         FocusStatus
	MinCorrelation float64
	ClarityRange   float64
	Settings       []float64
}

const (
	focusRegionSize      = 32
	focusCorrThreshold   = 0.7
	focusMinClarityRange = 100.0
	focusSettleDefault   = 300 * time.Millisecond
)

// FocusDepthAnalyzer sweeps the lens through near, mid and far focus
// and compares sharpness across facial regions at different depths. A
// real face defocuses unevenly as the plane moves; a flat photo or
// screen blurs uniformly, so its per-region clarity curves stay highly
// correlated and nearly flat.
type FocusDepthAnalyzer struct {
	settings []float64
	settle   time.Duration
	log      *logrus.Entry
}

func NewFocusDepthAnalyzer(settings []float64, settle time.Duration) *FocusDepthAnalyzer {
	if len(settings) == 0 {
		settings = []float64{0, 128, 255}
	}
	if settle <= 0 {
		settle = focusSettleDefault
	}
	return &FocusDepthAnalyzer{
		settings: settings,
		settle:   settle,
		log:      logging.Component("focus-depth"),
	}
}

// Analyze runs the sweep. The camera's original focus mode and value
// are restored on every return path. Cameras without focus control
// yield a NotEvaluated report and no error.
func (a *FocusDepthAnalyzer) Analyze(source FrameSource, ctl FocusController, obs *landmark.FaceObservation) (FocusReport, error) {
	report := FocusReport{Status: FocusNotEvaluated}
	if ctl == nil || !ctl.SupportsFocus() {
		a.log.Debug("Focus control unsupported, skipping depth analysis")
		return report, nil
	}
	original, err := ctl.Focus()
	if err != nil {
		a.log.WithError(err).Debug("Cannot read focus, skipping depth analysis")
		return report, nil
	}
	autofocus, err := ctl.AutoFocus()
	if err != nil {
		a.log.WithError(err).Debug("Cannot read focus mode, skipping depth analysis")
		return report, nil
	}
	if err := ctl.SetAutoFocus(false); err != nil {
		return report, nil
	}
	defer func() {
		ctl.SetFocus(original)
		ctl.SetAutoFocus(autofocus)
	}()

	eye, nose, back, ok := focusProbePoints(obs)
	if !ok {
		return report, nil
	}

	eyeCurve := make([]float64, 0, len(a.settings))
	noseCurve := make([]float64, 0, len(a.settings))
	backCurve := make([]float64, 0, len(a.settings))
	for _, setting := range a.settings {
		if err := ctl.SetFocus(setting); err != nil {
			return report, nil
		}
		time.Sleep(a.settle)
		img, _, err := source.Capture()
		if err != nil {
			return report, err
		}
		gray := grayImage(img)
		eyeCurve = append(eyeCurve, regionClarity(gray, eye))
		noseCurve = append(noseCurve, regionClarity(gray, nose))
		backCurve = append(backCurve, regionClarity(gray, back))
	}

	report.Settings = a.settings
	report.MinCorrelation = minOf(
		pearson(eyeCurve, noseCurve),
		pearson(eyeCurve, backCurve),
		pearson(noseCurve, backCurve),
	)
	report.ClarityRange = maxOf(
		curveRange(eyeCurve),
		curveRange(noseCurve),
		curveRange(backCurve),
	)

	if report.MinCorrelation < focusCorrThreshold || report.ClarityRange > focusMinClarityRange {
		report.Status = FocusPassed
	} else {
		report.Status = FocusFailed
	}
	a.log.WithFields(logging.Fields{
		"min_correlation": report.MinCorrelation,
		"clarity_range":   report.ClarityRange,
		"status":          report.Status.String(),
	}).Debug("Focus depth sweep complete")
	return report, nil
}

// focusProbePoints picks an eye centre, the nose tip and a background
// point outside the face box.
func focusProbePoints(obs *landmark.FaceObservation) (eye, nose, back image.Point, ok bool) {
	eyePts := obs.Points(landmark.LeftEye)
	if len(eyePts) == 0 {
		return eye, nose, back, false
	}
	ex, ey := meanPoint(eyePts)
	eye = image.Point{X: int(ex), Y: int(ey)}

	nose, ok = obs.Nose()
	if !ok {
		return eye, nose, back, false
	}

	back = image.Point{X: obs.BoundingBox.Min.X / 2, Y: obs.BoundingBox.Min.Y / 2}
	return eye, nose, back, true
}

// regionClarity measures local sharpness as Laplacian variance in a
// square window around the point, clamped to the image.
func regionClarity(gray *image.Gray, center image.Point) float64 {
	half := focusRegionSize / 2
	r := image.Rect(center.X-half, center.Y-half, center.X+half, center.Y+half)
	r = r.Intersect(gray.Rect)
	if r.Dx() < 3 || r.Dy() < 3 {
		return 0
	}
	sub := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			sub.SetGray(x, y, gray.GrayAt(r.Min.X+x, r.Min.Y+y))
		}
	}
	return variance(laplacian(sub))
}

func curveRange(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	lo, hi := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi - lo
}

func minOf(vals ...float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vals ...float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
