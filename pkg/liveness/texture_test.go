package liveness

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"reflect"
	"testing"
)

// createNoiseRGBA returns a seeded random color image.
func createNoiseRGBA(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	return img
}

func createFlatRGBA(w, h int, value uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: value, G: value, B: value, A: 255})
		}
	}
	return img
}

func TestTextureAnalyzerIdempotent(t *testing.T) {
	analyzer := NewTextureAnalyzer(DefaultTextureThresholds(), 5)
	img := createNoiseRGBA(160, 160, 42)

	first := analyzer.Analyze(img)
	second := analyzer.Analyze(img)

	if !reflect.DeepEqual(first, second) {
		t.Error("analyzing the same frame twice must produce identical reports")
	}
}

func TestTextureAnalyzerReportShape(t *testing.T) {
	analyzer := NewTextureAnalyzer(DefaultTextureThresholds(), 5)
	report := analyzer.Analyze(createNoiseRGBA(200, 200, 7))

	if len(report.Verdicts) != 7 {
		t.Fatalf("expected 7 metric verdicts, got %d", len(report.Verdicts))
	}
	if report.Quorum != 5 {
		t.Errorf("expected quorum 5, got %d", report.Quorum)
	}

	passes := 0
	for _, v := range report.Verdicts {
		if v.Metric == "" {
			t.Error("verdict missing metric name")
		}
		if v.Passed {
			passes++
		}
	}
	if passes != report.PassCount {
		t.Errorf("PassCount %d disagrees with verdicts (%d passing)", report.PassCount, passes)
	}
}

func TestTextureAnalyzerRejectsFlatImage(t *testing.T) {
	analyzer := NewTextureAnalyzer(DefaultTextureThresholds(), 5)
	report := analyzer.Analyze(createFlatRGBA(160, 160, 128))

	if report.Passed {
		t.Errorf("a featureless flat image must fail texture analysis (passed %d/7)", report.PassCount)
	}
}

// createMatteNoiseRGBA returns seeded random color noise with every
// channel held below the specular highlight band.
func createMatteNoiseRGBA(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(rng.Intn(200)),
				G: uint8(rng.Intn(200)),
				B: uint8(rng.Intn(200)),
				A: 255,
			})
		}
	}
	return img
}

// paintHighlights copies the image and scatters saturated white pixels
// over roughly the given fraction of its area.
func paintHighlights(src *image.RGBA, fraction float64, seed int64) *image.RGBA {
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	rng := rand.New(rand.NewSource(seed))
	b := src.Rect
	n := int(float64(b.Dx()*b.Dy()) * fraction)
	for i := 0; i < n; i++ {
		x := b.Min.X + rng.Intn(b.Dx())
		y := b.Min.Y + rng.Intn(b.Dy())
		dst.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	}
	return dst
}

func TestTextureHighlightsFlipOnlySpecularMetric(t *testing.T) {
	// Scattered saturated highlights on an otherwise identical image
	// must flip the specular verdict and nothing else: each metric
	// stands on its own measurement.
	analyzer := NewTextureAnalyzer(DefaultTextureThresholds(), 5)
	base := createMatteNoiseRGBA(textureSize, textureSize, 21)
	glossy := paintHighlights(base, 0.06, 22)

	baseReport := analyzer.Analyze(base)
	glossyReport := analyzer.Analyze(glossy)

	if len(baseReport.Verdicts) != len(glossyReport.Verdicts) {
		t.Fatalf("verdict count mismatch: %d vs %d", len(baseReport.Verdicts), len(glossyReport.Verdicts))
	}
	for i, bv := range baseReport.Verdicts {
		gv := glossyReport.Verdicts[i]
		if bv.Metric != gv.Metric {
			t.Fatalf("verdict order mismatch at %d: %q vs %q", i, bv.Metric, gv.Metric)
		}
		if bv.Metric == "specular_ratio" {
			if !bv.Passed {
				t.Errorf("matte image should pass specular_ratio, measured %.4f against %.4f",
					bv.Value, bv.Threshold)
			}
			if gv.Passed {
				t.Errorf("highlighted image should fail specular_ratio, measured %.4f against %.4f",
					gv.Value, gv.Threshold)
			}
			continue
		}
		if bv.Passed != gv.Passed {
			t.Errorf("metric %q changed verdict with the highlights: %t vs %t",
				bv.Metric, bv.Passed, gv.Passed)
		}
	}
	if glossyReport.PassCount != baseReport.PassCount-1 {
		t.Errorf("exactly one metric should flip: pass counts %d vs %d",
			baseReport.PassCount, glossyReport.PassCount)
	}
}

func TestBuildReportQuorum(t *testing.T) {
	createVerdicts := func(passing int) []TextureVerdict {
		verdicts := make([]TextureVerdict, 7)
		for i := range verdicts {
			verdicts[i] = TextureVerdict{
				Metric: fmt.Sprintf("metric_%d", i),
				Passed: i < passing,
			}
		}
		return verdicts
	}

	tests := []struct {
		name    string
		passing int
		quorum  int
		want    bool
	}{
		{"exactly at quorum", 5, 5, true},
		{"one below quorum", 4, 5, false},
		{"all passing", 7, 5, true},
		{"none passing", 0, 5, false},
		{"single metric cannot pass alone", 1, 5, false},
		{"single failure cannot veto", 6, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := buildReport(createVerdicts(tt.passing), tt.quorum)
			if report.Passed != tt.want {
				t.Errorf("passing=%d quorum=%d: got %t, want %t", tt.passing, tt.quorum, report.Passed, tt.want)
			}
			if report.PassCount != tt.passing {
				t.Errorf("expected PassCount %d, got %d", tt.passing, report.PassCount)
			}
		})
	}
}

func TestDetailVarianceSeparatesTextures(t *testing.T) {
	noisy := detailVariance(grayImage(resizeRGBA(createNoiseRGBA(160, 160, 3), textureSize, textureSize)))
	flat := detailVariance(grayImage(resizeRGBA(createFlatRGBA(160, 160, 128), textureSize, textureSize)))

	if noisy <= flat {
		t.Errorf("noise should have higher detail variance than flat: noisy=%.1f flat=%.1f", noisy, flat)
	}
	if flat != 0 {
		t.Errorf("flat image detail variance should be 0, got %.4f", flat)
	}
}

func TestGradientVarianceFlatImage(t *testing.T) {
	flat := gradientVariance(grayImage(createFlatRGBA(textureSize, textureSize, 90)))
	if flat != 0 {
		t.Errorf("flat image has no edges, expected gradient variance 0, got %.4f", flat)
	}
}

func TestSpecularRatio(t *testing.T) {
	bright := specularRatio(createFlatRGBA(textureSize, textureSize, 255))
	if bright != 1 {
		t.Errorf("fully saturated image should have specular ratio 1, got %.4f", bright)
	}

	dark := specularRatio(createFlatRGBA(textureSize, textureSize, 100))
	if dark != 0 {
		t.Errorf("dark image should have specular ratio 0, got %.4f", dark)
	}
}

func TestSpecularThresholdTightensInLowEntropy(t *testing.T) {
	base := 0.02
	// A flat image has near-zero brightness entropy.
	got := specularThreshold(createFlatRGBA(textureSize, textureSize, 128), base)
	if got >= base {
		t.Errorf("low-entropy lighting should tighten the threshold, got %.4f", got)
	}

	// Noise has high brightness entropy and keeps the base threshold.
	got = specularThreshold(createNoiseRGBA(textureSize, textureSize, 9), base)
	if got != base {
		t.Errorf("high-entropy lighting should keep the base threshold, got %.4f", got)
	}
}

func BenchmarkTextureAnalyze(b *testing.B) {
	analyzer := NewTextureAnalyzer(DefaultTextureThresholds(), 5)
	img := createNoiseRGBA(320, 320, 11)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		analyzer.Analyze(img)
	}
}
