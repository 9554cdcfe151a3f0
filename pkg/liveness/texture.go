package liveness

import (
	"image"
	"image/color"
	"math"
	"math/cmplx"
)

// textureSize is the canonical analysis size. Every face region is
// resized here first, which makes thresholds comparable across cameras
// and keeps the frequency-domain metrics on a power-of-two grid.
const textureSize = 128

// TextureThresholds holds the per-metric decision boundaries.
type TextureThresholds struct {
	DetailVariance   float64 // Laplacian variance, real skin above
	HighFreqEnergy   float64 // mean log spectrum outside the low band, real skin above
	ColorStd         float64 // adjusted channel diversity, real skin above
	GradientVariance float64 // edge direction variance, real skin above
	LBPUniformity    float64 // micro-pattern uniformity, spoofs above
	MoireEnergy      float64 // mid-band ring energy, spoofs above
	SpecularRatio    float64 // saturated highlight fraction, spoofs above
}

// DefaultTextureThresholds returns boundaries tuned on real faces
// versus printed photos and phone screens at the canonical size.
func DefaultTextureThresholds() TextureThresholds {
	return TextureThresholds{
		DetailVariance:   250,
		HighFreqEnergy:   18,
		ColorStd:         45,
		GradientVariance: 1200,
		LBPUniformity:    0.93,
		MoireEnergy:      15,
		SpecularRatio:    0.02,
	}
}

// TextureVerdict is one metric's measured value against its threshold.
type TextureVerdict struct {
	Metric    string
	Value     float64
	Threshold float64
	Passed    bool
}

// TextureReport aggregates all metric verdicts under a quorum rule.
type TextureReport struct {
	Verdicts  []TextureVerdict
	PassCount int
	Quorum    int
	Passed    bool
}

// TextureAnalyzer is a stateless, pure function of its input image:
// analyzing the same frame twice yields identical reports.
type TextureAnalyzer struct {
	thresholds TextureThresholds
	quorum     int
}

func NewTextureAnalyzer(th TextureThresholds, quorum int) *TextureAnalyzer {
	return &TextureAnalyzer{thresholds: th, quorum: quorum}
}

// Analyze runs all seven metrics over the face region and fuses them.
// No single metric can decide the outcome either way.
func (a *TextureAnalyzer) Analyze(region image.Image) TextureReport {
	resized := resizeRGBA(region, textureSize, textureSize)
	gray := grayImage(resized)
	th := a.thresholds

	verdicts := []TextureVerdict{
		passAbove("detail_variance", detailVariance(gray), th.DetailVariance),
		passAbove("high_freq_energy", highFreqEnergy(gray), th.HighFreqEnergy),
		passAbove("color_std", colorDiversity(resized), th.ColorStd),
		passAbove("gradient_variance", gradientVariance(gray), th.GradientVariance),
		passBelow("lbp_uniformity", lbpUniformity(gray), th.LBPUniformity),
		passBelow("moire_energy", moireEnergy(gray), th.MoireEnergy),
		passBelow("specular_ratio", specularRatio(resized), specularThreshold(resized, th.SpecularRatio)),
	}
	return buildReport(verdicts, a.quorum)
}

func buildReport(verdicts []TextureVerdict, quorum int) TextureReport {
	report := TextureReport{Verdicts: verdicts, Quorum: quorum}
	for _, v := range verdicts {
		if v.Passed {
			report.PassCount++
		}
	}
	report.Passed = report.PassCount >= quorum
	return report
}

func passAbove(name string, value, threshold float64) TextureVerdict {
	return TextureVerdict{Metric: name, Value: value, Threshold: threshold, Passed: value > threshold}
}

func passBelow(name string, value, threshold float64) TextureVerdict {
	return TextureVerdict{Metric: name, Value: value, Threshold: threshold, Passed: value < threshold}
}

// detailVariance measures fine detail via the variance of the
// Laplacian response. Print and screen reproduction smooths skin
// micro-texture and drags this down.
func detailVariance(gray *image.Gray) float64 {
	return variance(laplacian(gray))
}

// highFreqEnergy averages the log magnitude spectrum outside the
// central low-frequency band.
func highFreqEnergy(gray *image.Gray) float64 {
	m := grayToComplex(gray)
	fft2d(m, false)
	n := len(m)
	r := n / 4
	r2 := r * r

	var sum float64
	var count int
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if freqRadius2(x, y, n) <= r2 {
				continue
			}
			mag := cmplx.Abs(m[y][x])
			sum += 20 * math.Log(mag+1)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// colorDiversity measures per-channel spread penalized by inter-channel
// correlation. Printed media compresses the gamut and couples the
// channels together.
func colorDiversity(img *image.RGBA) float64 {
	n := textureSize * textureSize
	r := make([]float64, 0, n)
	g := make([]float64, 0, n)
	b := make([]float64, 0, n)
	for y := 0; y < textureSize; y++ {
		for x := 0; x < textureSize; x++ {
			c := img.RGBAAt(x, y)
			r = append(r, float64(c.R))
			g = append(g, float64(c.G))
			b = append(b, float64(c.B))
		}
	}
	avgStd := (stddev(r) + stddev(g) + stddev(b)) / 3
	avgCorr := (math.Abs(pearson(r, g)) + math.Abs(pearson(r, b)) + math.Abs(pearson(g, b))) / 3
	return avgStd - 10*avgCorr
}

// gradientVariance measures the spread of Sobel edge directions in
// degrees. Real faces scatter edges in every direction; flat
// reproductions concentrate them.
func gradientVariance(gray *image.Gray) float64 {
	gx, gy := sobel(gray)
	dirs := make([]float64, len(gx))
	for i := range gx {
		dirs[i] = math.Atan2(gy[i], gx[i]) * 180 / math.Pi
	}
	return variance(dirs)
}

// lbpUniformity builds an 8-neighbour local binary pattern histogram
// and scores how uniform it is. Overly uniform micro-patterns point at
// halftone printing or pixel grids.
func lbpUniformity(gray *image.Gray) float64 {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	if w < 3 || h < 3 {
		return 1
	}
	var hist [256]float64
	offsets := [8][2]int{
		{-1, -1}, {0, -1}, {1, -1},
		{1, 0}, {1, 1}, {0, 1},
		{-1, 1}, {-1, 0},
	}
	total := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			center := gray.GrayAt(x, y).Y
			var code uint8
			for i, off := range offsets {
				if gray.GrayAt(x+off[0], y+off[1]).Y >= center {
					code |= 1 << uint(i)
				}
			}
			hist[code]++
			total++
		}
	}
	norm := make([]float64, 256)
	for i := range hist {
		norm[i] = hist[i] / float64(total)
	}
	return 1 - stddev(norm)
}

// moireEnergy isolates the mid-band frequency ring where screen and
// print interference patterns concentrate, reconstructs from only that
// band, and measures the residual energy.
func moireEnergy(gray *image.Gray) float64 {
	m := grayToComplex(gray)
	fft2d(m, false)
	n := len(m)
	outer := n / 4
	inner := outer / 2
	in2, out2 := inner*inner, outer*outer

	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			r2 := freqRadius2(x, y, n)
			if r2 < in2 || r2 > out2 {
				m[y][x] = 0
			}
		}
	}
	fft2d(m, true)

	mags := make([]float64, 0, n*n)
	maxMag := 0.0
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			mag := cmplx.Abs(m[y][x])
			mags = append(mags, mag)
			if mag > maxMag {
				maxMag = mag
			}
		}
	}
	if maxMag < 1e-9 {
		return 0
	}
	for i := range mags {
		mags[i] = mags[i] / maxMag * 255
	}
	return mean(mags)
}

// specularRatio returns the fraction of near-saturated pixels in the
// brightness channel. Glossy paper and screens throw back hard
// highlights that real skin does not.
func specularRatio(img *image.RGBA) float64 {
	bright := 0
	for y := 0; y < textureSize; y++ {
		for x := 0; x < textureSize; x++ {
			if brightnessValue(img.RGBAAt(x, y)) > 240 {
				bright++
			}
		}
	}
	return float64(bright) / float64(textureSize*textureSize)
}

// specularThreshold tightens the highlight threshold in low-entropy
// lighting, where a screen's backlight stands out even more.
func specularThreshold(img *image.RGBA, base float64) float64 {
	vals := make([]float64, 0, textureSize*textureSize)
	for y := 0; y < textureSize; y++ {
		for x := 0; x < textureSize; x++ {
			vals = append(vals, float64(brightnessValue(img.RGBAAt(x, y))))
		}
	}
	if entropyBits(histogram(vals, 64, 256)) < 3.0 {
		return base * 0.8
	}
	return base
}

func brightnessValue(c color.RGBA) uint8 {
	v := c.R
	if c.G > v {
		v = c.G
	}
	if c.B > v {
		v = c.B
	}
	return v
}
