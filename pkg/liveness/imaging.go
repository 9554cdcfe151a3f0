package liveness

import (
	"image"
	"image/color"
	"math"
	"math/cmplx"
)

// Pixel-level helpers shared by the motion, texture and focus stages.
// Everything operates on plain image types so the analysis core stays
// independent of the capture backend.

// grayImage converts any image to 8-bit grayscale using the usual luma
// weights.
func grayImage(img image.Image) *image.Gray {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			v := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
			dst.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return dst
}

// resizeRGBA scales an image to w x h using bilinear interpolation.
func resizeRGBA(img image.Image, w, h int) *image.RGBA {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if srcW == 0 || srcH == 0 {
		return dst
	}
	xRatio := float64(srcW) / float64(w)
	yRatio := float64(srcH) / float64(h)
	for y := 0; y < h; y++ {
		sy := (float64(y) + 0.5) * yRatio
		y0 := int(math.Floor(sy - 0.5))
		fy := sy - 0.5 - float64(y0)
		if y0 < 0 {
			y0, fy = 0, 0
		}
		y1 := y0 + 1
		if y1 >= srcH {
			y1, fy = srcH-1, 0
			y0 = y1
		}
		for x := 0; x < w; x++ {
			sx := (float64(x) + 0.5) * xRatio
			x0 := int(math.Floor(sx - 0.5))
			fx := sx - 0.5 - float64(x0)
			if x0 < 0 {
				x0, fx = 0, 0
			}
			x1 := x0 + 1
			if x1 >= srcW {
				x1, fx = srcW-1, 0
				x0 = x1
			}

			c00 := rgbaAt(img, b.Min.X+x0, b.Min.Y+y0)
			c10 := rgbaAt(img, b.Min.X+x1, b.Min.Y+y0)
			c01 := rgbaAt(img, b.Min.X+x0, b.Min.Y+y1)
			c11 := rgbaAt(img, b.Min.X+x1, b.Min.Y+y1)

			var out [4]uint8
			for i := 0; i < 4; i++ {
				top := float64(c00[i])*(1-fx) + float64(c10[i])*fx
				bot := float64(c01[i])*(1-fx) + float64(c11[i])*fx
				out[i] = uint8(top*(1-fy) + bot*fy + 0.5)
			}
			dst.SetRGBA(x, y, color.RGBA{R: out[0], G: out[1], B: out[2], A: out[3]})
		}
	}
	return dst
}

func rgbaAt(img image.Image, x, y int) [4]uint8 {
	r, g, b, a := img.At(x, y).RGBA()
	return [4]uint8{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
}

// cropRegion extracts a padded face region, clamped to the image bounds.
func cropRegion(img image.Image, box image.Rectangle, margin int) *image.RGBA {
	b := img.Bounds()
	r := image.Rect(box.Min.X-margin, box.Min.Y-margin, box.Max.X+margin, box.Max.Y+margin)
	r = r.Intersect(b)
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			dst.Set(x, y, img.At(r.Min.X+x, r.Min.Y+y))
		}
	}
	return dst
}

// downsampleGray produces a grayscale image reduced by the given integer
// factor via point sampling. Used by the motion gate where speed matters
// more than fidelity.
func downsampleGray(img image.Image, factor int) *image.Gray {
	if factor < 1 {
		factor = 1
	}
	b := img.Bounds()
	w, h := b.Dx()/factor, b.Dy()/factor
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x*factor, b.Min.Y+y*factor).RGBA()
			v := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
			dst.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return dst
}

// laplacian applies the 4-neighbour Laplacian kernel to the interior
// pixels and returns the responses.
func laplacian(g *image.Gray) []float64 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w < 3 || h < 3 {
		return nil
	}
	out := make([]float64, 0, (w-2)*(h-2))
	at := func(x, y int) float64 { return float64(g.GrayAt(x, y).Y) }
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			v := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			out = append(out, v)
		}
	}
	return out
}

// sobel computes 3x3 Sobel responses for the interior pixels.
func sobel(g *image.Gray) (gx, gy []float64) {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w < 3 || h < 3 {
		return nil, nil
	}
	at := func(x, y int) float64 { return float64(g.GrayAt(x, y).Y) }
	n := (w - 2) * (h - 2)
	gx = make([]float64, 0, n)
	gy = make([]float64, 0, n)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			sx := -at(x-1, y-1) + at(x+1, y-1) +
				-2*at(x-1, y) + 2*at(x+1, y) +
				-at(x-1, y+1) + at(x+1, y+1)
			sy := -at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1) +
				at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)
			gx = append(gx, sx)
			gy = append(gy, sy)
		}
	}
	return gx, gy
}

// mean returns the arithmetic mean, or 0 for empty input.
func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// variance returns the population variance.
func variance(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := mean(vals)
	var sum float64
	for _, v := range vals {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(vals))
}

func stddev(vals []float64) float64 {
	return math.Sqrt(variance(vals))
}

// percentile returns the p-th percentile (0..100) by linear
// interpolation between order statistics.
func percentile(vals []float64, p float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	insertionSort(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	frac := rank - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}

func insertionSort(vals []float64) {
	for i := 1; i < len(vals); i++ {
		for j := i; j > 0 && vals[j] < vals[j-1]; j-- {
			vals[j], vals[j-1] = vals[j-1], vals[j]
		}
	}
}

// pearson returns the correlation coefficient of two equal-length
// series. Degenerate (constant) series are treated as perfectly
// correlated, which is the conservative reading for flat spoof media.
func pearson(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	ma, mb := mean(a), mean(b)
	var cov, va, vb float64
	for i := range a {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va < 1e-9 || vb < 1e-9 {
		return 1
	}
	return cov / math.Sqrt(va*vb)
}

// histogram bins values in [0, max) into the given number of bins,
// normalized to sum to 1.
func histogram(vals []float64, bins int, max float64) []float64 {
	hist := make([]float64, bins)
	if len(vals) == 0 || max <= 0 {
		return hist
	}
	for _, v := range vals {
		idx := int(v / max * float64(bins))
		if idx < 0 {
			idx = 0
		}
		if idx >= bins {
			idx = bins - 1
		}
		hist[idx]++
	}
	total := float64(len(vals))
	for i := range hist {
		hist[i] /= total
	}
	return hist
}

// entropyBits returns the Shannon entropy of a normalized histogram.
func entropyBits(hist []float64) float64 {
	var e float64
	for _, p := range hist {
		if p > 0 {
			e -= p * math.Log2(p)
		}
	}
	return e
}

// fft performs an in-place radix-2 FFT. Length must be a power of two.
func fft(a []complex128, invert bool) {
	n := len(a)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j |= bit
		if i < j {
			a[i], a[j] = a[j], a[i]
		}
	}
	for length := 2; length <= n; length <<= 1 {
		ang := -2 * math.Pi / float64(length)
		if invert {
			ang = -ang
		}
		wl := cmplx.Rect(1, ang)
		for start := 0; start < n; start += length {
			w := complex(1, 0)
			half := length / 2
			for k := 0; k < half; k++ {
				u := a[start+k]
				v := a[start+k+half] * w
				a[start+k] = u + v
				a[start+k+half] = u - v
				w *= wl
			}
		}
	}
	if invert {
		inv := complex(1/float64(n), 0)
		for i := range a {
			a[i] *= inv
		}
	}
}

// fft2d transforms a square power-of-two matrix in place, rows then
// columns.
func fft2d(m [][]complex128, invert bool) {
	n := len(m)
	for _, row := range m {
		fft(row, invert)
	}
	col := make([]complex128, n)
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			col[y] = m[y][x]
		}
		fft(col, invert)
		for y := 0; y < n; y++ {
			m[y][x] = col[y]
		}
	}
}

// grayToComplex lifts a grayscale image into a complex matrix for the
// frequency-domain metrics. The image must be square with power-of-two
// sides.
func grayToComplex(g *image.Gray) [][]complex128 {
	n := g.Rect.Dy()
	m := make([][]complex128, n)
	for y := 0; y < n; y++ {
		row := make([]complex128, n)
		for x := 0; x < n; x++ {
			row[x] = complex(float64(g.GrayAt(x, y).Y), 0)
		}
		m[y] = row
	}
	return m
}

// freqRadius2 returns the squared distance of the (x, y) frequency bin
// from DC, accounting for wrap-around, so no explicit fftshift is
// needed.
func freqRadius2(x, y, n int) int {
	fx, fy := x, y
	if fx >= n/2 {
		fx -= n
	}
	if fy >= n/2 {
		fy -= n
	}
	return fx*fx + fy*fy
}
