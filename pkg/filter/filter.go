// Package filter provides the noise filters applied to radiographs before
// thresholding: a separable Gaussian blur and a median filter.
package filter

import (
	"image"
	"math"
)

// GaussianKernel returns a normalised 1D Gaussian kernel of radius
// ceil(3*sigma). A non-positive sigma yields the identity kernel.
func GaussianKernel(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// GaussianBlur smooths img with a Gaussian of the given sigma, applied as a
// horizontal then a vertical pass with clamped borders. The result has its
// origin at (0, 0); img is not modified.
func GaussianBlur(img *image.Gray, sigma float64) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}

	kernel := GaussianKernel(sigma)
	radius := len(kernel) / 2

	at := func(x, y int) float64 {
		return float64(img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)])
	}

	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k, kv := range kernel {
				acc += kv * at(clamp(x+k-radius, 0, w-1), y)
			}
			tmp[y*w+x] = acc
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k, kv := range kernel {
				acc += kv * tmp[clamp(y+k-radius, 0, h-1)*w+x]
			}
			out.Pix[y*out.Stride+x] = uint8(math.Max(0, math.Min(255, math.Round(acc))))
		}
	}
	return out
}

// Median replaces each pixel with the median of its (2*radius+1)^2
// neighbourhood, clipped at the image border. For an even number of samples
// the lower median is taken. The result has its origin at (0, 0).
func Median(img *image.Gray, radius int) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if radius < 1 {
		for y := 0; y < h; y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+w], img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		return out
	}

	var hist [256]int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hist = [256]int{}
			n := 0
			for yy := max(0, y-radius); yy <= min(h-1, y+radius); yy++ {
				for xx := max(0, x-radius); xx <= min(w-1, x+radius); xx++ {
					hist[img.Pix[img.PixOffset(b.Min.X+xx, b.Min.Y+yy)]]++
					n++
				}
			}
			out.Pix[y*out.Stride+x] = histMedian(&hist, n)
		}
	}
	return out
}

// histMedian returns the lower median of n samples counted in hist
func histMedian(hist *[256]int, n int) uint8 {
	target := (n + 1) / 2
	seen := 0
	for v, c := range hist {
		seen += c
		if seen >= target {
			return uint8(v)
		}
	}
	return 255
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
