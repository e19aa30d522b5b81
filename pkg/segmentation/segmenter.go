// Package segmentation produces bone masks from radiographs.
//
// The measurement pipeline treats the segmentation model as an injected
// capability: anything that turns an image into a mask satisfies Segmenter.
// Two implementations ship here. OtsuSegmenter is a classical threshold
// segmenter used when no model output is available, and SidecarSegmenter
// reads masks exported next to the images by an external model.
package segmentation

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/stat"

	"pesplanus/pkg/filter"
	"pesplanus/pkg/imaging"
	"pesplanus/pkg/mask"
)

// ErrNoMask is returned when no mask is available for an image.
var ErrNoMask = errors.New("no segmentation mask available")

// Segmenter turns an image into a bone mask of the same size.
type Segmenter interface {
	Segment(img image.Image) (*mask.Mask, error)
}

// FileSegmenter is a Segmenter that can also use the image's file path, for
// example to find a precomputed mask.
type FileSegmenter interface {
	Segmenter
	SegmentFile(path string, img image.Image) (*mask.Mask, error)
}

// SegmenterFunc adapts a function to the Segmenter interface.
type SegmenterFunc func(img image.Image) (*mask.Mask, error)

// Segment calls f(img).
func (f SegmenterFunc) Segment(img image.Image) (*mask.Mask, error) {
	return f(img)
}

// OtsuSegmenter thresholds the image at the Otsu level, cleans the result
// with a morphological opening and keeps the largest region.
type OtsuSegmenter struct {
	// Invert segments dark structures instead of bright ones.
	Invert bool

	// BlurSigma smooths the image with a Gaussian before thresholding;
	// 0 disables it.
	BlurSigma float64

	// OpenKernel is the opening kernel size; below 2 disables it.
	OpenKernel int
}

// Segment implements Segmenter.
func (o OtsuSegmenter) Segment(img image.Image) (*mask.Mask, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrNoMask)
	}
	gray := imaging.ToGray(img)
	if o.Invert {
		gray = imaging.Invert(gray)
	}
	if o.BlurSigma > 0 {
		gray = filter.GaussianBlur(gray, o.BlurSigma)
	}

	m := mask.FromImage(gray, OtsuThreshold(gray))
	if o.OpenKernel > 1 {
		m = m.Open(o.OpenKernel)
	}
	if m.IsEmpty() {
		return nil, fmt.Errorf("%w: threshold left no foreground", ErrNoMask)
	}
	return m.Largest(), nil
}

// OtsuThreshold returns the gray level that maximises the between-class
// variance of the image histogram. Pixels strictly above it form the
// foreground class.
func OtsuThreshold(gray *image.Gray) uint8 {
	levels := make([]float64, 256)
	hist := make([]float64, 256)
	for i := range levels {
		levels[i] = float64(i)
	}
	b := gray.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			hist[gray.Pix[gray.PixOffset(x, y)]]++
		}
	}

	total := float64(b.Dx() * b.Dy())
	if total == 0 {
		return 0
	}
	mean := stat.Mean(levels, hist)

	var best uint8
	bestVar := -1.0
	var w0, sum0 float64
	for t := 0; t < 255; t++ {
		w0 += hist[t]
		sum0 += float64(t) * hist[t]
		w1 := total - w0
		if w0 == 0 || w1 == 0 {
			continue
		}
		mu0 := sum0 / w0
		mu1 := (mean*total - sum0) / w1
		between := w0 * w1 * (mu0 - mu1) * (mu0 - mu1)
		if between > bestVar {
			bestVar, best = between, uint8(t)
		}
	}
	return best
}

// SidecarSegmenter loads masks stored next to their images as
// <name><Suffix>.png, for example foot_01_mask.png for foot_01.dcm. When no
// sidecar exists it defers to Fallback.
type SidecarSegmenter struct {
	// Suffix is appended to the image base name; defaults to "_mask".
	Suffix string

	// Threshold separates foreground from background in the mask image.
	Threshold uint8

	// Fallback segments images without a sidecar. Nil makes a missing
	// sidecar an error.
	Fallback Segmenter
}

// MaskPath returns the sidecar path for an image path.
func (s SidecarSegmenter) MaskPath(path string) string {
	suffix := s.Suffix
	if suffix == "" {
		suffix = "_mask"
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + suffix + ".png"
}

// IsMask reports whether path is itself a sidecar mask.
func (s SidecarSegmenter) IsMask(path string) bool {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	suffix := s.Suffix
	if suffix == "" {
		suffix = "_mask"
	}
	return strings.HasSuffix(base, suffix)
}

// Segment implements Segmenter by delegating to Fallback; without a path no
// sidecar can be found.
func (s SidecarSegmenter) Segment(img image.Image) (*mask.Mask, error) {
	if s.Fallback == nil {
		return nil, ErrNoMask
	}
	return s.Fallback.Segment(img)
}

// SegmentFile implements FileSegmenter.
func (s SidecarSegmenter) SegmentFile(path string, img image.Image) (*mask.Mask, error) {
	maskPath := s.MaskPath(path)
	if _, err := os.Stat(maskPath); err != nil {
		if os.IsNotExist(err) {
			if s.Fallback == nil {
				return nil, fmt.Errorf("%w: %s not found", ErrNoMask, filepath.Base(maskPath))
			}
			return s.Fallback.Segment(img)
		}
		return nil, err
	}

	gray, _, err := imaging.Load(maskPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load mask: %w", err)
	}
	if img != nil {
		if ib := img.Bounds(); ib.Dx() != gray.Bounds().Dx() || ib.Dy() != gray.Bounds().Dy() {
			return nil, fmt.Errorf("mask %s is %dx%d, image is %dx%d", filepath.Base(maskPath),
				gray.Bounds().Dx(), gray.Bounds().Dy(), ib.Dx(), ib.Dy())
		}
	}
	return mask.FromImage(gray, s.Threshold), nil
}
