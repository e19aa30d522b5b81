package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrNoPixelData is returned for DICOM files without an image frame.
var ErrNoPixelData = errors.New("dicom file has no pixel data")

// Window is a DICOM display window: values outside
// [Center-Width/2, Center+Width/2] are clipped.
type Window struct {
	Center float64
	Width  float64
}

// Range returns the lower and upper bound of the window.
func (w Window) Range() (lo, hi float64) {
	return w.Center - w.Width/2, w.Center + w.Width/2
}

// Rescale maps stored values to output units (e.g. Hounsfield).
type Rescale struct {
	Slope     float64
	Intercept float64
}

// LoadDICOM reads the first frame of a DICOM file.
//
// The stored values are rescaled with RescaleSlope and RescaleIntercept,
// clipped to the first WindowCenter/WindowWidth pair when present (else to
// the data range), and stretched to 0-255. Native signed pixel data
// (PixelRepresentation 1) is sign extended from BitsStored bits.
func LoadDICOM(path string) (*image.Gray, Metadata, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("failed to parse dicom %s: %w", filepath.Base(path), err)
	}
	return decodeDataset(ds, filepath.Base(path))
}

func decodeDataset(ds dicom.Dataset, filename string) (*image.Gray, Metadata, error) {
	meta := Metadata{
		Filename:    filename,
		Format:      "dicom",
		PatientName: stringTag(ds, tag.PatientName),
		PatientID:   stringTag(ds, tag.PatientID),
		StudyDate:   stringTag(ds, tag.StudyDate),
		Modality:    stringTag(ds, tag.Modality),
		BodyPart:    stringTag(ds, tag.BodyPartExamined),
	}

	pixelElem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil || pixelElem.Value == nil {
		return nil, meta, ErrNoPixelData
	}
	info, ok := pixelElem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || info.IntentionallySkipped || len(info.Frames) == 0 || info.Frames[0] == nil {
		return nil, meta, ErrNoPixelData
	}

	rescale := Rescale{Slope: 1}
	if v, ok := floatTag(ds, tag.RescaleSlope); ok && v != 0 {
		rescale.Slope = v
	}
	if v, ok := floatTag(ds, tag.RescaleIntercept); ok {
		rescale.Intercept = v
	}

	var window *Window
	center, okC := floatTag(ds, tag.WindowCenter)
	width, okW := floatTag(ds, tag.WindowWidth)
	if okC && okW && width > 0 {
		window = &Window{Center: center, Width: width}
	}

	var gray *image.Gray
	f := info.Frames[0]
	if native, err := f.GetNativeFrame(); err == nil {
		signed := intTag(ds, tag.PixelRepresentation) == 1
		bits := intTag(ds, tag.BitsStored)
		if bits <= 0 {
			bits = native.BitsPerSample
		}
		samples, err := nativeSamples(native, bits, signed)
		if err != nil {
			return nil, meta, err
		}
		gray = NormalizeSamples(samples, native.Cols, native.Rows, rescale, window)
	} else {
		img, err := f.GetImage()
		if err != nil {
			return nil, meta, fmt.Errorf("failed to decode dicom frame: %w", err)
		}
		gray = Normalize(img, rescale, window)
	}

	meta.Width, meta.Height = gray.Bounds().Dx(), gray.Bounds().Dy()
	return gray, meta, nil
}

// nativeSamples returns the first sample of every pixel of an uncompressed
// frame as a stored value.
func nativeSamples(f *frame.NativeFrame, bitsStored int, signed bool) ([]float64, error) {
	n := f.Rows * f.Cols
	if f.Rows <= 0 || f.Cols <= 0 || len(f.Data) < n {
		return nil, fmt.Errorf("%w: frame holds %d of %dx%d pixels", ErrNoPixelData, len(f.Data), f.Cols, f.Rows)
	}
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		if len(f.Data[i]) == 0 {
			return nil, fmt.Errorf("%w: pixel %d has no samples", ErrNoPixelData, i)
		}
		values[i] = Sample(f.Data[i][0], bitsStored, signed)
	}
	return values, nil
}

// Sample decodes a raw stored pixel value. Signed values are sign extended
// from bitsStored bits; bits above bitsStored are ignored.
func Sample(raw, bitsStored int, signed bool) float64 {
	if bitsStored <= 0 || bitsStored >= 63 {
		return float64(raw)
	}
	v := int64(raw) & (1<<uint(bitsStored) - 1)
	if signed && v&(1<<uint(bitsStored-1)) != 0 {
		v -= 1 << uint(bitsStored)
	}
	return float64(v)
}

// Normalize converts a decoded frame to 8 bit. Each sample is read as a
// 16-bit gray value and passed to NormalizeSamples.
func Normalize(img image.Image, rescale Rescale, window *Window) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	values := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			values[y*w+x] = float64(g.Y)
		}
	}
	return NormalizeSamples(values, w, h, rescale, window)
}

// NormalizeSamples converts w*h stored values in row-major order to 8 bit.
// Values are rescaled, clipped to the window (or to the data range when
// window is nil) and stretched linearly to 0-255. A constant image becomes
// black.
func NormalizeSamples(values []float64, w, h int, rescale Rescale, window *Window) *image.Gray {
	out := make([]float64, w*h)
	for i := range out {
		out[i] = values[i]*rescale.Slope + rescale.Intercept
	}

	var lo, hi float64
	if window != nil {
		lo, hi = window.Range()
	} else {
		lo, hi = math.Inf(1), math.Inf(-1)
		for _, v := range out {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}

	gray := image.NewGray(image.Rect(0, 0, w, h))
	if hi <= lo {
		return gray
	}
	scale := 255 / (hi - lo)
	for i, v := range out {
		v = math.Max(lo, math.Min(hi, v))
		gray.Pix[(i/w)*gray.Stride+i%w] = uint8(math.Round((v - lo) * scale))
	}
	return gray
}

func stringTag(ds dicom.Dataset, t tag.Tag) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return ""
	}
	values, ok := elem.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.Join(values, " "))
}

// floatTag reads the first value of a decimal string element. Multi-valued
// strings such as "40\400" yield their first component.
func floatTag(ds dicom.Dataset, t tag.Tag) (float64, bool) {
	s := stringTag(ds, t)
	if s == "" {
		return 0, false
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '\\' || r == ' ' })
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// intTag reads the first value of an integer element, or -1.
func intTag(ds dicom.Dataset, t tag.Tag) int {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return -1
	}
	values, ok := elem.Value.GetValue().([]int)
	if !ok || len(values) == 0 {
		return -1
	}
	return values[0]
}
