// Package visualization renders measurement overlays on radiographs.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"pesplanus/internal/models"
	"pesplanus/pkg/angle"
	"pesplanus/pkg/geometry"
)

// Style controls how an overlay is drawn.
type Style struct {
	// ReferenceColor draws the ground line (talus axis in Meary's mode).
	ReferenceColor color.RGBA

	// AxisColor draws the bone axis (first metatarsal axis in Meary's mode).
	AxisColor color.RGBA

	// MarkerColor draws endpoint handles and the heel keypoint.
	MarkerColor color.RGBA

	// Thickness is the line width in pixels.
	Thickness int

	// MarkerRadius is the radius of the endpoint handles.
	MarkerRadius int

	// Label draws the angle and diagnosis in the top-left corner.
	Label bool

	// Quality is the JPEG quality used by Save.
	Quality int
}

// DefaultStyle returns the standard overlay colours.
func DefaultStyle() Style {
	return Style{
		ReferenceColor: color.RGBA{R: 0, G: 200, B: 255, A: 255},
		AxisColor:      color.RGBA{R: 255, G: 60, B: 60, A: 255},
		MarkerColor:    color.RGBA{R: 255, G: 220, B: 0, A: 255},
		Thickness:      3,
		MarkerRadius:   5,
		Label:          true,
		Quality:        90,
	}
}

// Viewer draws the lines of a measurement over the radiograph it was taken
// from.
type Viewer struct {
	// base is the radiograph; it is never modified
	base image.Image

	result *angle.Result
	heel   *geometry.Point
	style  Style
}

// NewViewer creates a viewer for img.
func NewViewer(img image.Image, style Style) *Viewer {
	if style.Thickness <= 0 {
		style.Thickness = 1
	}
	if style.Quality <= 0 {
		style.Quality = 90
	}
	return &Viewer{base: img, style: style}
}

// SetResult sets the measurement to draw; nil draws the bare image.
func (v *Viewer) SetResult(r *angle.Result) {
	v.result = r
}

// SetHeel marks the heel keypoint.
func (v *Viewer) SetHeel(p *geometry.Point) {
	v.heel = p
}

// Render returns a colour copy of the radiograph with the overlay drawn.
func (v *Viewer) Render() *image.RGBA {
	b := v.base.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), v.base, b.Min, draw.Src)

	if v.result == nil {
		return out
	}

	for _, l := range []struct {
		seg geometry.LineSegment
		c   color.RGBA
	}{
		{v.result.LineA, v.style.ReferenceColor},
		{v.result.LineB, v.style.AxisColor},
	} {
		DrawLine(out, l.seg, l.c, v.style.Thickness)
		if v.style.MarkerRadius > 0 {
			DrawMarker(out, l.seg.A, v.style.MarkerRadius, v.style.MarkerColor)
			DrawMarker(out, l.seg.B, v.style.MarkerRadius, v.style.MarkerColor)
		}
	}
	if v.heel != nil {
		DrawMarker(out, *v.heel, v.style.MarkerRadius+2, v.style.MarkerColor)
	}

	if v.style.Label {
		drawLabel(out, Caption(*v.result), DiagnosisColor(v.result.Diagnosis))
	}
	return out
}

// Save renders the overlay to filename. The format follows the extension:
// PNG for .png, JPEG otherwise.
func (v *Viewer) Save(filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	img := v.Render()
	if strings.EqualFold(filepath.Ext(filename), ".png") {
		return png.Encode(file, img)
	}
	return jpeg.Encode(file, img, &jpeg.Options{Quality: v.style.Quality})
}

// AnnotatedPath returns the output path of the overlay for a study:
// <outputDir>/<name>_<id>_<side>_<base>_annotated.jpg. Unknown parts are
// left out. Image files named alike in different patient folders map to
// different paths.
func AnnotatedPath(outputDir string, s *models.Study) string {
	base := strings.TrimSuffix(filepath.Base(s.Path), filepath.Ext(s.Path))

	var parts []string
	for _, p := range []string{s.PatientName, s.PatientID, string(s.Side), base} {
		if p == models.UnknownID {
			continue
		}
		if p = sanitize(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "image")
	}
	return filepath.Join(outputDir, strings.Join(parts, "_")+"_annotated.jpg")
}

// UniquePath returns path, or path with a _2, _3, ... suffix before the
// extension, whichever taken reports as free first.
func UniquePath(path string, taken func(string) bool) string {
	if !taken(path) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if !taken(candidate) {
			return candidate
		}
	}
}

// sanitize keeps letters, digits, '-' and '.'; runs of anything else become
// a single underscore.
func sanitize(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.' {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// Caption is the one-line label of a measurement. The bitmap font has no
// degree sign, so "deg" is spelled out.
func Caption(r angle.Result) string {
	return fmt.Sprintf("%s: %.1f deg - %s", r.Mode.Title(), r.AngleDegrees, r.Diagnosis.Label())
}

// DiagnosisColor returns the swatch colour of a category.
func DiagnosisColor(d angle.Diagnosis) color.RGBA {
	switch d {
	case angle.Normal:
		return color.RGBA{R: 40, G: 180, B: 70, A: 255}
	case angle.Borderline, angle.MildPesPlanus:
		return color.RGBA{R: 240, G: 170, B: 0, A: 255}
	case angle.PesPlanus, angle.SeverePesPlanus:
		return color.RGBA{R: 230, G: 90, B: 20, A: 255}
	case angle.PesCavus:
		return color.RGBA{R: 50, G: 110, B: 230, A: 255}
	case angle.Deformity:
		return color.RGBA{R: 200, G: 0, B: 0, A: 255}
	}
	return color.RGBA{R: 128, G: 128, B: 128, A: 255}
}

// DrawLine draws the segment with a square brush of the given thickness.
func DrawLine(img *image.RGBA, l geometry.LineSegment, c color.RGBA, thickness int) {
	steps := int(math.Ceil(math.Max(math.Abs(l.B.X-l.A.X), math.Abs(l.B.Y-l.A.Y))))
	if steps == 0 {
		steps = 1
	}
	r := thickness / 2
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := int(math.Floor(l.A.X + t*(l.B.X-l.A.X)))
		y := int(math.Floor(l.A.Y + t*(l.B.Y-l.A.Y)))
		fillSquare(img, x-r, y-r, thickness, c)
	}
}

// DrawMarker draws a filled disc centred on p.
func DrawMarker(img *image.RGBA, p geometry.Point, radius int, c color.RGBA) {
	cx, cy := int(math.Floor(p.X)), int(math.Floor(p.Y))
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				setClipped(img, cx+dx, cy+dy, c)
			}
		}
	}
}

func fillSquare(img *image.RGBA, x0, y0, size int, c color.RGBA) {
	for y := y0; y < y0+size; y++ {
		for x := x0; x < x0+size; x++ {
			setClipped(img, x, y, c)
		}
	}
}

func setClipped(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

// drawLabel draws a dark box holding a colour swatch and the caption.
func drawLabel(img *image.RGBA, text string, swatch color.RGBA) {
	face := basicfont.Face7x13
	const pad, swatchSize = 4, 11

	width := font.MeasureString(face, text).Ceil() + swatchSize + 3*pad
	height := face.Metrics().Height.Ceil() + 2*pad
	box := image.Rect(0, 0, width, height).Intersect(img.Bounds())
	draw.Draw(img, box, image.NewUniform(color.RGBA{A: 200}), image.Point{}, draw.Over)

	sw := image.Rect(pad, pad+1, pad+swatchSize, pad+1+swatchSize).Intersect(img.Bounds())
	draw.Draw(img, sw, image.NewUniform(swatch), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(2*pad+swatchSize, pad+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
}
