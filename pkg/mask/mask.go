// Package mask holds the binary segmentation mask produced by the bone
// segmentation model and the read-only operations the measurement pipeline
// runs over it.
//
// A Mask is never modified by the analysis code: cleaning and labelling
// return new values so a caller-supplied mask stays exactly as it was.
package mask

import (
	"fmt"
	"image"
	"image/color"
)

// Mask is a 2D binary grid with the same dimensions as its source image.
// true marks bone foreground.
type Mask struct {
	width  int
	height int
	pix    []bool
}

// New creates an empty mask of the given size.
func New(width, height int) *Mask {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Mask{
		width:  width,
		height: height,
		pix:    make([]bool, width*height),
	}
}

// FromGrid builds a mask from rows of 0/1 values. Any non-zero value is
// foreground. Rows must all have the same length.
func FromGrid(rows [][]uint8) (*Mask, error) {
	if len(rows) == 0 {
		return New(0, 0), nil
	}
	width := len(rows[0])
	m := New(width, len(rows))
	for y, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", y, len(row), width)
		}
		for x, v := range row {
			m.pix[y*width+x] = v != 0
		}
	}
	return m, nil
}

// FromImage thresholds an image into a mask. Pixels whose gray level is
// strictly above threshold (0-255) become foreground.
func FromImage(img image.Image, threshold uint8) *Mask {
	b := img.Bounds()
	m := New(b.Dx(), b.Dy())
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			m.pix[y*m.width+x] = g.Y > threshold
		}
	}
	return m
}

// Width returns the mask width in pixels.
func (m *Mask) Width() int { return m.width }

// Height returns the mask height in pixels.
func (m *Mask) Height() int { return m.height }

// Get reports whether (x, y) is foreground. Out-of-range coordinates are
// background.
func (m *Mask) Get(x, y int) bool {
	if x < 0 || y < 0 || x >= m.width || y >= m.height {
		return false
	}
	return m.pix[y*m.width+x]
}

// Set marks (x, y) as foreground or background. Out-of-range coordinates are
// ignored. Set is meant for building masks; analysis code never calls it on
// a caller's mask.
func (m *Mask) Set(x, y int, v bool) {
	if x < 0 || y < 0 || x >= m.width || y >= m.height {
		return
	}
	m.pix[y*m.width+x] = v
}

// FillRect sets every pixel of the half-open rectangle [x0,x1)x[y0,y1).
func (m *Mask) FillRect(x0, y0, x1, y1 int, v bool) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			m.Set(x, y, v)
		}
	}
}

// Count returns the number of foreground pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.pix {
		if v {
			n++
		}
	}
	return n
}

// IsEmpty reports whether the mask has no foreground.
func (m *Mask) IsEmpty() bool {
	for _, v := range m.pix {
		if v {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the mask.
func (m *Mask) Clone() *Mask {
	c := New(m.width, m.height)
	copy(c.pix, m.pix)
	return c
}

// Equal reports whether two masks have the same size and pixels.
func (m *Mask) Equal(o *Mask) bool {
	if m.width != o.width || m.height != o.height {
		return false
	}
	for i := range m.pix {
		if m.pix[i] != o.pix[i] {
			return false
		}
	}
	return true
}

// ColorModel implements image.Image.
func (m *Mask) ColorModel() color.Model { return color.GrayModel }

// Bounds implements image.Image.
func (m *Mask) Bounds() image.Rectangle { return image.Rect(0, 0, m.width, m.height) }

// At implements image.Image: foreground is white, background black.
func (m *Mask) At(x, y int) color.Color {
	if m.Get(x, y) {
		return color.Gray{Y: 255}
	}
	return color.Gray{Y: 0}
}

// ToGray renders the mask as an 8-bit grayscale image.
func (m *Mask) ToGray() *image.Gray {
	img := image.NewGray(m.Bounds())
	for i, v := range m.pix {
		if v {
			img.Pix[(i/m.width)*img.Stride+i%m.width] = 255
		}
	}
	return img
}
