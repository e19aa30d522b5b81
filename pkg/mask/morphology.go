package mask

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Erode returns a new mask where a pixel stays foreground only if the whole
// k x k square centred on it is foreground. Pixels outside the mask count as
// background.
func (m *Mask) Erode(k int) *Mask {
	if k <= 1 {
		return m.Clone()
	}
	// Separable: horizontal run then vertical run
	return m.window(k, true).transpose().window(k, true).transpose()
}

// Dilate returns a new mask where a pixel becomes foreground if any pixel of
// the k x k square centred on it is foreground.
func (m *Mask) Dilate(k int) *Mask {
	if k <= 1 {
		return m.Clone()
	}
	return m.window(k, false).transpose().window(k, false).transpose()
}

// Open performs a morphological opening (erosion followed by dilation) with a
// k x k square kernel, removing specks and thin bridges smaller than the
// kernel. k <= 1 returns a copy.
func (m *Mask) Open(k int) *Mask {
	if k <= 1 {
		return m.Clone()
	}
	return m.Erode(k).Dilate(k)
}

// window applies a 1D horizontal min (all=true) or max (all=false) filter of
// width k. Erosion covers offsets [-(k-1)/2, k/2]; dilation uses the
// reflected window so an opening with an even k does not shift the region.
func (m *Mask) window(k int, all bool) *Mask {
	out := New(m.width, m.height)
	lo := (k - 1) / 2
	hi := k / 2
	if !all {
		lo, hi = hi, lo
	}
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			v := all
			for dx := -lo; dx <= hi; dx++ {
				if m.Get(x+dx, y) != all {
					v = !all
					break
				}
			}
			out.pix[y*m.width+x] = v
		}
	}
	return out
}

func (m *Mask) transpose() *Mask {
	out := New(m.height, m.width)
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			out.pix[x*m.height+y] = m.pix[y*m.width+x]
		}
	}
	return out
}

// Component describes one 4-connected foreground region.
type Component struct {
	// Label is the 1-based label stored in Labels.At for this component.
	Label int

	// Area is the pixel count.
	Area int

	// MinX, MinY, MaxX, MaxY are the inclusive pixel bounds.
	MinX, MinY, MaxX, MaxY int

	// MeanX and MeanY are the mean pixel coordinates.
	MeanX, MeanY float64

	// Start is the top-most, then left-most pixel of the component.
	StartX, StartY int
}

// Labels is the per-pixel component labelling of a mask. 0 is background.
type Labels struct {
	Width, Height int
	label         []int
}

// At returns the label at (x, y), 0 for background or out of range.
func (l *Labels) At(x, y int) int {
	if x < 0 || y < 0 || x >= l.Width || y >= l.Height {
		return 0
	}
	return l.label[y*l.Width+x]
}

// Components labels the 4-connected foreground regions of the mask. The
// returned components are sorted by descending area, then ascending MeanY,
// then ascending MeanX, so the first one is the primary region.
func (m *Mask) Components() ([]Component, *Labels) {
	labels := &Labels{Width: m.width, Height: m.height, label: make([]int, len(m.pix))}
	var comps []Component
	queue := make([]int, 0, 64)

	for start, fg := range m.pix {
		if !fg || labels.label[start] != 0 {
			continue
		}
		id := len(comps) + 1
		labels.label[start] = id
		queue = append(queue[:0], start)

		var xs, ys []float64
		c := Component{
			Label:  id,
			MinX:   m.width,
			MinY:   m.height,
			MaxX:   -1,
			MaxY:   -1,
			StartX: start % m.width,
			StartY: start / m.width,
		}

		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := idx%m.width, idx/m.width

			xs = append(xs, float64(x))
			ys = append(ys, float64(y))
			if x < c.MinX {
				c.MinX = x
			}
			if x > c.MaxX {
				c.MaxX = x
			}
			if y < c.MinY {
				c.MinY = y
			}
			if y > c.MaxY {
				c.MaxY = y
			}

			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				nx, ny := n[0], n[1]
				if !m.Get(nx, ny) {
					continue
				}
				ni := ny*m.width + nx
				if labels.label[ni] == 0 {
					labels.label[ni] = id
					queue = append(queue, ni)
				}
			}
		}

		c.Area = len(xs)
		c.MeanX = stat.Mean(xs, nil)
		c.MeanY = stat.Mean(ys, nil)
		comps = append(comps, c)
	}

	sort.SliceStable(comps, func(i, j int) bool {
		a, b := comps[i], comps[j]
		if a.Area != b.Area {
			return a.Area > b.Area
		}
		if a.MeanY != b.MeanY {
			return a.MeanY < b.MeanY
		}
		return a.MeanX < b.MeanX
	})
	return comps, labels
}

// Select returns a new mask containing only the pixels with the given label.
func (l *Labels) Select(label int) *Mask {
	out := New(l.Width, l.Height)
	for i, v := range l.label {
		out.pix[i] = v == label
	}
	return out
}

// Largest returns a new mask holding only the primary component (largest
// area, tie broken toward the top of the image). It returns an empty mask
// when m has no foreground.
func (m *Mask) Largest() *Mask {
	comps, labels := m.Components()
	if len(comps) == 0 {
		return New(m.width, m.height)
	}
	return labels.Select(comps[0].Label)
}
