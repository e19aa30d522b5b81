// Package extraction turns a binary bone mask into the geometry the angle
// measurement works with: the outer contour of the primary bone region, its
// principal (long) axis and the inferior keypoints of the calcaneus.
package extraction

import (
	"errors"
	"fmt"

	"pesplanus/pkg/geometry"
	"pesplanus/pkg/mask"
)

var (
	// ErrEmptyMask is returned when the mask has no foreground: the bone
	// could not be located.
	ErrEmptyMask = errors.New("mask has no foreground pixels")

	// ErrDegenerateContour is returned when a region was found but is too
	// round or too small to define a long axis.
	ErrDegenerateContour = errors.New("contour too ambiguous to define an axis")
)

// Region is the primary foreground region of a mask.
type Region struct {
	// Contour is the outer boundary on the pixel-corner lattice.
	Contour geometry.Contour

	// Component carries the pixel statistics of the region.
	Component mask.Component

	// Components is the total number of foreground regions in the mask.
	Components int
}

// ExtractContour returns the outer contour of the largest connected
// foreground region of m. Ties on area go to the region closer to the top of
// the image. The mask is not modified.
func ExtractContour(m *mask.Mask) (geometry.Contour, error) {
	r, err := ExtractRegion(m)
	if err != nil {
		return nil, err
	}
	return r.Contour, nil
}

// ExtractRegion is ExtractContour plus the statistics of the chosen region.
func ExtractRegion(m *mask.Mask) (*Region, error) {
	if m == nil {
		return nil, ErrEmptyMask
	}
	comps, labels := m.Components()
	if len(comps) == 0 {
		return nil, ErrEmptyMask
	}

	primary := comps[0]
	contour, err := traceBoundary(labels, primary)
	if err != nil {
		return nil, err
	}
	return &Region{
		Contour:    contour,
		Component:  primary,
		Components: len(comps),
	}, nil
}

// Boundary headings in image coordinates (y down), clockwise on screen.
var headings = [4][2]int{
	{1, 0},  // east
	{0, 1},  // south
	{-1, 0}, // west
	{0, -1}, // north
}

// traceBoundary follows the cracks between pixels around the component,
// keeping the region on the right-hand side. Vertices are pixel corners, so
// for a region without holes the enclosed area equals its pixel count.
// Only vertices where the heading changes are emitted.
func traceBoundary(labels *mask.Labels, c mask.Component) (geometry.Contour, error) {
	inside := func(x, y int) bool { return labels.At(x, y) == c.Label }

	sx, sy := c.StartX, c.StartY
	vx, vy, d := sx, sy, 0

	contour := geometry.Contour{geometry.Pt(float64(vx), float64(vy))}
	maxSteps := 4*(labels.Width+1)*(labels.Height+1) + 4

	for step := 0; step < maxSteps; step++ {
		dx, dy := headings[d][0], headings[d][1]
		vx += dx
		vy += dy

		// Pixels ahead of the vertex, on the left and right of the heading
		lx, ly := aheadCell(vx, vy, dx, dy, dy, -dx)
		rx, ry := aheadCell(vx, vy, dx, dy, -dy, dx)

		next := d
		switch {
		case inside(lx, ly) && inside(rx, ry):
			next = (d + 3) % 4
		case inside(rx, ry):
		default:
			next = (d + 1) % 4
		}

		if vx == sx && vy == sy && next == 0 {
			return contour, nil
		}
		if next != d {
			contour = append(contour, geometry.Pt(float64(vx), float64(vy)))
		}
		d = next
	}
	return nil, fmt.Errorf("boundary trace of component %d did not close", c.Label)
}

// aheadCell returns the pixel whose centre is half a step ahead of vertex
// (vx, vy) along (dx, dy) and half a step along the normal (nx, ny).
func aheadCell(vx, vy, dx, dy, nx, ny int) (int, int) {
	return floorDiv(2*vx+dx+nx, 2), floorDiv(2*vy+dy+ny, 2)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
