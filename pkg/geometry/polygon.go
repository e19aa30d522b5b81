package geometry

import (
	"math"
	"sort"
)

// Contour is a closed polygon; the edge from the last vertex back to the
// first is implicit.
type Contour []Point

// Moments holds the raw area moments of a simple polygon.
type Moments struct {
	M00, M10, M01, M20, M11, M02 float64
}

// Centroid returns the centroid of the enclosed region.
func (m Moments) Centroid() Point {
	if m.M00 == 0 {
		return Point{}
	}
	return Point{X: m.M10 / m.M00, Y: m.M01 / m.M00}
}

// Covariance returns the central second moments normalized by area:
// var(x), cov(x, y), var(y).
func (m Moments) Covariance() (xx, xy, yy float64) {
	if m.M00 == 0 {
		return 0, 0, 0
	}
	c := m.Centroid()
	xx = m.M20/m.M00 - c.X*c.X
	xy = m.M11/m.M00 - c.X*c.Y
	yy = m.M02/m.M00 - c.Y*c.Y
	return xx, xy, yy
}

// SignedArea returns the shoelace area of the contour. The sign depends on
// the winding direction.
func (c Contour) SignedArea() float64 {
	n := len(c)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		p, q := c[i], c[(i+1)%n]
		sum += p.Cross(q)
	}
	return sum / 2
}

// Area returns the absolute enclosed area.
func (c Contour) Area() float64 {
	return math.Abs(c.SignedArea())
}

// Moments computes exact area moments of the enclosed region using Green's
// theorem. Results are normalized to a positive orientation.
func (c Contour) Moments() Moments {
	n := len(c)
	var m Moments
	if n < 3 {
		return m
	}
	for i := 0; i < n; i++ {
		p, q := c[i], c[(i+1)%n]
		a := p.Cross(q)
		m.M00 += a
		m.M10 += a * (p.X + q.X)
		m.M01 += a * (p.Y + q.Y)
		m.M20 += a * (p.X*p.X + p.X*q.X + q.X*q.X)
		m.M02 += a * (p.Y*p.Y + p.Y*q.Y + q.Y*q.Y)
		m.M11 += a * (p.X*q.Y + 2*p.X*p.Y + 2*q.X*q.Y + q.X*p.Y)
	}
	m.M00 /= 2
	m.M10 /= 6
	m.M01 /= 6
	m.M20 /= 12
	m.M02 /= 12
	m.M11 /= 24
	if m.M00 < 0 {
		m = Moments{-m.M00, -m.M10, -m.M01, -m.M20, -m.M11, -m.M02}
	}
	return m
}

// Bounds returns the axis-aligned bounding box of the contour.
func (c Contour) Bounds() Rect {
	return BoundingBox(c)
}

// ConvexHull computes the convex hull of a set of points with Andrew's
// monotone chain. The hull is returned counter-clockwise in a y-up frame
// without repeating the first vertex. The input is not modified.
func ConvexHull(points []Point) []Point {
	if len(points) < 3 {
		out := make([]Point, len(points))
		copy(out, points)
		return out
	}

	pts := make([]Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X != pts[j].X {
			return pts[i].X < pts[j].X
		}
		return pts[i].Y < pts[j].Y
	})

	hull := make([]Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && crossProduct(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && crossProduct(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// crossProduct returns the cross product of vectors (b - a) and (c - a).
func crossProduct(a, b, c Point) float64 {
	return b.Sub(a).Cross(c.Sub(a))
}
