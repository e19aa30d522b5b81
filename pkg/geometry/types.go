// Package geometry provides the 2D value types shared by the measurement
// pipeline: points, directed line segments and closed contours in image pixel
// space (x to the right, y downward).
package geometry

import (
	"errors"
	"fmt"
	"math"
)

// DefaultEpsilon is the minimum length, in pixels, of a usable line segment.
const DefaultEpsilon = 1e-6

// ErrInvalidGeometry is returned when a line segment collapses to a point or
// two coincident points are supplied for a line.
var ErrInvalidGeometry = errors.New("invalid geometry")

// Point is a 2D coordinate in image pixel space.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Add returns p + q.
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Scale returns the point scaled by a factor.
func (p Point) Scale(f float64) Point {
	return Point{X: p.X * f, Y: p.Y * f}
}

// Dot returns the dot product of p and q taken as vectors.
func (p Point) Dot(q Point) float64 {
	return p.X*q.X + p.Y*q.Y
}

// Cross returns the z component of the cross product of p and q.
func (p Point) Cross(q Point) float64 {
	return p.X*q.Y - p.Y*q.X
}

// Norm returns the Euclidean length of p taken as a vector.
func (p Point) Norm() float64 {
	return math.Hypot(p.X, p.Y)
}

// Distance returns the Euclidean distance to another point.
func (p Point) Distance(q Point) float64 {
	return p.Sub(q).Norm()
}

func (p Point) String() string {
	return fmt.Sprintf("(%.1f, %.1f)", p.X, p.Y)
}

// LineSegment is a directed segment from A to B.
type LineSegment struct {
	A Point `json:"a" yaml:"a"`
	B Point `json:"b" yaml:"b"`
}

// Seg is shorthand for LineSegment{A: a, B: b}.
func Seg(a, b Point) LineSegment {
	return LineSegment{A: a, B: b}
}

// NewLineSegment builds a segment from two points, rejecting coincident ones.
func NewLineSegment(a, b Point, eps float64) (LineSegment, error) {
	l := LineSegment{A: a, B: b}
	if err := l.Validate(eps); err != nil {
		return LineSegment{}, err
	}
	return l, nil
}

// Direction returns the direction vector B - A.
func (l LineSegment) Direction() Point {
	return l.B.Sub(l.A)
}

// Length returns the distance between A and B.
func (l LineSegment) Length() float64 {
	return l.Direction().Norm()
}

// Midpoint returns the point halfway between A and B.
func (l LineSegment) Midpoint() Point {
	return l.A.Add(l.B).Scale(0.5)
}

// Reversed returns the segment pointing the other way.
func (l LineSegment) Reversed() LineSegment {
	return LineSegment{A: l.B, B: l.A}
}

// TiltDegrees returns the acute angle between the segment and the horizontal.
func (l LineSegment) TiltDegrees() float64 {
	d := l.Direction()
	return math.Atan2(math.Abs(d.Y), math.Abs(d.X)) * 180 / math.Pi
}

// IsDegenerate reports whether the segment is shorter than eps.
func (l LineSegment) IsDegenerate(eps float64) bool {
	if eps <= 0 {
		eps = DefaultEpsilon
	}
	return l.Length() < eps
}

// Validate returns ErrInvalidGeometry if the segment is degenerate or has
// non-finite coordinates.
func (l LineSegment) Validate(eps float64) error {
	for _, v := range []float64{l.A.X, l.A.Y, l.B.X, l.B.Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate in %v", ErrInvalidGeometry, l)
		}
	}
	if l.IsDegenerate(eps) {
		return fmt.Errorf("%w: segment %v -> %v has zero length", ErrInvalidGeometry, l.A, l.B)
	}
	return nil
}

func (l LineSegment) String() string {
	return fmt.Sprintf("%v-%v", l.A, l.B)
}

// Rect is an axis-aligned rectangle with floating-point coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the center point of the rectangle.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// BoundingBox computes the axis-aligned bounding box of a set of points.
func BoundingBox(points []Point) Rect {
	if len(points) == 0 {
		return Rect{}
	}
	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		minX = math.Min(minX, p.X)
		maxX = math.Max(maxX, p.X)
		minY = math.Min(minY, p.Y)
		maxY = math.Max(maxY, p.Y)
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}
