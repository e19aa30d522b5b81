package extraction

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"pesplanus/pkg/geometry"
)

// DefaultMinAspectRatio is the smallest principal-axis aspect ratio accepted
// as an elongated bone.
const DefaultMinAspectRatio = 1.15

// Axis describes the principal axes of a contour.
type Axis struct {
	// Segment spans the contour along its major axis.
	Segment geometry.LineSegment

	// Centroid is the area centroid of the enclosed region.
	Centroid geometry.Point

	// MajorExtent and MinorExtent are the contour extents along the major
	// and minor axes.
	MajorExtent float64
	MinorExtent float64
}

// AspectRatio returns MajorExtent / MinorExtent.
func (a Axis) AspectRatio() float64 {
	if a.MinorExtent <= 0 {
		return math.Inf(1)
	}
	return a.MajorExtent / a.MinorExtent
}

// ExtractAxis approximates the long axis of the bone bounded by c.
//
// The axis direction is the major eigenvector of the region's second-order
// area moments. The returned segment runs through the centroid and spans the
// extreme projections of the contour onto that direction; A is the endpoint
// with the smaller X (then smaller Y).
//
// It fails with ErrDegenerateContour when the aspect ratio of the bounding
// box aligned with the principal axes is below minAspect.
func ExtractAxis(c geometry.Contour, minAspect float64) (geometry.LineSegment, error) {
	a, err := PrincipalAxis(c)
	if err != nil {
		return geometry.LineSegment{}, err
	}
	if ratio := a.AspectRatio(); ratio < minAspect {
		return geometry.LineSegment{}, fmt.Errorf("%w: aspect ratio %.3f below minimum %.3f",
			ErrDegenerateContour, ratio, minAspect)
	}
	return a.Segment, nil
}

// PrincipalAxis computes the principal axes of the region bounded by c
// without applying any aspect-ratio gate.
func PrincipalAxis(c geometry.Contour) (Axis, error) {
	if len(c) < 3 {
		return Axis{}, fmt.Errorf("%w: contour has %d vertices", ErrDegenerateContour, len(c))
	}
	m := c.Moments()
	if m.M00 <= 0 {
		return Axis{}, fmt.Errorf("%w: contour encloses no area", ErrDegenerateContour)
	}

	centroid := m.Centroid()
	xx, xy, yy := m.Covariance()

	var eig mat.EigenSym
	if ok := eig.Factorize(mat.NewSymDense(2, []float64{xx, xy, xy, yy}), true); !ok {
		return Axis{}, fmt.Errorf("%w: moment matrix eigen decomposition failed", ErrDegenerateContour)
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Eigenvalues come back in ascending order: column 1 is the major axis
	major := geometry.Pt(vecs.At(0, 1), vecs.At(1, 1))
	minor := geometry.Pt(vecs.At(0, 0), vecs.At(1, 0))

	tMin, tMax := math.Inf(1), math.Inf(-1)
	sMin, sMax := math.Inf(1), math.Inf(-1)
	for _, p := range c {
		rel := p.Sub(centroid)
		t := rel.Dot(major)
		s := rel.Dot(minor)
		tMin = math.Min(tMin, t)
		tMax = math.Max(tMax, t)
		sMin = math.Min(sMin, s)
		sMax = math.Max(sMax, s)
	}

	a := centroid.Add(major.Scale(tMin))
	b := centroid.Add(major.Scale(tMax))
	if b.X < a.X || (b.X == a.X && b.Y < a.Y) {
		a, b = b, a
	}

	return Axis{
		Segment:     geometry.Seg(a, b),
		Centroid:    centroid,
		MajorExtent: tMax - tMin,
		MinorExtent: sMax - sMin,
	}, nil
}
