package extraction

import (
	"fmt"
	"math"

	"pesplanus/pkg/geometry"
)

// Keypoints are the inferior landmarks of a calcaneus on a lateral view.
type Keypoints struct {
	// Heel is the posterior-inferior point (the calcaneal tuberosity), the
	// deepest point of the hull.
	Heel geometry.Point

	// Anterior is the anterior-inferior corner near the calcaneocuboid
	// joint.
	Anterior geometry.Point

	// HeelIsLeft reports whether the heel lies in the left half of the
	// bone, i.e. the toes point right.
	HeelIsLeft bool
}

// InferiorTangent returns the calcaneal line from the heel to the anterior
// corner.
func (k Keypoints) InferiorTangent() geometry.LineSegment {
	return geometry.Seg(k.Heel, k.Anterior)
}

// InferiorKeypoints locates the heel and the anterior-inferior corner on the
// convex hull of the contour.
//
// The hull is split at the vertical centre of the bounding box. In each half
// the deepest level (max Y) is found and the mean X of all hull vertices at
// that level taken, so a flat bottom resolves to the middle of the curve. The
// deeper half holds the heel. The anterior corner is the hull vertex of the
// other half that is furthest forward and down: max(x+y) when the heel is on
// the left, min(x-y) when it is on the right.
func InferiorKeypoints(c geometry.Contour) (Keypoints, error) {
	if len(c) < 3 {
		return Keypoints{}, fmt.Errorf("%w: contour has %d vertices", ErrDegenerateContour, len(c))
	}

	hull := geometry.ConvexHull(c)
	box := geometry.BoundingBox(hull)
	midX := box.X + math.Floor(box.Width/2)

	var left, right []geometry.Point
	for _, p := range hull {
		if p.X < midX {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}

	leftDeep, okL := deepestPoint(left)
	rightDeep, okR := deepestPoint(right)
	if !okL {
		leftDeep = extremeX(hull, false)
	}
	if !okR {
		rightDeep = extremeX(hull, true)
	}

	var k Keypoints
	if leftDeep.Y >= rightDeep.Y {
		k.HeelIsLeft = true
		k.Heel = leftDeep
		k.Anterior = rightDeep
		if len(right) > 0 {
			k.Anterior = argBest(right, func(p geometry.Point) float64 { return p.X + p.Y })
		}
	} else {
		k.Heel = rightDeep
		k.Anterior = leftDeep
		if len(left) > 0 {
			k.Anterior = argBest(left, func(p geometry.Point) float64 { return p.Y - p.X })
		}
	}

	if k.Heel.Distance(k.Anterior) < geometry.DefaultEpsilon {
		return Keypoints{}, fmt.Errorf("%w: heel and anterior keypoints coincide", ErrDegenerateContour)
	}
	return k, nil
}

// deepestPoint returns the point at max Y with X averaged over all points at
// that level.
func deepestPoint(points []geometry.Point) (geometry.Point, bool) {
	if len(points) == 0 {
		return geometry.Point{}, false
	}
	yMax := math.Inf(-1)
	for _, p := range points {
		yMax = math.Max(yMax, p.Y)
	}
	var sumX float64
	var n int
	for _, p := range points {
		if p.Y == yMax {
			sumX += p.X
			n++
		}
	}
	return geometry.Pt(sumX/float64(n), yMax), true
}

func extremeX(points []geometry.Point, largest bool) geometry.Point {
	best := points[0]
	for _, p := range points[1:] {
		if (largest && p.X > best.X) || (!largest && p.X < best.X) {
			best = p
		}
	}
	return best
}

// argBest returns the first point maximising score.
func argBest(points []geometry.Point, score func(geometry.Point) float64) geometry.Point {
	best := points[0]
	bestScore := score(best)
	for _, p := range points[1:] {
		if s := score(p); s > bestScore {
			best, bestScore = p, s
		}
	}
	return best
}
