package landmark

import (
	"image"
	"math"
	"sort"

	"pesplanus/pkg/geometry"
)

// DefaultMaxPeaks caps the number of accumulator peaks turned into segments.
const DefaultMaxPeaks = 32

// HoughDetector is a pure Go straight-line detector: a Sobel edge map, a
// standard (rho, theta) Hough accumulator restricted to near-horizontal
// lines, and a gap-bounded walk along every peak to recover segment
// endpoints.
type HoughDetector struct {
	MaxTiltDegrees   float64
	ThetaStepDegrees float64
	RhoStep          float64
	VoteThreshold    int
	EdgeThreshold    float64
	MaxGap           float64
	MaxPeaks         int
}

// NewHoughDetector creates a detector from the engine configuration.
func NewHoughDetector(cfg Config) *HoughDetector {
	return &HoughDetector{
		MaxTiltDegrees:   cfg.MaxTiltDegrees,
		ThetaStepDegrees: cfg.ThetaStepDegrees,
		RhoStep:          cfg.RhoStep,
		VoteThreshold:    cfg.VoteThreshold,
		EdgeThreshold:    cfg.EdgeThreshold,
		MaxGap:           cfg.MaxGap,
		MaxPeaks:         DefaultMaxPeaks,
	}
}

type peak struct {
	theta, rho int
	votes      int
}

// DetectLines implements LineDetector.
func (h *HoughDetector) DetectLines(gray *image.Gray, band image.Rectangle) ([]Line, error) {
	band = band.Intersect(gray.Bounds())
	if band.Empty() {
		return nil, nil
	}

	edges := sobelEdges(gray, band, h.EdgeThreshold)
	if len(edges) < h.VoteThreshold {
		return nil, nil
	}

	// Normal angles around 90 degrees describe lines around horizontal
	nTheta := int(math.Floor(2*h.MaxTiltDegrees/h.ThetaStepDegrees)) + 1
	cosT := make([]float64, nTheta)
	sinT := make([]float64, nTheta)
	for i := range cosT {
		theta := (90 - h.MaxTiltDegrees + float64(i)*h.ThetaStepDegrees) * math.Pi / 180
		cosT[i], sinT[i] = math.Cos(theta), math.Sin(theta)
	}

	// Coordinates are taken relative to the band origin
	diag := math.Hypot(float64(band.Dx()), float64(band.Dy()))
	nRho := int(math.Ceil(2*diag/h.RhoStep)) + 1
	acc := make([]int, nTheta*nRho)

	for _, p := range edges {
		x, y := float64(p.X-band.Min.X), float64(p.Y-band.Min.Y)
		for t := 0; t < nTheta; t++ {
			rho := x*cosT[t] + y*sinT[t]
			r := int(math.Round((rho + diag) / h.RhoStep))
			acc[t*nRho+r]++
		}
	}

	peaks := h.findPeaks(acc, nTheta, nRho)

	var lines []Line
	for _, pk := range peaks {
		rho := float64(pk.rho)*h.RhoStep - diag
		line, ok := h.segmentAlong(edges, band.Min, cosT[pk.theta], sinT[pk.theta], rho)
		if ok {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// findPeaks returns local maxima of the accumulator with at least
// VoteThreshold votes, strongest first. On a plateau only the first cell in
// scan order is kept.
func (h *HoughDetector) findPeaks(acc []int, nTheta, nRho int) []peak {
	var peaks []peak
	for t := 0; t < nTheta; t++ {
		for r := 0; r < nRho; r++ {
			v := acc[t*nRho+r]
			if v < h.VoteThreshold {
				continue
			}
			isPeak := true
			for dt := -1; dt <= 1 && isPeak; dt++ {
				for dr := -1; dr <= 1; dr++ {
					tt, rr := t+dt, r+dr
					if (dt == 0 && dr == 0) || tt < 0 || tt >= nTheta || rr < 0 || rr >= nRho {
						continue
					}
					n := acc[tt*nRho+rr]
					earlier := dt < 0 || (dt == 0 && dr < 0)
					if n > v || (earlier && n == v) {
						isPeak = false
						break
					}
				}
			}
			if isPeak {
				peaks = append(peaks, peak{theta: t, rho: r, votes: v})
			}
		}
	}

	sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].votes > peaks[j].votes })
	if h.MaxPeaks > 0 && len(peaks) > h.MaxPeaks {
		peaks = peaks[:h.MaxPeaks]
	}
	return peaks
}

// segmentAlong collects the edge pixels lying on the line
// x*cos + y*sin = rho and returns the longest run whose gaps do not exceed
// MaxGap pixels.
func (h *HoughDetector) segmentAlong(edges []image.Point, origin image.Point, cos, sin, rho float64) (Line, bool) {
	tol := math.Max(h.RhoStep, 1)

	var ts []float64
	for _, p := range edges {
		x, y := float64(p.X-origin.X), float64(p.Y-origin.Y)
		if math.Abs(x*cos+y*sin-rho) <= tol {
			ts = append(ts, -x*sin+y*cos)
		}
	}
	if len(ts) < h.VoteThreshold {
		return Line{}, false
	}
	sort.Float64s(ts)

	bestStart, bestEnd := 0, 0
	start := 0
	for i := 1; i <= len(ts); i++ {
		if i == len(ts) || ts[i]-ts[i-1] > h.MaxGap+1 {
			if ts[i-1]-ts[start] > ts[bestEnd]-ts[bestStart] {
				bestStart, bestEnd = start, i-1
			}
			start = i
		}
	}

	votes := bestEnd - bestStart + 1
	if votes < h.VoteThreshold {
		return Line{}, false
	}

	at := func(t float64) geometry.Point {
		return geometry.Pt(
			rho*cos-t*sin+float64(origin.X),
			rho*sin+t*cos+float64(origin.Y),
		)
	}
	a, b := at(ts[bestStart]), at(ts[bestEnd])
	if b.X < a.X {
		a, b = b, a
	}
	return Line{Segment: geometry.Seg(a, b), Votes: votes}, true
}

// sobelEdges returns the pixels of band whose Sobel gradient magnitude is at
// least frac of the strongest gradient in the band. Neighbours outside the
// image are clamped to the border.
func sobelEdges(gray *image.Gray, band image.Rectangle, frac float64) []image.Point {
	bounds := gray.Bounds()
	at := func(x, y int) float64 {
		x = clamp(x, bounds.Min.X, bounds.Max.X-1)
		y = clamp(y, bounds.Min.Y, bounds.Max.Y-1)
		return float64(gray.Pix[gray.PixOffset(x, y)])
	}

	w := band.Dx()
	mag := make([]float64, w*band.Dy())
	maxMag := 0.0
	for y := band.Min.Y; y < band.Max.Y; y++ {
		for x := band.Min.X; x < band.Max.X; x++ {
			gx := at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1)
			gy := at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1)
			m := math.Hypot(gx, gy)
			mag[(y-band.Min.Y)*w+(x-band.Min.X)] = m
			maxMag = math.Max(maxMag, m)
		}
	}
	if maxMag == 0 {
		return nil
	}

	cut := frac * maxMag
	var edges []image.Point
	for i, m := range mag {
		if m >= cut {
			edges = append(edges, image.Pt(band.Min.X+i%w, band.Min.Y+i/w))
		}
	}
	return edges
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
