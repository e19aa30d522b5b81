//go:build gocv

package landmark

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"pesplanus/pkg/geometry"
)

// DetectorOpenCV names the OpenCV probabilistic Hough detector.
const DetectorOpenCV = "opencv"

func init() {
	RegisterDetector(DetectorOpenCV, func(cfg Config) LineDetector { return NewOpenCVDetector(cfg) })
}

// OpenCVDetector finds line segments with Canny edges and the probabilistic
// Hough transform of OpenCV. Only available in builds with the gocv tag.
type OpenCVDetector struct {
	CannyLow      float32
	CannyHigh     float32
	RhoStep       float32
	ThetaStep     float32
	VoteThreshold int
	MinLineLength float32
	MaxGap        float32
}

// NewOpenCVDetector creates a detector from the engine configuration.
func NewOpenCVDetector(cfg Config) *OpenCVDetector {
	return &OpenCVDetector{
		CannyLow:      50,
		CannyHigh:     150,
		RhoStep:       float32(cfg.RhoStep),
		ThetaStep:     float32(cfg.ThetaStepDegrees * math.Pi / 180),
		VoteThreshold: cfg.VoteThreshold,
		MinLineLength: float32(cfg.MinLineLength),
		MaxGap:        float32(cfg.MaxGap),
	}
}

// DetectLines implements LineDetector.
func (d *OpenCVDetector) DetectLines(gray *image.Gray, band image.Rectangle) ([]Line, error) {
	band = band.Intersect(gray.Bounds())
	if band.Empty() {
		return nil, nil
	}

	// Copy the band into a tightly packed buffer for the Mat
	w, h := band.Dx(), band.Dy()
	buf := make([]byte, w*h)
	for y := 0; y < h; y++ {
		off := gray.PixOffset(band.Min.X, band.Min.Y+y)
		copy(buf[y*w:(y+1)*w], gray.Pix[off:off+w])
	}

	src, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC1, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create Mat: %v", err)
	}
	defer src.Close()

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(src, &edges, d.CannyLow, d.CannyHigh)

	found := gocv.NewMat()
	defer found.Close()
	gocv.HoughLinesPWithParams(edges, &found, d.RhoStep, d.ThetaStep, d.VoteThreshold, d.MinLineLength, d.MaxGap)

	lines := make([]Line, 0, found.Rows())
	for i := 0; i < found.Rows(); i++ {
		v := found.GetVeciAt(i, 0)
		a := geometry.Pt(float64(v[0]+int32(band.Min.X)), float64(v[1]+int32(band.Min.Y)))
		b := geometry.Pt(float64(v[2]+int32(band.Min.X)), float64(v[3]+int32(band.Min.Y)))
		if b.X < a.X {
			a, b = b, a
		}
		seg := geometry.Seg(a, b)
		lines = append(lines, Line{Segment: seg, Votes: int(math.Round(seg.Length()))})
	}
	return lines, nil
}
