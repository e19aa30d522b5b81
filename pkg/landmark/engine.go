// Package landmark derives the two reference lines of a foot angle
// measurement: the ground (or talus) line and the bone axis. Lines come
// either from manually placed points, used verbatim, or from automatic
// inference over the X-ray image and the bone segmentation mask.
package landmark

import (
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"pesplanus/pkg/extraction"
	"pesplanus/pkg/geometry"
	"pesplanus/pkg/mask"
)

// ErrNoGroundLine is returned when automatic detection finds no
// near-horizontal line in the search band. Callers should ask for a manually
// placed ground line.
var ErrNoGroundLine = errors.New("no ground line found")

// Engine infers measurement lines. It holds no per-image state and is safe
// for concurrent use as long as its detector is.
type Engine struct {
	cfg      Config
	detector LineDetector
}

// NewEngine validates cfg and resolves its line detector.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid landmark config: %w", err)
	}
	det, err := DetectorByName(cfg.Detector, cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, detector: det}, nil
}

// NewEngineWithDetector is NewEngine with an explicit detector.
func NewEngineWithDetector(cfg Config, det LineDetector) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid landmark config: %w", err)
	}
	if det == nil {
		return nil, errors.New("nil line detector")
	}
	return &Engine{cfg: cfg, detector: det}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// InferGroundLine returns the ground line of a lateral foot image.
//
// Two reference points are used verbatim. A single point yields a horizontal
// line through it across the image. Without points the line is detected
// automatically in the configured band, see DetectGroundLine.
func (e *Engine) InferGroundLine(img image.Image, reference ...geometry.Point) (geometry.LineSegment, error) {
	switch len(reference) {
	case 0:
		return e.DetectGroundLine(img)
	case 1:
		if img == nil {
			return geometry.LineSegment{}, fmt.Errorf("%w: a single ground point needs the image width", geometry.ErrInvalidGeometry)
		}
		b := img.Bounds()
		y := reference[0].Y
		return geometry.NewLineSegment(geometry.Pt(float64(b.Min.X), y), geometry.Pt(float64(b.Max.X), y), e.cfg.Epsilon)
	case 2:
		return geometry.NewLineSegment(reference[0], reference[1], e.cfg.Epsilon)
	}
	return geometry.LineSegment{}, fmt.Errorf("%w: expected at most 2 ground points, got %d", geometry.ErrInvalidGeometry, len(reference))
}

// DetectGroundLine runs the line detector over the search band and returns
// the longest candidate tilted strictly less than MaxTiltDegrees from the
// horizontal and at least MinLineLength long. Candidates within two pixels
// of the same length are ranked by smaller tilt, then more votes, then the
// line lower in the image.
func (e *Engine) DetectGroundLine(img image.Image) (geometry.LineSegment, error) {
	if img == nil || img.Bounds().Empty() {
		return geometry.LineSegment{}, fmt.Errorf("%w: no image", ErrNoGroundLine)
	}

	gray := toGray(img)
	band := e.Band(gray.Bounds())
	lines, err := e.detector.DetectLines(gray, band)
	if err != nil {
		return geometry.LineSegment{}, fmt.Errorf("ground line detection: %w", err)
	}

	best, ok := e.selectGround(lines)
	if !ok {
		return geometry.LineSegment{}, fmt.Errorf("%w: %d candidates in rows %d-%d, none near-horizontal and at least %.0f px",
			ErrNoGroundLine, len(lines), band.Min.Y, band.Max.Y, e.cfg.MinLineLength)
	}
	return best.Segment, nil
}

// Band returns the ground-line search band for an image with the given
// bounds.
func (e *Engine) Band(b image.Rectangle) image.Rectangle {
	h := float64(b.Dy())
	y0 := b.Min.Y + int(math.Floor(e.cfg.BandStart*h+1e-9))
	y1 := b.Min.Y + int(math.Ceil(e.cfg.BandEnd*h-1e-9))
	return image.Rect(b.Min.X, y0, b.Max.X, y1).Intersect(b)
}

func (e *Engine) selectGround(lines []Line) (Line, bool) {
	var best Line
	found := false
	for _, l := range lines {
		if l.Segment.Validate(e.cfg.Epsilon) != nil {
			continue
		}
		if l.Segment.Length() < e.cfg.MinLineLength || l.Segment.TiltDegrees() >= e.cfg.MaxTiltDegrees {
			continue
		}
		if !found || betterGround(l, best) {
			best, found = l, true
		}
	}
	return best, found
}

// lengthTolerance is the length difference, in pixels, below which two
// ground candidates count as equally long. A thick edge is matched by lines
// at several nearby tilts whose lengths differ only by a fraction of a
// pixel.
const lengthTolerance = 2.0

func betterGround(a, b Line) bool {
	la, lb := a.Segment.Length(), b.Segment.Length()
	if math.Abs(la-lb) > lengthTolerance {
		return la > lb
	}
	ta, tb := a.Segment.TiltDegrees(), b.Segment.TiltDegrees()
	if math.Abs(ta-tb) > 1e-9 {
		return ta < tb
	}
	if a.Votes != b.Votes {
		return a.Votes > b.Votes
	}
	return a.Segment.Midpoint().Y > b.Segment.Midpoint().Y
}

// InferBoneAxis returns the long axis of the bone in m. Two reference points
// are used verbatim; without points the axis is derived from the mask with
// the configured AxisMethod.
func (e *Engine) InferBoneAxis(m *mask.Mask, reference ...geometry.Point) (geometry.LineSegment, error) {
	switch len(reference) {
	case 0:
		return e.BoneAxis(m)
	case 2:
		return geometry.NewLineSegment(reference[0], reference[1], e.cfg.Epsilon)
	}
	return geometry.LineSegment{}, fmt.Errorf("%w: a bone axis needs 0 or 2 points, got %d", geometry.ErrInvalidGeometry, len(reference))
}

// BoneAxis derives the bone axis from the primary region of m.
func (e *Engine) BoneAxis(m *mask.Mask) (geometry.LineSegment, error) {
	c, err := e.Contour(m)
	if err != nil {
		return geometry.LineSegment{}, err
	}

	switch e.cfg.AxisMethod {
	case AxisInferiorTangent:
		k, err := extraction.InferiorKeypoints(c)
		if err != nil {
			return geometry.LineSegment{}, err
		}
		return k.InferiorTangent(), nil
	default:
		return extraction.ExtractAxis(c, e.cfg.MinAspectRatio)
	}
}

// Contour cleans m with the configured opening and returns the contour of
// its primary region. When the opening erases a small mask entirely, the
// raw mask is used instead.
func (e *Engine) Contour(m *mask.Mask) (geometry.Contour, error) {
	if m == nil {
		return nil, extraction.ErrEmptyMask
	}
	src := m
	if e.cfg.OpenKernel > 1 {
		if opened := m.Open(e.cfg.OpenKernel); !opened.IsEmpty() {
			src = opened
		}
	}
	return extraction.ExtractContour(src)
}

// Keypoints returns the inferior keypoints of the bone in m.
func (e *Engine) Keypoints(m *mask.Mask) (extraction.Keypoints, error) {
	c, err := e.Contour(m)
	if err != nil {
		return extraction.Keypoints{}, err
	}
	return extraction.InferiorKeypoints(c)
}

// VirtualGround builds a horizontal ground line at the level of the heel,
// running VirtualGroundLength pixels from the heel toward the toes and
// clamped to the mask width. It stands in for the ground when none can be
// detected.
func (e *Engine) VirtualGround(m *mask.Mask) (geometry.LineSegment, extraction.Keypoints, error) {
	k, err := e.Keypoints(m)
	if err != nil {
		return geometry.LineSegment{}, extraction.Keypoints{}, err
	}

	endX := k.Heel.X - e.cfg.VirtualGroundLength
	if k.HeelIsLeft {
		endX = k.Heel.X + e.cfg.VirtualGroundLength
	}
	endX = math.Max(0, math.Min(float64(m.Width()), endX))

	line, err := geometry.NewLineSegment(k.Heel, geometry.Pt(endX, k.Heel.Y), e.cfg.Epsilon)
	if err != nil {
		return geometry.LineSegment{}, k, fmt.Errorf("%w: heel at the image border", ErrNoGroundLine)
	}
	return line, k, nil
}

// toGray returns img as an 8-bit grayscale image with the same bounds.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	if m, ok := img.(*mask.Mask); ok {
		return m.ToGray()
	}
	b := img.Bounds()
	g := image.NewGray(b)
	draw.Draw(g, b, img, b.Min, draw.Src)
	return g
}
