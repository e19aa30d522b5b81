// Package analysis runs the complete measurement of a single radiograph:
// loading, segmentation, landmark inference, angle and diagnosis.
package analysis

import (
	"errors"
	"fmt"
	"image"

	"pesplanus/pkg/angle"
	"pesplanus/pkg/extraction"
	"pesplanus/pkg/geometry"
	"pesplanus/pkg/imaging"
	"pesplanus/pkg/landmark"
	"pesplanus/pkg/mask"
	"pesplanus/pkg/segmentation"
	"pesplanus/pkg/session"
)

// Options configures an Analyzer.
type Options struct {
	// Mode is the measured angle.
	Mode angle.Mode

	// Thresholds per mode; missing modes use angle.DefaultThresholds.
	Thresholds map[angle.Mode]angle.Thresholds

	// Engine infers the lines. Nil uses landmark.DefaultConfig.
	Engine *landmark.Engine

	// Segmenter produces the bone mask. Nil uses an OtsuSegmenter.
	Segmenter segmentation.Segmenter

	// VirtualGround falls back to a horizontal line at the heel when no
	// ground line is detected.
	VirtualGround bool

	// Epsilon is the degeneracy threshold for lines.
	Epsilon float64
}

// Outcome is the result of analysing one image.
type Outcome struct {
	Result angle.Result

	// Heel is the heel keypoint of the bone, when found.
	Heel *geometry.Point

	// VirtualGround reports that the ground line is the virtual heel line.
	VirtualGround bool

	// Manual reports that the lines were supplied by the caller.
	Manual bool

	// Image and Mask are the analysed inputs.
	Image *image.Gray
	Mask  *mask.Mask

	// Metadata is set by AnalyzeFile.
	Metadata imaging.Metadata
}

// Analyzer measures radiographs. It holds no per-image state; every call
// works on its own session, so one Analyzer can serve many goroutines.
type Analyzer struct {
	opts Options
}

// New creates an Analyzer, filling defaults for nil collaborators.
func New(opts Options) (*Analyzer, error) {
	if opts.Mode == "" {
		opts.Mode = angle.CalcanealInclination
	}
	if opts.Engine == nil {
		e, err := landmark.NewEngine(landmark.DefaultConfig())
		if err != nil {
			return nil, err
		}
		opts.Engine = e
	}
	if opts.Segmenter == nil {
		opts.Segmenter = segmentation.OtsuSegmenter{OpenKernel: opts.Engine.Config().OpenKernel}
	}

	a := &Analyzer{opts: opts}
	// Validate mode and thresholds once up front
	if _, err := a.NewSession(1, 1); err != nil {
		return nil, err
	}
	return a, nil
}

// Mode returns the measured angle.
func (a *Analyzer) Mode() angle.Mode { return a.opts.Mode }

// NewSession creates a measurement session configured like the analyzer.
func (a *Analyzer) NewSession(width, height int) (*session.Session, error) {
	return session.New(width, height, session.Options{
		Mode:          a.opts.Mode,
		Thresholds:    a.opts.Thresholds,
		Engine:        a.opts.Engine,
		VirtualGround: a.opts.VirtualGround,
		Epsilon:       a.opts.Epsilon,
	})
}

// AnalyzeFile loads an image file, segments it and measures it. A
// segmenter that implements segmentation.FileSegmenter is given the path.
func (a *Analyzer) AnalyzeFile(path string) (*Outcome, error) {
	img, meta, err := imaging.Load(path)
	if err != nil {
		return nil, err
	}

	var m *mask.Mask
	if fs, ok := a.opts.Segmenter.(segmentation.FileSegmenter); ok {
		m, err = fs.SegmentFile(path, img)
	} else {
		m, err = a.opts.Segmenter.Segment(img)
	}
	if err != nil {
		return nil, fmt.Errorf("segmentation: %w", err)
	}

	out, err := a.AnalyzeMask(m, img)
	if err != nil {
		return nil, err
	}
	out.Metadata = meta
	return out, nil
}

// AnalyzeImage segments img and measures it.
func (a *Analyzer) AnalyzeImage(img image.Image) (*Outcome, error) {
	m, err := a.opts.Segmenter.Segment(img)
	if err != nil {
		return nil, fmt.Errorf("segmentation: %w", err)
	}
	return a.AnalyzeMask(m, img)
}

// AnalyzeMask measures a precomputed bone mask. img is searched for the
// ground line; when nil the mask itself is searched.
func (a *Analyzer) AnalyzeMask(m *mask.Mask, img image.Image) (*Outcome, error) {
	if m == nil {
		return nil, extraction.ErrEmptyMask
	}
	s, err := a.NewSession(m.Width(), m.Height())
	if err != nil {
		return nil, err
	}
	if err := s.RunAutoAnalysis(m, img); err != nil {
		return nil, err
	}

	r := s.Result()
	if r == nil {
		return nil, fmt.Errorf("%w: lines do not define an angle", geometry.ErrInvalidGeometry)
	}
	out := &Outcome{Result: *r, Mask: m}
	if info := s.AutoInfo(); info != nil {
		out.VirtualGround = info.VirtualGround
		if info.Keypoints != nil {
			heel := info.Keypoints.Heel
			out.Heel = &heel
		}
	}
	if img != nil {
		out.Image = imaging.ToGray(img)
	}
	return out, nil
}

// Measure evaluates manually placed lines. Ground may stand for the talus
// axis and axis for the first metatarsal axis in Meary's mode.
func (a *Analyzer) Measure(width, height int, reference, axis geometry.LineSegment) (*Outcome, error) {
	s, err := a.NewSession(width, height)
	if err != nil {
		return nil, err
	}
	if err := s.SetPoints(session.RoleReference, reference.A, reference.B); err != nil {
		return nil, err
	}
	if err := s.SetPoints(session.RoleAxis, axis.A, axis.B); err != nil {
		return nil, err
	}
	r := s.Result()
	if r == nil {
		return nil, fmt.Errorf("%w: lines do not define an angle", geometry.ErrInvalidGeometry)
	}
	return &Outcome{Result: *r, Manual: true}, nil
}

// AnalyzeFileWithLines measures an image file with manually placed lines.
// Points are interpreted like landmark.Engine.InferGroundLine and
// InferBoneAxis (a single ground point gives a horizontal ground line); a
// role given no points is inferred as in AnalyzeFile. Without any points
// this is AnalyzeFile.
func (a *Analyzer) AnalyzeFileWithLines(path string, reference, axis []geometry.Point) (*Outcome, error) {
	if len(reference) == 0 && len(axis) == 0 {
		return a.AnalyzeFile(path)
	}
	img, meta, err := imaging.Load(path)
	if err != nil {
		return nil, err
	}

	e := a.opts.Engine
	out := &Outcome{Manual: true, Image: img, Metadata: meta}

	if len(axis) == 0 || len(reference) == 0 {
		var m *mask.Mask
		if fs, ok := a.opts.Segmenter.(segmentation.FileSegmenter); ok {
			m, err = fs.SegmentFile(path, img)
		} else {
			m, err = a.opts.Segmenter.Segment(img)
		}
		if err != nil {
			return nil, fmt.Errorf("segmentation: %w", err)
		}
		out.Mask = m
		if k, err := e.Keypoints(m); err == nil {
			heel := k.Heel
			out.Heel = &heel
		}
	}

	axisLine, err := e.InferBoneAxis(out.Mask, axis...)
	if err != nil {
		return nil, fmt.Errorf("bone axis: %w", err)
	}
	refLine, err := e.InferGroundLine(img, reference...)
	if errors.Is(err, landmark.ErrNoGroundLine) && a.opts.VirtualGround && out.Mask != nil {
		refLine, _, err = e.VirtualGround(out.Mask)
		out.VirtualGround = err == nil
	}
	if err != nil {
		return nil, fmt.Errorf("ground line: %w", err)
	}

	s, err := a.NewSession(img.Bounds().Dx(), img.Bounds().Dy())
	if err != nil {
		return nil, err
	}
	if err := s.SetPoints(session.RoleReference, refLine.A, refLine.B); err != nil {
		return nil, err
	}
	if err := s.SetPoints(session.RoleAxis, axisLine.A, axisLine.B); err != nil {
		return nil, err
	}
	r := s.Result()
	if r == nil {
		return nil, fmt.Errorf("%w: lines do not define an angle", geometry.ErrInvalidGeometry)
	}
	out.Result = *r
	return out, nil
}

// UserMessage turns a measurement error into an actionable message.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, extraction.ErrEmptyMask):
		return "Could not locate the bone: the segmentation found no bone region."
	case errors.Is(err, extraction.ErrDegenerateContour):
		return "Could not locate the bone: the detected region is too round to define an axis."
	case errors.Is(err, landmark.ErrNoGroundLine):
		return "Ground line not detected: place it manually."
	case errors.Is(err, geometry.ErrInvalidGeometry):
		return "Invalid line: the two points must not coincide."
	case errors.Is(err, segmentation.ErrNoMask):
		return "No segmentation mask available for this image."
	case errors.Is(err, session.ErrAutoUnsupported):
		return "Automatic analysis is only available for the calcaneal inclination angle: place both axes manually."
	}
	return err.Error()
}
