// Package session keeps the measurement state of one loaded image: the two
// reference lines, whether they were placed by hand, and the angle result
// derived from them.
//
// Every mutating call recomputes the result before it returns, so a caller
// never observes a result that disagrees with the current lines. A Session
// is not safe for concurrent use; batch processing gives each image its own.
package session

import (
	"errors"
	"fmt"
	"image"

	"pesplanus/pkg/angle"
	"pesplanus/pkg/extraction"
	"pesplanus/pkg/geometry"
	"pesplanus/pkg/landmark"
	"pesplanus/pkg/mask"
)

// Role identifies one of the two lines of a measurement.
type Role string

const (
	// RoleReference is the ground line (calcaneal inclination) or the talus
	// axis (Meary's angle).
	RoleReference Role = "reference"

	// RoleAxis is the calcaneus axis (calcaneal inclination) or the first
	// metatarsal axis (Meary's angle).
	RoleAxis Role = "axis"
)

// Label returns the anatomical name of the role's line in the given mode.
func (r Role) Label(mode angle.Mode) string {
	switch {
	case r == RoleReference && mode == angle.MearysAngle:
		return "Talus axis"
	case r == RoleReference:
		return "Ground line"
	case mode == angle.MearysAngle:
		return "First metatarsal axis"
	default:
		return "Calcaneus axis"
	}
}

var (
	// ErrUnknownRole is returned for a role other than RoleReference and
	// RoleAxis.
	ErrUnknownRole = errors.New("unknown line role")

	// ErrAutoUnsupported is returned by RunAutoAnalysis in modes whose lines
	// cannot be derived from a single bone mask.
	ErrAutoUnsupported = errors.New("automatic analysis not supported for this mode")
)

// Options configures a session.
type Options struct {
	Mode angle.Mode

	// Thresholds per mode. Modes without an entry use
	// angle.DefaultThresholds.
	Thresholds map[angle.Mode]angle.Thresholds

	// Engine infers lines during automatic analysis. Nil uses an engine with
	// landmark.DefaultConfig.
	Engine *landmark.Engine

	// VirtualGround replaces an undetectable ground line with a horizontal
	// line at the heel during automatic analysis.
	VirtualGround bool

	// Epsilon is the degeneracy threshold for manual lines. Zero uses
	// geometry.DefaultEpsilon.
	Epsilon float64
}

// AutoInfo describes how the last automatic analysis derived its lines.
type AutoInfo struct {
	// Keypoints are the heel and anterior keypoints of the bone, when they
	// were computed.
	Keypoints *extraction.Keypoints

	// VirtualGround reports that the ground line is the virtual heel line
	// because no ground line was detected.
	VirtualGround bool

	// Components is the number of foreground regions in the mask.
	Components int
}

// Session is the measurement state of one image.
type Session struct {
	opts   Options
	width  int
	height int

	mask   *mask.Mask
	lines  map[Role]geometry.LineSegment
	manual bool
	auto   *AutoInfo
	result *angle.Result
}

// New creates a session for an image of the given size.
func New(width, height int, opts Options) (*Session, error) {
	if opts.Mode == "" {
		opts.Mode = angle.CalcanealInclination
	}
	if _, err := angle.ParseMode(string(opts.Mode)); err != nil {
		return nil, err
	}
	for mode, table := range opts.Thresholds {
		if err := table.Validate(); err != nil {
			return nil, fmt.Errorf("%s thresholds: %w", mode, err)
		}
	}
	if opts.Engine == nil {
		e, err := landmark.NewEngine(landmark.DefaultConfig())
		if err != nil {
			return nil, err
		}
		opts.Engine = e
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = geometry.DefaultEpsilon
	}

	s := &Session{opts: opts}
	s.Load(width, height)
	return s, nil
}

// Load resets the session for a newly loaded image: lines, mask, override
// flag and result are all cleared.
func (s *Session) Load(width, height int) {
	s.width, s.height = width, height
	s.reset()
	s.mask = nil
}

func (s *Session) reset() {
	s.lines = make(map[Role]geometry.LineSegment, 2)
	s.manual = false
	s.auto = nil
	s.result = nil
}

// Size returns the dimensions of the loaded image.
func (s *Session) Size() (width, height int) { return s.width, s.height }

// Mode returns the measurement mode.
func (s *Session) Mode() angle.Mode { return s.opts.Mode }

// SetMode switches the measurement mode. Lines placed for one angle mean
// something else in the other, so switching clears them.
func (s *Session) SetMode(mode angle.Mode) error {
	if _, err := angle.ParseMode(string(mode)); err != nil {
		return err
	}
	if mode == s.opts.Mode {
		return nil
	}
	s.opts.Mode = mode
	s.reset()
	return nil
}

// Thresholds returns the classification table of the current mode.
func (s *Session) Thresholds() angle.Thresholds {
	if t, ok := s.opts.Thresholds[s.opts.Mode]; ok {
		return t
	}
	return angle.DefaultThresholds(s.opts.Mode)
}

// SetPoints places the line of role through a and b, replacing any previous
// line of that role, and marks the measurement as manually overridden.
// Coincident points fail with geometry.ErrInvalidGeometry and leave the
// session unchanged.
func (s *Session) SetPoints(role Role, a, b geometry.Point) error {
	if err := checkRole(role); err != nil {
		return err
	}
	line, err := geometry.NewLineSegment(a, b, s.opts.Epsilon)
	if err != nil {
		return fmt.Errorf("%s: %w", role, err)
	}

	s.lines[role] = line
	s.manual = true
	s.recompute()
	return nil
}

// SetPoint moves endpoint index (0 for A, 1 for B) of an existing line, as
// when dragging a handle. It follows the same rules as SetPoints.
func (s *Session) SetPoint(role Role, index int, p geometry.Point) error {
	if err := checkRole(role); err != nil {
		return err
	}
	line, ok := s.lines[role]
	if !ok {
		return fmt.Errorf("%s: no line to edit", role)
	}
	switch index {
	case 0:
		return s.SetPoints(role, p, line.B)
	case 1:
		return s.SetPoints(role, line.A, p)
	}
	return fmt.Errorf("%s: endpoint index %d out of range", role, index)
}

// ClearLine removes the line of role. The result is cleared with it.
func (s *Session) ClearLine(role Role) error {
	if err := checkRole(role); err != nil {
		return err
	}
	delete(s.lines, role)
	s.recompute()
	return nil
}

// RunAutoAnalysis derives both lines from the bone mask m and the image img
// and recomputes the result. The ground line is detected in img, or in the
// mask itself when img is nil. Both lines are replaced and the manual
// override is cleared.
//
// On failure the session is left exactly as it was and the error is returned
// for the caller to report.
func (s *Session) RunAutoAnalysis(m *mask.Mask, img image.Image) error {
	if s.opts.Mode != angle.CalcanealInclination {
		return fmt.Errorf("%w: %s", ErrAutoUnsupported, s.opts.Mode.Title())
	}
	e := s.opts.Engine

	axis, err := e.InferBoneAxis(m)
	if err != nil {
		return fmt.Errorf("bone axis: %w", err)
	}

	info := &AutoInfo{}
	if r, err := extraction.ExtractRegion(m); err == nil {
		info.Components = r.Components
	}
	if k, err := e.Keypoints(m); err == nil {
		info.Keypoints = &k
	}

	src := img
	if src == nil {
		src = m
	}
	ground, err := e.InferGroundLine(src)
	if errors.Is(err, landmark.ErrNoGroundLine) && s.opts.VirtualGround {
		ground, _, err = e.VirtualGround(m)
		info.VirtualGround = err == nil
	}
	if err != nil {
		return fmt.Errorf("ground line: %w", err)
	}

	// The engine may accept lines shorter than the session epsilon
	r, err := angle.Evaluate(s.opts.Mode, ground, axis, s.Thresholds(), s.opts.Epsilon)
	if err != nil {
		return fmt.Errorf("automatic lines: %w", err)
	}

	s.mask = m
	s.lines[RoleReference] = ground
	s.lines[RoleAxis] = axis
	s.manual = false
	s.auto = info
	s.result = &r
	return nil
}

// recompute refreshes the result from the current lines. Lines in the
// session are always valid, so only a missing line leaves it empty.
func (s *Session) recompute() {
	s.result = nil
	ref, okRef := s.lines[RoleReference]
	axis, okAxis := s.lines[RoleAxis]
	if !okRef || !okAxis {
		return
	}
	r, err := angle.Evaluate(s.opts.Mode, ref, axis, s.Thresholds(), s.opts.Epsilon)
	if err != nil {
		return
	}
	s.result = &r
}

// Result returns a copy of the current measurement, or nil until both lines
// exist.
func (s *Session) Result() *angle.Result {
	if s.result == nil {
		return nil
	}
	r := *s.result
	return &r
}

// Line returns the line of role, if placed.
func (s *Session) Line(role Role) (geometry.LineSegment, bool) {
	l, ok := s.lines[role]
	return l, ok
}

// Lines returns copies of the reference and axis lines; nil when absent.
func (s *Session) Lines() (reference, axis *geometry.LineSegment) {
	if l, ok := s.lines[RoleReference]; ok {
		reference = &l
	}
	if l, ok := s.lines[RoleAxis]; ok {
		axis = &l
	}
	return reference, axis
}

// IsManualOverride reports whether any line was placed or edited by hand
// since the last automatic analysis.
func (s *Session) IsManualOverride() bool { return s.manual }

// Mask returns the mask used by the last successful automatic analysis.
func (s *Session) Mask() *mask.Mask { return s.mask }

// AutoInfo returns details of the last successful automatic analysis, or
// nil if the lines were never inferred.
func (s *Session) AutoInfo() *AutoInfo {
	if s.auto == nil {
		return nil
	}
	info := *s.auto
	return &info
}

func checkRole(role Role) error {
	if role != RoleReference && role != RoleAxis {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return nil
}
