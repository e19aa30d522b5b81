package landmark

import (
	"fmt"
	"strings"

	"pesplanus/pkg/extraction"
	"pesplanus/pkg/geometry"
)

// AxisMethod selects how the bone axis is derived from the bone contour.
type AxisMethod string

const (
	// AxisMoments uses the principal axis of the region's area moments.
	AxisMoments AxisMethod = "moments"

	// AxisInferiorTangent uses the line from the heel to the
	// anterior-inferior corner of the calcaneus.
	AxisInferiorTangent AxisMethod = "inferior-tangent"
)

// ParseAxisMethod validates an axis method name. An empty name selects
// AxisMoments.
func ParseAxisMethod(s string) (AxisMethod, error) {
	switch AxisMethod(strings.ToLower(strings.TrimSpace(s))) {
	case "", AxisMoments:
		return AxisMoments, nil
	case AxisInferiorTangent, "tangent":
		return AxisInferiorTangent, nil
	}
	return "", fmt.Errorf("unknown axis method %q", s)
}

// Config holds the tunable parameters of the inference engine.
type Config struct {
	// BandStart and BandEnd bound the ground-line search band as fractions
	// of the image height, measured from the top.
	BandStart float64
	BandEnd   float64

	// MaxTiltDegrees is the largest accepted angle between a ground line
	// candidate and the horizontal. Candidates must be strictly below it.
	MaxTiltDegrees float64

	// Hough accumulator resolution.
	ThetaStepDegrees float64
	RhoStep          float64

	// VoteThreshold is the minimum number of edge pixels supporting a line.
	VoteThreshold int

	// EdgeThreshold is the fraction of the strongest gradient a pixel needs
	// to count as an edge.
	EdgeThreshold float64

	// MinLineLength is the shortest accepted ground line in pixels.
	MinLineLength float64

	// MaxGap is the largest run of missing edge pixels bridged inside one
	// segment.
	MaxGap float64

	// OpenKernel is the size of the square opening applied to a mask before
	// contour extraction. Values below 2 disable it.
	OpenKernel int

	// MinAspectRatio gates ExtractAxis.
	MinAspectRatio float64

	AxisMethod AxisMethod

	// VirtualGroundLength is the length of the virtual ground line drawn
	// from the heel toward the toes.
	VirtualGroundLength float64

	// Detector names the registered LineDetector used for automatic ground
	// detection.
	Detector string

	// Epsilon is the degeneracy threshold for line segments.
	Epsilon float64
}

// DefaultConfig returns the default engine parameters.
func DefaultConfig() Config {
	return Config{
		BandStart:           2.0 / 3.0,
		BandEnd:             1.0,
		MaxTiltDegrees:      15,
		ThetaStepDegrees:    0.5,
		RhoStep:             1,
		VoteThreshold:       20,
		EdgeThreshold:       0.25,
		MinLineLength:       30,
		MaxGap:              5,
		OpenKernel:          5,
		MinAspectRatio:      extraction.DefaultMinAspectRatio,
		AxisMethod:          AxisMoments,
		VirtualGroundLength: 250,
		Detector:            DetectorHough,
		Epsilon:             geometry.DefaultEpsilon,
	}
}

// Validate reports the first out-of-range parameter.
func (c Config) Validate() error {
	switch {
	case c.BandStart < 0 || c.BandEnd > 1 || c.BandStart >= c.BandEnd:
		return fmt.Errorf("search band [%g, %g] must satisfy 0 <= start < end <= 1", c.BandStart, c.BandEnd)
	case c.MaxTiltDegrees <= 0 || c.MaxTiltDegrees >= 90:
		return fmt.Errorf("max tilt %g must be in (0, 90)", c.MaxTiltDegrees)
	case c.ThetaStepDegrees <= 0 || c.ThetaStepDegrees > c.MaxTiltDegrees:
		return fmt.Errorf("theta step %g must be in (0, max tilt]", c.ThetaStepDegrees)
	case c.RhoStep <= 0:
		return fmt.Errorf("rho step %g must be positive", c.RhoStep)
	case c.VoteThreshold < 1:
		return fmt.Errorf("vote threshold %d must be at least 1", c.VoteThreshold)
	case c.EdgeThreshold <= 0 || c.EdgeThreshold > 1:
		return fmt.Errorf("edge threshold %g must be in (0, 1]", c.EdgeThreshold)
	case c.MinLineLength < 0 || c.MaxGap < 0:
		return fmt.Errorf("line length and gap must not be negative")
	case c.MinAspectRatio < 0:
		return fmt.Errorf("minimum aspect ratio %g must not be negative", c.MinAspectRatio)
	case c.VirtualGroundLength <= 0:
		return fmt.Errorf("virtual ground length %g must be positive", c.VirtualGroundLength)
	case c.Epsilon < 0:
		return fmt.Errorf("epsilon %g must not be negative", c.Epsilon)
	}
	if _, err := ParseAxisMethod(string(c.AxisMethod)); err != nil {
		return err
	}
	return nil
}
