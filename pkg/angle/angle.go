// Package angle computes the clinical foot angles between two line segments
// and maps the result to a diagnostic category.
package angle

import (
	"fmt"
	"math"
	"strings"

	"pesplanus/pkg/geometry"
)

// Mode selects which clinical angle is being measured.
type Mode string

const (
	// CalcanealInclination is the angle between the ground line and the
	// calcaneus long axis.
	CalcanealInclination Mode = "calcaneal"

	// MearysAngle is the angle between the talus axis and the first
	// metatarsal axis.
	MearysAngle Mode = "mearys"
)

// Modes lists the supported measurement modes.
var Modes = []Mode{CalcanealInclination, MearysAngle}

// ParseMode accepts the mode names used in configuration files and on the
// command line.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "calcaneal", "calcaneal-inclination", "cia":
		return CalcanealInclination, nil
	case "mearys", "meary", "meary's", "talus-first-metatarsal":
		return MearysAngle, nil
	}
	return "", fmt.Errorf("unknown measurement mode %q", s)
}

// Title returns the human readable name of the mode.
func (m Mode) Title() string {
	switch m {
	case CalcanealInclination:
		return "Calcaneal Inclination Angle"
	case MearysAngle:
		return "Meary's Angle"
	}
	return string(m)
}

// Compute returns the unsigned angle in degrees between the direction
// vectors of a and b, in [0, 180).
//
// The angle is taken as atan2(|cross|, dot), which stays well conditioned
// for nearly parallel and antiparallel lines where acos(dot) loses
// precision. Segments shorter than eps fail with geometry.ErrInvalidGeometry;
// eps <= 0 uses geometry.DefaultEpsilon.
func Compute(a, b geometry.LineSegment, eps float64) (float64, error) {
	if err := a.Validate(eps); err != nil {
		return 0, fmt.Errorf("line a: %w", err)
	}
	if err := b.Validate(eps); err != nil {
		return 0, fmt.Errorf("line b: %w", err)
	}

	u, v := a.Direction(), b.Direction()
	deg := math.Atan2(math.Abs(u.Cross(v)), u.Dot(v)) * 180 / math.Pi
	return normalize(deg), nil
}

// Measure computes the clinical value of the angle between a and b for the
// given mode: the acute angle at which the two lines meet, in [0, 90].
//
// For the calcaneal inclination this is the one-sided angle between the
// ground and the bone axis. For Meary's angle it is the deviation of the
// talus and first metatarsal axes from a straight line, so two collinear
// axes drawn in opposite directions still read 0.
func Measure(mode Mode, a, b geometry.LineSegment, eps float64) (float64, error) {
	deg, err := Compute(a, b, eps)
	if err != nil {
		return 0, err
	}
	switch mode {
	case CalcanealInclination, MearysAngle:
		return math.Min(deg, 180-deg), nil
	}
	return 0, fmt.Errorf("unknown measurement mode %q", mode)
}

// normalize maps deg into [0, 180).
func normalize(deg float64) float64 {
	deg = math.Mod(deg, 180)
	if deg < 0 {
		deg += 180
	}
	if deg >= 180 {
		deg = 0
	}
	return deg
}
