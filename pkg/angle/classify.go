package angle

import (
	"errors"
	"fmt"
	"math"

	"pesplanus/pkg/geometry"
)

// Diagnosis is the deformity category assigned to a measured angle.
type Diagnosis string

const (
	PesPlanus       Diagnosis = "pes_planus"
	Borderline      Diagnosis = "borderline"
	Normal          Diagnosis = "normal"
	PesCavus        Diagnosis = "pes_cavus"
	MildPesPlanus   Diagnosis = "mild_pes_planus"
	SeverePesPlanus Diagnosis = "severe_pes_planus"
	Deformity       Diagnosis = "deformity"
)

var labels = map[Diagnosis]string{
	PesPlanus:       "Pes Planus",
	Borderline:      "Borderline",
	Normal:          "Normal",
	PesCavus:        "Pes Cavus",
	MildPesPlanus:   "Mild Pes Planus",
	SeverePesPlanus: "Severe Pes Planus",
	Deformity:       "Deformity",
}

// Label returns the report label of the category.
func (d Diagnosis) Label() string {
	if l, ok := labels[d]; ok {
		return l
	}
	return string(d)
}

// Valid reports whether d is a known category.
func (d Diagnosis) Valid() bool {
	_, ok := labels[d]
	return ok
}

// Band assigns Category to every angle from From up to the next band's
// From. The lower bound is inclusive.
type Band struct {
	From     float64   `yaml:"from"`
	Category Diagnosis `yaml:"category"`
}

// Thresholds is an ordered table of bands. The first band also covers every
// angle below its From, so the table partitions the whole real line: each
// angle falls in exactly one band.
type Thresholds []Band

// ErrInvalidThresholds is returned by Validate for malformed tables.
var ErrInvalidThresholds = errors.New("invalid threshold table")

// DefaultThresholds returns the default clinical cutoffs for a mode.
//
// Calcaneal inclination: below 20 degrees Pes Planus, 20 up to 30 Normal,
// 30 and above Pes Cavus.
//
// Meary's angle: below 4 degrees Normal, 4 up to 15 mild Pes Planus, 15 up
// to 30 severe Pes Planus, 30 and above a deformity.
func DefaultThresholds(mode Mode) Thresholds {
	switch mode {
	case MearysAngle:
		return Thresholds{
			{From: 0, Category: Normal},
			{From: 4, Category: MildPesPlanus},
			{From: 15, Category: SeverePesPlanus},
			{From: 30, Category: Deformity},
		}
	default:
		return Thresholds{
			{From: 0, Category: PesPlanus},
			{From: 20, Category: Normal},
			{From: 30, Category: PesCavus},
		}
	}
}

// Validate checks that the table is non-empty, strictly increasing and only
// names known categories.
func (t Thresholds) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("%w: no bands", ErrInvalidThresholds)
	}
	for i, b := range t {
		if math.IsNaN(b.From) || math.IsInf(b.From, 0) {
			return fmt.Errorf("%w: band %d has non-finite bound", ErrInvalidThresholds, i)
		}
		if !b.Category.Valid() {
			return fmt.Errorf("%w: band %d has unknown category %q", ErrInvalidThresholds, i, b.Category)
		}
		if i > 0 && b.From <= t[i-1].From {
			return fmt.Errorf("%w: band %d starts at %g, not above %g",
				ErrInvalidThresholds, i, b.From, t[i-1].From)
		}
	}
	return nil
}

// Classify returns the category of the band containing deg. The table must
// be valid; an empty table yields "".
func (t Thresholds) Classify(deg float64) Diagnosis {
	if len(t) == 0 {
		return ""
	}
	d := t[0].Category
	for _, b := range t[1:] {
		if deg < b.From {
			break
		}
		d = b.Category
	}
	return d
}

// Result is a complete angle measurement.
type Result struct {
	AngleDegrees float64              `json:"angle_degrees"`
	Diagnosis    Diagnosis            `json:"diagnosis"`
	LineA        geometry.LineSegment `json:"line_a"`
	LineB        geometry.LineSegment `json:"line_b"`
	Mode         Mode                 `json:"mode"`
}

func (r Result) String() string {
	return fmt.Sprintf("%s: %.1f° (%s)", r.Mode.Title(), r.AngleDegrees, r.Diagnosis.Label())
}

// Evaluate measures the angle between a and b for mode and classifies it
// with table. A nil table uses DefaultThresholds(mode).
func Evaluate(mode Mode, a, b geometry.LineSegment, table Thresholds, eps float64) (Result, error) {
	deg, err := Measure(mode, a, b, eps)
	if err != nil {
		return Result{}, err
	}
	if table == nil {
		table = DefaultThresholds(mode)
	}
	if err := table.Validate(); err != nil {
		return Result{}, err
	}
	return Result{
		AngleDegrees: deg,
		Diagnosis:    table.Classify(deg),
		LineA:        a,
		LineB:        b,
		Mode:         mode,
	}, nil
}
