package landmark

import (
	"fmt"
	"image"
	"sort"
	"sync"

	"pesplanus/pkg/geometry"
)

// Line is a straight line segment found by a LineDetector.
type Line struct {
	Segment geometry.LineSegment

	// Votes is the number of edge pixels supporting the segment.
	Votes int
}

// LineDetector finds straight line segments in the rows of gray covered by
// band. Returned coordinates are in gray's coordinate space.
type LineDetector interface {
	DetectLines(gray *image.Gray, band image.Rectangle) ([]Line, error)
}

// DetectorFactory builds a detector from the engine configuration.
type DetectorFactory func(cfg Config) LineDetector

// DetectorHough names the built-in pure Go Hough detector.
const DetectorHough = "hough"

var (
	detectorsMu sync.RWMutex
	detectors   = map[string]DetectorFactory{
		DetectorHough: func(cfg Config) LineDetector { return NewHoughDetector(cfg) },
	}
)

// RegisterDetector makes a detector available by name. It replaces any
// previous registration under the same name.
func RegisterDetector(name string, factory DetectorFactory) {
	detectorsMu.Lock()
	defer detectorsMu.Unlock()
	detectors[name] = factory
}

// DetectorByName builds the named detector. An empty name selects the Hough
// detector.
func DetectorByName(name string, cfg Config) (LineDetector, error) {
	if name == "" {
		name = DetectorHough
	}
	detectorsMu.RLock()
	factory, ok := detectors[name]
	detectorsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown line detector %q (available: %v)", name, DetectorNames())
	}
	return factory(cfg), nil
}

// DetectorNames lists the registered detectors in sorted order.
func DetectorNames() []string {
	detectorsMu.RLock()
	defer detectorsMu.RUnlock()
	names := make([]string, 0, len(detectors))
	for name := range detectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
