package landmark

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"pesplanus/pkg/extraction"
	"pesplanus/pkg/geometry"
	"pesplanus/pkg/mask"
)

// createImage creates a black grayscale image of the given size
func createImage(width, height int) *image.Gray {
	return image.NewGray(image.Rect(0, 0, width, height))
}

// fillRect paints the half-open rectangle [x0,x1)x[y0,y1) white
func fillRect(img *image.Gray, x0, y0, x1, y1 int) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
}

// drawTiltedLine paints a 3 px thick line from (x0, y0) rising at tiltDeg
// toward larger x
func drawTiltedLine(img *image.Gray, x0, x1 int, y0, tiltDeg float64) {
	slope := math.Tan(tiltDeg * math.Pi / 180)
	for x := x0; x < x1; x++ {
		yc := int(math.Round(y0 - float64(x-x0)*slope))
		for y := yc - 1; y <= yc+1; y++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func TestInferGroundLineManual(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	img := createImage(200, 150)

	a, b := geometry.Pt(0, 90), geometry.Pt(200, 90)
	line, err := e.InferGroundLine(img, a, b)
	if err != nil {
		t.Fatalf("InferGroundLine failed: %v", err)
	}
	if line.A != a || line.B != b {
		t.Errorf("Manual points should be used verbatim, got %v", line)
	}

	// No detection runs for manual points, even without an image
	if _, err := e.InferGroundLine(nil, a, b); err != nil {
		t.Errorf("Manual ground line should not need an image, got %v", err)
	}

	p := geometry.Pt(10, 10)
	if _, err := e.InferGroundLine(img, p, p); !errors.Is(err, geometry.ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry for coincident points, got %v", err)
	}

	line, err = e.InferGroundLine(img, geometry.Pt(37, 120))
	if err != nil {
		t.Fatalf("InferGroundLine with one point failed: %v", err)
	}
	if line != geometry.Seg(geometry.Pt(0, 120), geometry.Pt(200, 120)) {
		t.Errorf("Expected horizontal line through the point across the image, got %v", line)
	}

	if _, err := e.InferGroundLine(img, a, b, p); !errors.Is(err, geometry.ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry for three points, got %v", err)
	}
}

func TestDetectGroundLineHorizontal(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	img := createImage(200, 150)
	fillRect(img, 40, 20, 160, 80)  // foot, above the band
	fillRect(img, 10, 120, 190, 123) // ground plate

	line, err := e.InferGroundLine(img)
	if err != nil {
		t.Fatalf("InferGroundLine failed: %v", err)
	}
	if tilt := line.TiltDegrees(); tilt > 1 {
		t.Errorf("Expected a horizontal line, got tilt %.2f", tilt)
	}
	if line.Length() < 170 {
		t.Errorf("Expected line length of at least 170, got %.1f", line.Length())
	}
	if y := line.Midpoint().Y; y < 118 || y > 124 {
		t.Errorf("Expected line near y=121, got %.1f", y)
	}
	if line.A.X > line.B.X {
		t.Errorf("Expected A to be the left endpoint, got %v", line)
	}
}

func TestDetectGroundLineTilted(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	img := createImage(300, 300)
	drawTiltedLine(img, 20, 280, 270, 8)

	line, err := e.DetectGroundLine(img)
	if err != nil {
		t.Fatalf("DetectGroundLine failed: %v", err)
	}
	if tilt := line.TiltDegrees(); math.Abs(tilt-8) > 1 {
		t.Errorf("Expected tilt near 8 degrees, got %.2f", tilt)
	}
	if line.Length() < 200 {
		t.Errorf("Expected line length of at least 200, got %.1f", line.Length())
	}
}

func TestDetectGroundLineChoosesLongest(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	img := createImage(200, 150)
	fillRect(img, 20, 108, 80, 111)
	fillRect(img, 20, 138, 170, 141)

	line, err := e.DetectGroundLine(img)
	if err != nil {
		t.Fatalf("DetectGroundLine failed: %v", err)
	}
	if y := line.Midpoint().Y; y < 136 || y > 143 {
		t.Errorf("Expected the longer line near y=139, got %v", line)
	}
}

func TestDetectGroundLineNotFound(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	tests := []struct {
		name  string
		build func() image.Image
	}{
		{"blank", func() image.Image { return createImage(200, 150) }},
		{"above band", func() image.Image {
			img := createImage(200, 150)
			fillRect(img, 10, 30, 190, 33)
			return img
		}},
		{"vertical and short", func() image.Image {
			img := createImage(200, 150)
			fillRect(img, 100, 100, 103, 150)
			fillRect(img, 50, 125, 70, 128)
			return img
		}},
		{"steep", func() image.Image {
			img := createImage(200, 150)
			for i := 0; i < 45; i++ {
				fillRect(img, 40+i, 104+i, 43+i, 107+i)
			}
			return img
		}},
		{"nil", func() image.Image { return nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.DetectGroundLine(tt.build())
			if !errors.Is(err, ErrNoGroundLine) {
				t.Errorf("Expected ErrNoGroundLine, got %v", err)
			}
		})
	}
}

func TestDetectGroundLineFromMask(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	m := mask.New(200, 150)
	m.FillRect(0, 120, 200, 126, true)

	line, err := e.InferGroundLine(m)
	if err != nil {
		t.Fatalf("InferGroundLine on a mask failed: %v", err)
	}
	if line.TiltDegrees() > 1 || line.Length() < 180 {
		t.Errorf("Expected a long horizontal line, got %v", line)
	}
}

func TestBandConfiguration(t *testing.T) {
	cfg := DefaultConfig()
	e := newTestEngine(t, cfg)
	if band := e.Band(image.Rect(0, 0, 90, 300)); band != image.Rect(0, 200, 90, 300) {
		t.Errorf("Expected lower third, got %v", band)
	}

	// Moving the band up finds a line the default band misses
	img := createImage(200, 150)
	fillRect(img, 10, 30, 190, 33)

	cfg.BandStart, cfg.BandEnd = 0, 0.5
	e = newTestEngine(t, cfg)
	if _, err := e.DetectGroundLine(img); err != nil {
		t.Errorf("Expected the line in the upper band to be found, got %v", err)
	}
}

func TestInferBoneAxisHorizontalBar(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	m := mask.New(200, 100)
	m.FillRect(0, 50, 200, 60, true)
	before := m.Clone()

	axis, err := e.InferBoneAxis(m)
	if err != nil {
		t.Fatalf("InferBoneAxis failed: %v", err)
	}
	want := geometry.Seg(geometry.Pt(0, 55), geometry.Pt(200, 55))
	if axis.A.Distance(want.A) > 1e-6 || axis.B.Distance(want.B) > 1e-6 {
		t.Errorf("Expected axis %v, got %v", want, axis)
	}
	if !m.Equal(before) {
		t.Error("InferBoneAxis must not modify the mask")
	}
}

func TestInferBoneAxisManualAndErrors(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	a, b := geometry.Pt(5, 5), geometry.Pt(50, 20)
	axis, err := e.InferBoneAxis(nil, a, b)
	if err != nil || axis != geometry.Seg(a, b) {
		t.Errorf("Expected verbatim manual axis, got %v, %v", axis, err)
	}

	if _, err := e.InferBoneAxis(nil, a); !errors.Is(err, geometry.ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry for a single point, got %v", err)
	}
	if _, err := e.InferBoneAxis(mask.New(50, 50)); !errors.Is(err, extraction.ErrEmptyMask) {
		t.Errorf("Expected ErrEmptyMask, got %v", err)
	}
	if _, err := e.InferBoneAxis(nil); !errors.Is(err, extraction.ErrEmptyMask) {
		t.Errorf("Expected ErrEmptyMask for nil mask, got %v", err)
	}

	square := mask.New(60, 60)
	square.FillRect(10, 10, 50, 50, true)
	if _, err := e.InferBoneAxis(square); !errors.Is(err, extraction.ErrDegenerateContour) {
		t.Errorf("Expected ErrDegenerateContour, got %v", err)
	}
}

func TestInferBoneAxisKeepsTinyMasks(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	// Too thin to survive a 5x5 opening
	m := mask.New(60, 20)
	m.FillRect(5, 10, 55, 13, true)

	axis, err := e.InferBoneAxis(m)
	if err != nil {
		t.Fatalf("InferBoneAxis failed: %v", err)
	}
	if axis.TiltDegrees() > 1e-6 {
		t.Errorf("Expected horizontal axis, got %v", axis)
	}
}

func TestInferBoneAxisInferiorTangent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AxisMethod = AxisInferiorTangent
	e := newTestEngine(t, cfg)

	m := mask.New(200, 100)
	m.FillRect(20, 40, 120, 70, true)
	m.FillRect(20, 70, 50, 80, true)

	axis, err := e.InferBoneAxis(m)
	if err != nil {
		t.Fatalf("InferBoneAxis failed: %v", err)
	}
	if axis.A != geometry.Pt(35, 80) {
		t.Errorf("Expected axis to start at the heel (35,80), got %v", axis.A)
	}
	if axis.B != geometry.Pt(120, 70) {
		t.Errorf("Expected axis to end at the anterior corner (120,70), got %v", axis.B)
	}
}

func TestVirtualGround(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	left := mask.New(200, 100)
	left.FillRect(20, 40, 120, 70, true)
	left.FillRect(20, 70, 50, 80, true)

	line, k, err := e.VirtualGround(left)
	if err != nil {
		t.Fatalf("VirtualGround failed: %v", err)
	}
	if !k.HeelIsLeft {
		t.Error("Expected heel on the left")
	}
	if line != geometry.Seg(geometry.Pt(35, 80), geometry.Pt(200, 80)) {
		t.Errorf("Expected ground from heel to the right border, got %v", line)
	}

	right := mask.New(200, 100)
	right.FillRect(80, 40, 180, 70, true)
	right.FillRect(150, 70, 180, 80, true)

	line, k, err = e.VirtualGround(right)
	if err != nil {
		t.Fatalf("VirtualGround failed: %v", err)
	}
	if k.HeelIsLeft {
		t.Error("Expected heel on the right")
	}
	if line != geometry.Seg(geometry.Pt(165, 80), geometry.Pt(0, 80)) {
		t.Errorf("Expected ground from heel to the left border, got %v", line)
	}

	if _, _, err := e.VirtualGround(mask.New(10, 10)); !errors.Is(err, extraction.ErrEmptyMask) {
		t.Errorf("Expected ErrEmptyMask, got %v", err)
	}
}

type stubDetector struct {
	lines []Line
	band  image.Rectangle
}

func (s *stubDetector) DetectLines(gray *image.Gray, band image.Rectangle) ([]Line, error) {
	s.band = band
	return s.lines, nil
}

func TestGroundSelectionTieBreaks(t *testing.T) {
	seg := func(x1, y1, x2, y2 float64) geometry.LineSegment {
		return geometry.Seg(geometry.Pt(x1, y1), geometry.Pt(x2, y2))
	}

	tests := []struct {
		name  string
		lines []Line
		want  geometry.LineSegment
	}{
		{
			name: "longest wins",
			lines: []Line{
				{Segment: seg(0, 110, 100, 110), Votes: 500},
				{Segment: seg(0, 120, 150, 125), Votes: 50},
			},
			want: seg(0, 120, 150, 125),
		},
		{
			name: "too steep ignored",
			lines: []Line{
				{Segment: seg(0, 100, 100, 140), Votes: 90},
				{Segment: seg(0, 130, 60, 130), Votes: 40},
			},
			want: seg(0, 130, 60, 130),
		},
		{
			name: "equal length prefers more votes",
			lines: []Line{
				{Segment: seg(0, 110, 100, 110), Votes: 40},
				{Segment: seg(0, 120, 100, 120), Votes: 80},
			},
			want: seg(0, 120, 100, 120),
		},
		{
			name: "full tie prefers lower line",
			lines: []Line{
				{Segment: seg(0, 140, 100, 140), Votes: 40},
				{Segment: seg(0, 110, 100, 110), Votes: 40},
			},
			want: seg(0, 140, 100, 140),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := &stubDetector{lines: tt.lines}
			e, err := NewEngineWithDetector(DefaultConfig(), det)
			if err != nil {
				t.Fatalf("NewEngineWithDetector failed: %v", err)
			}
			got, err := e.DetectGroundLine(createImage(200, 150))
			if err != nil {
				t.Fatalf("DetectGroundLine failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
			if det.band != image.Rect(0, 100, 200, 150) {
				t.Errorf("Detector got band %v", det.band)
			}
		})
	}
}

func TestDetectorRegistry(t *testing.T) {
	if _, err := DetectorByName("", DefaultConfig()); err != nil {
		t.Errorf("Empty name should select the Hough detector, got %v", err)
	}
	if _, err := DetectorByName("nonexistent", DefaultConfig()); err == nil {
		t.Error("Expected error for unknown detector")
	}

	stub := &stubDetector{lines: []Line{{Segment: geometry.Seg(geometry.Pt(0, 120), geometry.Pt(100, 120)), Votes: 30}}}
	RegisterDetector("stub", func(Config) LineDetector { return stub })

	cfg := DefaultConfig()
	cfg.Detector = "stub"
	e := newTestEngine(t, cfg)
	line, err := e.DetectGroundLine(createImage(200, 150))
	if err != nil || line != stub.lines[0].Segment {
		t.Errorf("Expected the registered detector to be used, got %v, %v", line, err)
	}

	found := false
	for _, name := range DetectorNames() {
		found = found || name == "stub"
	}
	if !found {
		t.Errorf("Registered detector missing from %v", DetectorNames())
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}

	tests := map[string]func(*Config){
		"inverted band":  func(c *Config) { c.BandStart, c.BandEnd = 0.8, 0.5 },
		"band over 1":    func(c *Config) { c.BandEnd = 1.5 },
		"zero tilt":      func(c *Config) { c.MaxTiltDegrees = 0 },
		"right angle":    func(c *Config) { c.MaxTiltDegrees = 90 },
		"theta step":     func(c *Config) { c.ThetaStepDegrees = 0 },
		"rho step":       func(c *Config) { c.RhoStep = -1 },
		"votes":          func(c *Config) { c.VoteThreshold = 0 },
		"edge threshold": func(c *Config) { c.EdgeThreshold = 2 },
		"axis method":    func(c *Config) { c.AxisMethod = "skeleton" },
		"virtual ground": func(c *Config) { c.VirtualGroundLength = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
			if _, err := NewEngine(cfg); err == nil {
				t.Error("Expected NewEngine to reject the config")
			}
		})
	}
}

func TestParseAxisMethod(t *testing.T) {
	if m, err := ParseAxisMethod(""); err != nil || m != AxisMoments {
		t.Errorf("Expected default moments, got %q, %v", m, err)
	}
	if m, err := ParseAxisMethod("Inferior-Tangent"); err != nil || m != AxisInferiorTangent {
		t.Errorf("Expected inferior-tangent, got %q, %v", m, err)
	}
	if _, err := ParseAxisMethod("skeleton"); err == nil {
		t.Error("Expected error for unknown method")
	}
}

func BenchmarkDetectGroundLine(b *testing.B) {
	cfg := DefaultConfig()
	e, _ := NewEngine(cfg)
	img := createImage(512, 512)
	fillRect(img, 100, 100, 400, 300)
	drawTiltedLine(img, 20, 490, 450, 3)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.DetectGroundLine(img); err != nil {
			b.Fatal(err)
		}
	}
}
