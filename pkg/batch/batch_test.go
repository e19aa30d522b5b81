package batch

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pesplanus/internal/models"
	"pesplanus/pkg/analysis"
	"pesplanus/pkg/angle"
	"pesplanus/pkg/extraction"
	"pesplanus/pkg/geometry"
	"pesplanus/pkg/imaging"
)

// stubAnalyzer returns canned outcomes by file name
type stubAnalyzer struct {
	angles map[string]float64
	errs   map[string]error
	delay  time.Duration

	running int32
	peak    int32
	mu      sync.Mutex
	calls   []string
}

func (s *stubAnalyzer) AnalyzeFile(path string) (*analysis.Outcome, error) {
	n := atomic.AddInt32(&s.running, 1)
	defer atomic.AddInt32(&s.running, -1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, filepath.Base(path))
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	name := filepath.Base(path)
	if err, ok := s.errs[name]; ok {
		return nil, err
	}
	deg := s.angles[name]
	ground := geometry.Seg(geometry.Pt(0, 90), geometry.Pt(200, 90))
	result, err := angle.Evaluate(angle.CalcanealInclination, ground, rotated(deg), nil, 0)
	if err != nil {
		return nil, err
	}
	return &analysis.Outcome{
		Result:   result,
		Metadata: imaging.Metadata{Filename: name, Format: "png", PatientID: "777777", PatientName: "ROE^JANE"},
	}, nil
}

// rotated returns a 100px segment at deg degrees from the horizontal
func rotated(deg float64) geometry.LineSegment {
	t := deg * math.Pi / 180
	return geometry.Seg(geometry.Pt(0, 0), geometry.Pt(100*math.Cos(t), -100*math.Sin(t)))
}

func createStudies(names ...string) []*models.Study {
	studies := make([]*models.Study, len(names))
	for i, n := range names {
		studies[i] = models.NewStudy(filepath.Join("/data", "DOE_JOHN_123456", n))
	}
	return studies
}

func TestRunMixedResults(t *testing.T) {
	stub := &stubAnalyzer{
		angles: map[string]float64{"a.png": 10, "b.png": 25, "d.png": 35},
		errs:   map[string]error{"c.png": extraction.ErrEmptyMask},
	}
	studies := createStudies("a.png", "b.png", "c.png", "d.png")

	var progress []int
	var outcomes int
	r := NewRunner(stub, Options{
		Workers:  2,
		Progress: func(done, total int, s *models.Study) { progress = append(progress, done) },
		OnResult: func(s *models.Study, out *analysis.Outcome) { outcomes++ },
	})
	sum := r.Run(context.Background(), studies)

	if sum.Total != 4 || sum.Done != 3 || sum.Failed != 1 || sum.Skipped != 0 {
		t.Errorf("Unexpected summary %+v", sum)
	}
	if sum.Diagnoses[angle.PesPlanus] != 1 || sum.Diagnoses[angle.Normal] != 1 || sum.Diagnoses[angle.PesCavus] != 1 {
		t.Errorf("Unexpected diagnosis counts %v", sum.Diagnoses)
	}
	if outcomes != 3 {
		t.Errorf("Expected 3 OnResult calls, got %d", outcomes)
	}
	if len(progress) != 4 || progress[3] != 4 {
		t.Errorf("Expected progress 1..4, got %v", progress)
	}

	failed := studies[2]
	if failed.Status != models.StatusFailed || failed.Result != nil {
		t.Errorf("Expected c.png failed without result, got %+v", failed)
	}
	if !strings.Contains(failed.Error, "Could not locate the bone") {
		t.Errorf("Expected user-facing error, got %q", failed.Error)
	}

	ok := studies[1]
	if ok.Status != models.StatusDone || ok.Diagnosis() != "Normal" {
		t.Errorf("Expected b.png done and Normal, got %s %q", ok.Status, ok.Diagnosis())
	}
	// The folder already names the patient, so the header does not override it
	if ok.PatientID != "123456" || ok.Metadata.Format != "png" {
		t.Errorf("Unexpected patient or metadata: %s %+v", ok.PatientID, ok.Metadata)
	}
}

func TestRunSkipsConfirmedStudies(t *testing.T) {
	stub := &stubAnalyzer{angles: map[string]float64{"a.png": 25, "b.png": 25}}
	studies := createStudies("a.png", "b.png")
	studies[0].Confirmed = true

	sum := NewRunner(stub, Options{}).Run(context.Background(), studies)
	if sum.Skipped != 1 || sum.Done != 1 {
		t.Errorf("Unexpected summary %+v", sum)
	}
	if len(stub.calls) != 1 || stub.calls[0] != "b.png" {
		t.Errorf("Expected only b.png analysed, got %v", stub.calls)
	}
	if studies[0].Status != models.StatusPending {
		t.Errorf("Confirmed study should be untouched, got %s", studies[0].Status)
	}
}

func TestRunBoundsWorkers(t *testing.T) {
	stub := &stubAnalyzer{delay: 20 * time.Millisecond}
	studies := createStudies("1.png", "2.png", "3.png", "4.png", "5.png", "6.png")

	sum := NewRunner(stub, Options{Workers: 2}).Run(context.Background(), studies)
	if sum.Done != 6 {
		t.Errorf("Expected 6 done, got %+v", sum)
	}
	if peak := atomic.LoadInt32(&stub.peak); peak > 2 {
		t.Errorf("Expected at most 2 concurrent analyses, got %d", peak)
	}
}

func TestRunItemTimeout(t *testing.T) {
	stub := &stubAnalyzer{delay: 500 * time.Millisecond}
	studies := createStudies("slow.png")

	sum := NewRunner(stub, Options{ItemTimeout: 20 * time.Millisecond}).Run(context.Background(), studies)
	if sum.Failed != 1 {
		t.Fatalf("Expected the slow study to fail, got %+v", sum)
	}
	if !strings.Contains(studies[0].Error, "timed out") {
		t.Errorf("Expected timeout message, got %q", studies[0].Error)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stub := &stubAnalyzer{}
	studies := createStudies("a.png", "b.png")
	sum := NewRunner(stub, Options{}).Run(ctx, studies)

	if sum.Failed != 2 {
		t.Errorf("Expected all studies to fail after cancellation, got %+v", sum)
	}
	if len(stub.calls) != 0 {
		t.Errorf("Expected no analyses after cancellation, got %v", stub.calls)
	}
}

func TestRunWithRealAnalyzer(t *testing.T) {
	a, err := analysis.New(analysis.Options{})
	if err != nil {
		t.Fatalf("analysis.New failed: %v", err)
	}
	studies := createStudies("missing.png")
	sum := NewRunner(a, Options{}).Run(context.Background(), studies)
	if sum.Failed != 1 || studies[0].Error == "" {
		t.Errorf("Expected missing file to fail with a message, got %+v", studies[0])
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	files := []string{
		"SMITH_ANNA_555555/lat_L.png",
		"SMITH_ANNA_555555/lat_R.png",
		"SMITH_ANNA_555555/lat_R_mask.png",
		"DOE_JOHN_123456/scan.dcm",
		"DOE_JOHN_123456/notes.txt",
		".cache/hidden.png",
	}
	for _, f := range files {
		p := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	skip := func(p string) bool { return strings.HasSuffix(p, "_mask.png") }
	studies, err := Discover(root, nil, skip)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	var got []string
	for _, s := range studies {
		got = append(got, s.Filename)
	}
	want := []string{"scan.dcm", "lat_R.png", "lat_L.png"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, got)
	}

	single, err := Discover(filepath.Join(root, files[0]), nil, nil)
	if err != nil || len(single) != 1 {
		t.Errorf("Expected a single study for a file root, got %v, %v", single, err)
	}
	if _, err := Discover(filepath.Join(root, files[4]), nil, nil); err == nil {
		t.Error("Expected error for unsupported file root")
	}
	if _, err := Discover(filepath.Join(root, "nope"), nil, nil); err == nil {
		t.Error("Expected error for missing root")
	}
}

func TestConsoleProgress(t *testing.T) {
	var buf bytes.Buffer
	p := ConsoleProgress(&buf, "Analysing")
	p(1, 2, nil)
	p(2, 2, nil)

	want := "\rAnalysing: 50.0% complete\rAnalysing: 100.0% complete\n"
	if buf.String() != want {
		t.Errorf("Expected %q, got %q", want, buf.String())
	}
}
