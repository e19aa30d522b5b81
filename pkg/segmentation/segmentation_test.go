package segmentation

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"pesplanus/pkg/mask"
)

// createScan creates a dark image with a bright bone-like block and a small
// bright speck
func createScan() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 100, 80))
	for i := range img.Pix {
		img.Pix[i] = 30
	}
	for y := 20; y < 50; y++ {
		for x := 10; x < 90; x++ {
			img.SetGray(x, y, color.Gray{Y: 200})
		}
	}
	img.SetGray(95, 75, color.Gray{Y: 210})
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode %s: %v", path, err)
	}
}

func TestOtsuThreshold(t *testing.T) {
	th := OtsuThreshold(createScan())
	if th < 30 || th >= 200 {
		t.Errorf("Expected threshold between the two classes, got %d", th)
	}

	flat := image.NewGray(image.Rect(0, 0, 4, 4))
	if th := OtsuThreshold(flat); th != 0 {
		t.Errorf("Expected 0 for a flat image, got %d", th)
	}
}

func TestOtsuSegmenter(t *testing.T) {
	m, err := OtsuSegmenter{OpenKernel: 3}.Segment(createScan())
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if m.Count() != 80*30 {
		t.Errorf("Expected the 80x30 block, got %d pixels", m.Count())
	}
	if m.Get(95, 75) {
		t.Error("Speck should have been removed")
	}

	inverted, err := OtsuSegmenter{Invert: true}.Segment(createScan())
	if err != nil {
		t.Fatalf("Inverted segment failed: %v", err)
	}
	if inverted.Get(50, 30) || !inverted.Get(2, 2) {
		t.Error("Inverted segmentation should select the dark background")
	}

	if _, err := (OtsuSegmenter{}).Segment(image.NewGray(image.Rect(0, 0, 8, 8))); !errors.Is(err, ErrNoMask) {
		t.Errorf("Expected ErrNoMask for a flat image, got %v", err)
	}
}

func TestOtsuSegmenterBlur(t *testing.T) {
	m, err := OtsuSegmenter{BlurSigma: 1, OpenKernel: 3}.Segment(createScan())
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if n := m.Count(); n < 2200 || n > 2600 {
		t.Errorf("Expected about 2400 pixels after blurring, got %d", n)
	}
	if m.Get(95, 75) || !m.Get(50, 35) {
		t.Error("Expected the block kept and the speck removed")
	}
}

func TestSegmenterFunc(t *testing.T) {
	want := mask.New(3, 3)
	var s Segmenter = SegmenterFunc(func(img image.Image) (*mask.Mask, error) { return want, nil })
	got, err := s.Segment(nil)
	if err != nil || got != want {
		t.Errorf("SegmenterFunc did not delegate: %v, %v", got, err)
	}
}

func TestSidecarSegmenter(t *testing.T) {
	dir := t.TempDir()
	scan := createScan()
	imgPath := filepath.Join(dir, "foot_01.dcm")

	s := SidecarSegmenter{Threshold: 127}
	if got := s.MaskPath(imgPath); got != filepath.Join(dir, "foot_01_mask.png") {
		t.Errorf("Unexpected mask path %s", got)
	}
	if !s.IsMask(filepath.Join(dir, "foot_01_mask.png")) || s.IsMask(imgPath) {
		t.Error("IsMask misclassified")
	}

	// No sidecar and no fallback
	if _, err := s.SegmentFile(imgPath, scan); !errors.Is(err, ErrNoMask) {
		t.Errorf("Expected ErrNoMask, got %v", err)
	}

	// Fallback used when the sidecar is missing
	s.Fallback = OtsuSegmenter{}
	m, err := s.SegmentFile(imgPath, scan)
	if err != nil || m.Count() != 80*30 {
		t.Errorf("Expected fallback segmentation, got %v", err)
	}

	// Sidecar wins when present
	side := mask.New(100, 80)
	side.FillRect(0, 0, 10, 10, true)
	writePNG(t, s.MaskPath(imgPath), side)

	m, err = s.SegmentFile(imgPath, scan)
	if err != nil {
		t.Fatalf("SegmentFile failed: %v", err)
	}
	if !m.Equal(side) {
		t.Errorf("Expected the sidecar mask, got %d pixels", m.Count())
	}

	// Size mismatch
	if _, err := s.SegmentFile(imgPath, image.NewGray(image.Rect(0, 0, 50, 50))); err == nil {
		t.Error("Expected error for mismatched mask size")
	}
}
