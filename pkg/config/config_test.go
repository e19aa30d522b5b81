package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pesplanus/pkg/angle"
	"pesplanus/pkg/landmark"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if cfg.Mode() != angle.CalcanealInclination {
		t.Errorf("Expected calcaneal mode, got %s", cfg.Mode())
	}
	if cfg.Batch.NumWorkers < 1 {
		t.Errorf("Expected at least one worker, got %d", cfg.Batch.NumWorkers)
	}

	// The engine defaults survive the round trip through the config
	if got, want := cfg.Engine(), landmark.DefaultConfig(); got != want {
		t.Errorf("Expected engine config %+v, got %+v", want, got)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Measurement.Mode != "calcaneal" {
		t.Errorf("Expected default mode, got %q", cfg.Measurement.Mode)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Measurement.Mode = "mearys"
	cfg.Measurement.GroundFallback = true
	cfg.Hough.MaxTiltDegrees = 10
	cfg.Batch.ItemTimeout = 30 * time.Second
	cfg.Thresholds.Calcaneal = angle.Thresholds{
		{From: 0, Category: angle.PesPlanus},
		{From: 18, Category: angle.Normal},
		{From: 32, Category: angle.PesCavus},
	}

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if loaded.Mode() != angle.MearysAngle {
		t.Errorf("Expected mearys mode, got %s", loaded.Mode())
	}
	if !loaded.Measurement.GroundFallback {
		t.Error("Expected ground fallback enabled")
	}
	if loaded.Hough.MaxTiltDegrees != 10 {
		t.Errorf("Expected max tilt 10, got %g", loaded.Hough.MaxTiltDegrees)
	}
	if loaded.Batch.ItemTimeout != 30*time.Second {
		t.Errorf("Expected 30s timeout, got %v", loaded.Batch.ItemTimeout)
	}
	table := loaded.ThresholdTables()[angle.CalcanealInclination]
	if len(table) != 3 || table[1].From != 18 || table.Classify(19) != angle.Normal {
		t.Errorf("Unexpected calcaneal thresholds %+v", table)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "measurement:\n  axisMethod: tangent\nbatch:\n  itemTimeout: 5s\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Engine().AxisMethod != landmark.AxisInferiorTangent {
		t.Errorf("Expected inferior tangent, got %s", cfg.Engine().AxisMethod)
	}
	if cfg.Batch.ItemTimeout != 5*time.Second {
		t.Errorf("Expected 5s, got %v", cfg.Batch.ItemTimeout)
	}
	if cfg.Hough.VoteThreshold != landmark.DefaultConfig().VoteThreshold {
		t.Errorf("Unset fields should keep defaults, got vote threshold %d", cfg.Hough.VoteThreshold)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	tests := map[string]string{
		"syntax":     "measurement: [unclosed",
		"mode":       "measurement:\n  mode: hallux\n",
		"band":       "hough:\n  bandStart: 0.9\n  bandEnd: 0.5\n",
		"thresholds": "thresholds:\n  calcaneal:\n    - {from: 20, category: normal}\n    - {from: 10, category: pes_cavus}\n",
		"quality":    "output:\n  jpegQuality: 0\n",
		"workers":    "batch:\n  numWorkers: -1\n",
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(data), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Errorf("Expected error for %s", name)
			}
		})
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	for _, key := range []string{"measurement:", "hough:", "thresholds:", "segmentation:", "batch:", "output:"} {
		if !strings.Contains(string(data), key) {
			t.Errorf("Expected section %q in default config", key)
		}
	}
}
