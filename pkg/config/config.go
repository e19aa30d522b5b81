// Package config provides configuration loading and management for pesplanus.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"pesplanus/pkg/angle"
	"pesplanus/pkg/imaging"
	"pesplanus/pkg/landmark"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Measurement parameters
	Measurement struct {
		// Mode is the measured angle: "calcaneal" or "mearys"
		Mode string `yaml:"mode"`

		// Epsilon is the shortest accepted line length in pixels
		Epsilon float64 `yaml:"epsilon"`

		// AxisMethod derives the bone axis: "moments" or "inferior-tangent"
		AxisMethod string `yaml:"axisMethod"`

		// MinAspectRatio rejects bone regions too round to define an axis
		MinAspectRatio float64 `yaml:"minAspectRatio"`

		// OpenKernel is the size of the morphological opening applied to masks
		OpenKernel int `yaml:"openKernel"`

		// GroundFallback uses a horizontal line at the heel when no ground
		// line is detected
		GroundFallback bool `yaml:"groundFallback"`

		// VirtualGroundLength is the length of that line in pixels
		VirtualGroundLength float64 `yaml:"virtualGroundLength"`
	} `yaml:"measurement"`

	// Ground line detection parameters
	Hough struct {
		// BandStart and BandEnd bound the search band as fractions of the
		// image height
		BandStart float64 `yaml:"bandStart"`
		BandEnd   float64 `yaml:"bandEnd"`

		// MaxTiltDegrees is the largest accepted tilt from the horizontal
		MaxTiltDegrees float64 `yaml:"maxTiltDegrees"`

		ThetaStepDegrees float64 `yaml:"thetaStepDegrees"`
		RhoStep          float64 `yaml:"rhoStep"`
		VoteThreshold    int     `yaml:"voteThreshold"`

		// EdgeThreshold is the fraction of the strongest gradient counted as an edge
		EdgeThreshold float64 `yaml:"edgeThreshold"`

		MinLineLength float64 `yaml:"minLineLength"`
		MaxGap        float64 `yaml:"maxGap"`

		// Detector names the line detector: "hough", or "opencv" in gocv builds
		Detector string `yaml:"detector"`
	} `yaml:"hough"`

	// Diagnosis threshold tables, one band list per mode
	Thresholds struct {
		Calcaneal angle.Thresholds `yaml:"calcaneal"`
		Mearys    angle.Thresholds `yaml:"mearys"`
	} `yaml:"thresholds"`

	// Segmentation parameters
	Segmentation struct {
		// MaskSuffix names precomputed sidecar masks: foot.png -> foot<suffix>.png
		MaskSuffix string `yaml:"maskSuffix"`

		// Threshold binarizes sidecar mask images
		Threshold uint8 `yaml:"threshold"`

		// Invert segments dark bone on a bright background
		Invert bool `yaml:"invert"`

		// BlurSigma smooths images before thresholding; 0 disables it
		BlurSigma float64 `yaml:"blurSigma"`
	} `yaml:"segmentation"`

	// Batch processing parameters
	Batch struct {
		// NumWorkers specifies how many images are analysed in parallel
		NumWorkers int `yaml:"numWorkers"`

		// ItemTimeout bounds the analysis of a single image; 0 disables it
		ItemTimeout time.Duration `yaml:"itemTimeout"`

		// Extensions lists the image file extensions picked up from folders
		Extensions []string `yaml:"extensions"`
	} `yaml:"batch"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// Annotate writes an overlay image per measured study
		Annotate bool `yaml:"annotate"`

		// JPEGQuality is the quality of annotated images
		JPEGQuality int `yaml:"jpegQuality"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}
	eng := landmark.DefaultConfig()

	// Set default measurement parameters
	cfg.Measurement.Mode = string(angle.CalcanealInclination)
	cfg.Measurement.Epsilon = eng.Epsilon
	cfg.Measurement.AxisMethod = string(eng.AxisMethod)
	cfg.Measurement.MinAspectRatio = eng.MinAspectRatio
	cfg.Measurement.OpenKernel = eng.OpenKernel
	cfg.Measurement.GroundFallback = false
	cfg.Measurement.VirtualGroundLength = eng.VirtualGroundLength

	// Set default detection parameters
	cfg.Hough.BandStart = eng.BandStart
	cfg.Hough.BandEnd = eng.BandEnd
	cfg.Hough.MaxTiltDegrees = eng.MaxTiltDegrees
	cfg.Hough.ThetaStepDegrees = eng.ThetaStepDegrees
	cfg.Hough.RhoStep = eng.RhoStep
	cfg.Hough.VoteThreshold = eng.VoteThreshold
	cfg.Hough.EdgeThreshold = eng.EdgeThreshold
	cfg.Hough.MinLineLength = eng.MinLineLength
	cfg.Hough.MaxGap = eng.MaxGap
	cfg.Hough.Detector = eng.Detector

	cfg.Thresholds.Calcaneal = angle.DefaultThresholds(angle.CalcanealInclination)
	cfg.Thresholds.Mearys = angle.DefaultThresholds(angle.MearysAngle)

	cfg.Segmentation.MaskSuffix = "_mask"
	cfg.Segmentation.Threshold = 127
	cfg.Segmentation.Invert = false
	cfg.Segmentation.BlurSigma = 0.8

	cfg.Batch.NumWorkers = runtime.NumCPU() // Use all available cores by default
	cfg.Batch.ItemTimeout = 2 * time.Minute
	cfg.Batch.Extensions = append([]string(nil), imaging.DefaultExtensions...)

	cfg.Output.Verbose = true
	cfg.Output.Annotate = false
	cfg.Output.JPEGQuality = 90

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks every section and reports the first problem found
func (c *Config) Validate() error {
	if _, err := angle.ParseMode(c.Measurement.Mode); err != nil {
		return fmt.Errorf("measurement.mode: %w", err)
	}
	if err := c.Engine().Validate(); err != nil {
		return err
	}
	if c.Measurement.OpenKernel < 0 {
		return fmt.Errorf("measurement.openKernel %d must not be negative", c.Measurement.OpenKernel)
	}
	if err := c.Thresholds.Calcaneal.Validate(); err != nil {
		return fmt.Errorf("thresholds.calcaneal: %w", err)
	}
	if err := c.Thresholds.Mearys.Validate(); err != nil {
		return fmt.Errorf("thresholds.mearys: %w", err)
	}
	if c.Segmentation.BlurSigma < 0 {
		return fmt.Errorf("segmentation.blurSigma %g must not be negative", c.Segmentation.BlurSigma)
	}
	if c.Batch.NumWorkers < 0 {
		return fmt.Errorf("batch.numWorkers %d must not be negative", c.Batch.NumWorkers)
	}
	if c.Batch.ItemTimeout < 0 {
		return fmt.Errorf("batch.itemTimeout %v must not be negative", c.Batch.ItemTimeout)
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		return fmt.Errorf("output.jpegQuality %d must be in [1, 100]", c.Output.JPEGQuality)
	}
	return nil
}

// Mode returns the parsed measurement mode
func (c *Config) Mode() angle.Mode {
	m, err := angle.ParseMode(c.Measurement.Mode)
	if err != nil {
		return angle.CalcanealInclination
	}
	return m
}

// Engine returns the inference engine parameters
func (c *Config) Engine() landmark.Config {
	method, err := landmark.ParseAxisMethod(c.Measurement.AxisMethod)
	if err != nil {
		// Left for landmark.Config.Validate to report
		method = landmark.AxisMethod(c.Measurement.AxisMethod)
	}
	return landmark.Config{
		BandStart:           c.Hough.BandStart,
		BandEnd:             c.Hough.BandEnd,
		MaxTiltDegrees:      c.Hough.MaxTiltDegrees,
		ThetaStepDegrees:    c.Hough.ThetaStepDegrees,
		RhoStep:             c.Hough.RhoStep,
		VoteThreshold:       c.Hough.VoteThreshold,
		EdgeThreshold:       c.Hough.EdgeThreshold,
		MinLineLength:       c.Hough.MinLineLength,
		MaxGap:              c.Hough.MaxGap,
		OpenKernel:          c.Measurement.OpenKernel,
		MinAspectRatio:      c.Measurement.MinAspectRatio,
		AxisMethod:          method,
		VirtualGroundLength: c.Measurement.VirtualGroundLength,
		Detector:            c.Hough.Detector,
		Epsilon:             c.Measurement.Epsilon,
	}
}

// ThresholdTables returns the threshold tables keyed by mode
func (c *Config) ThresholdTables() map[angle.Mode]angle.Thresholds {
	return map[angle.Mode]angle.Thresholds{
		angle.CalcanealInclination: c.Thresholds.Calcaneal,
		angle.MearysAngle:          c.Thresholds.Mearys,
	}
}
