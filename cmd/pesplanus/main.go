package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"pesplanus/internal/models"
	"pesplanus/pkg/analysis"
	"pesplanus/pkg/angle"
	"pesplanus/pkg/batch"
	"pesplanus/pkg/config"
	"pesplanus/pkg/geometry"
	"pesplanus/pkg/landmark"
	"pesplanus/pkg/report"
	"pesplanus/pkg/segmentation"
	"pesplanus/pkg/session"
	"pesplanus/pkg/visualization"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "config.yaml", "YAML configuration file (defaults are used if missing)")
	input := flag.String("input", "", "Radiograph file or folder of patient folders")
	mode := flag.String("mode", "", "Measured angle: calcaneal or mearys")
	workers := flag.Int("workers", 0, "Number of images analysed in parallel (default: from config)")
	output := flag.String("output", "pesplanus_report.xlsx", "Report file for folders; a .zip path bundles the annotated images")
	annotate := flag.Bool("annotate", false, "Write annotated overlay images")
	annotateDir := flag.String("annotate-dir", "annotated", "Directory for annotated overlay images")
	ground := flag.String("ground", "", "Manual ground line (talus axis for Meary's) as x1,y1,x2,y2 or a single x,y")
	axis := flag.String("axis", "", "Manual bone axis (first metatarsal axis for Meary's) as x1,y1,x2,y2")
	detector := flag.String("detector", "", "Ground line detector: "+strings.Join(landmark.DetectorNames(), ", "))
	axisMethod := flag.String("axis-method", "", "Bone axis method: moments or inferior-tangent")
	virtualGround := flag.Bool("virtual-ground", false, "Use a horizontal line at the heel when no ground line is found")
	timeout := flag.Duration("timeout", 0, "Per-image analysis timeout (default: from config)")
	writeConfig := flag.String("write-config", "", "Write the default configuration to this path and exit")
	flag.Parse()

	if *writeConfig != "" {
		if err := config.CreateDefaultConfigFile(*writeConfig); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *writeConfig)
		return
	}

	// Validate inputs
	if *input == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Explicit flags override the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Measurement.Mode = *mode
		case "workers":
			cfg.Batch.NumWorkers = *workers
		case "annotate":
			cfg.Output.Annotate = *annotate
		case "detector":
			cfg.Hough.Detector = *detector
		case "axis-method":
			cfg.Measurement.AxisMethod = *axisMethod
		case "virtual-ground":
			cfg.Measurement.GroundFallback = *virtualGround
		case "timeout":
			cfg.Batch.ItemTimeout = *timeout
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	analyzer, seg, err := newAnalyzer(cfg)
	if err != nil {
		log.Fatalf("Failed to initialise analysis: %v", err)
	}

	info, err := os.Stat(*input)
	if err != nil {
		log.Fatalf("Failed to open input: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("PES PLANUS RADIOGRAPH MEASUREMENT")
	fmt.Printf("Mode: %s\n", cfg.Mode().Title())
	fmt.Println("================================")

	if !info.IsDir() {
		runSingle(cfg, analyzer, *input, *ground, *axis, *annotateDir)
		return
	}
	if *ground != "" || *axis != "" {
		log.Printf("Warning: -ground and -axis apply to single files only and are ignored for folders")
	}
	runBatch(cfg, analyzer, seg, *input, *output, *annotateDir)
}

// newAnalyzer builds the analysis pipeline from the configuration.
func newAnalyzer(cfg *config.Config) (*analysis.Analyzer, segmentation.SidecarSegmenter, error) {
	engine, err := landmark.NewEngine(cfg.Engine())
	if err != nil {
		return nil, segmentation.SidecarSegmenter{}, err
	}
	seg := segmentation.SidecarSegmenter{
		Suffix:    cfg.Segmentation.MaskSuffix,
		Threshold: cfg.Segmentation.Threshold,
		Fallback: segmentation.OtsuSegmenter{
			Invert:     cfg.Segmentation.Invert,
			BlurSigma:  cfg.Segmentation.BlurSigma,
			OpenKernel: cfg.Measurement.OpenKernel,
		},
	}
	a, err := analysis.New(analysis.Options{
		Mode:          cfg.Mode(),
		Thresholds:    cfg.ThresholdTables(),
		Engine:        engine,
		Segmenter:     seg,
		VirtualGround: cfg.Measurement.GroundFallback,
		Epsilon:       cfg.Measurement.Epsilon,
	})
	return a, seg, err
}

func runSingle(cfg *config.Config, analyzer *analysis.Analyzer, path, groundArg, axisArg, annotateDir string) {
	groundPts, err := parsePoints(groundArg)
	if err != nil {
		log.Fatalf("Invalid -ground: %v", err)
	}
	axisPts, err := parsePoints(axisArg)
	if err != nil {
		log.Fatalf("Invalid -axis: %v", err)
	}

	fmt.Printf("Analysing %s...\n", filepath.Base(path))
	startTime := time.Now()
	out, err := analyzer.AnalyzeFileWithLines(path, groundPts, axisPts)
	if err != nil {
		if cfg.Output.Verbose {
			log.Printf("Analysis error: %v", err)
		}
		log.Fatalf("%s", analysis.UserMessage(err))
	}

	study := models.NewStudy(path)
	study.ApplyMetadata(out.Metadata)
	r := out.Result

	fmt.Printf("\nAnalysis completed in %.2f seconds\n", time.Since(startTime).Seconds())
	fmt.Printf("Patient: %s (%s)\n", study.PatientName, study.PatientID)
	if study.Side != models.SideUnknown {
		fmt.Printf("Side: %s\n", study.Side)
	}
	fmt.Printf("%s: %.1f°\n", cfg.Mode().Title(), r.AngleDegrees)
	fmt.Printf("Diagnosis: %s\n", r.Diagnosis.Label())
	if cfg.Output.Verbose {
		fmt.Printf("%s: %v\n", session.RoleReference.Label(cfg.Mode()), r.LineA)
		fmt.Printf("%s: %v\n", session.RoleAxis.Label(cfg.Mode()), r.LineB)
		if out.Heel != nil {
			fmt.Printf("Heel: %v\n", *out.Heel)
		}
	}
	if out.VirtualGround {
		fmt.Println("Note: no ground line was detected; a horizontal line at the heel was used")
	}
	if out.Manual {
		fmt.Println("Note: manually placed lines were used")
	}

	if cfg.Output.Annotate && out.Image != nil {
		dst := visualization.AnnotatedPath(annotateDir, study)
		if err := saveOverlay(cfg, out, dst); err != nil {
			log.Printf("Warning: Failed to save annotated image: %v", err)
		} else {
			fmt.Printf("Annotated image saved to: %s\n", dst)
		}
	}
}

func runBatch(cfg *config.Config, analyzer *analysis.Analyzer, seg segmentation.SidecarSegmenter, root, output, annotateDir string) {
	studies, err := batch.Discover(root, cfg.Batch.Extensions, seg.IsMask)
	if err != nil {
		log.Fatalf("Failed to scan input: %v", err)
	}
	if len(studies) == 0 {
		log.Fatalf("No supported images found in %s", root)
	}
	fmt.Printf("Found %d images, analysing with %d workers...\n", len(studies), workerCount(cfg))

	images := make(map[string]string)
	written := make(map[string]bool)
	runner := batch.NewRunner(analyzer, batch.Options{
		Workers:     cfg.Batch.NumWorkers,
		ItemTimeout: cfg.Batch.ItemTimeout,
		Progress:    batch.ConsoleProgress(os.Stdout, "Analysing studies"),
		OnResult: func(s *models.Study, out *analysis.Outcome) {
			if !cfg.Output.Annotate || out.Image == nil {
				return
			}
			dst := visualization.UniquePath(visualization.AnnotatedPath(annotateDir, s),
				func(p string) bool { return written[p] })
			if err := saveOverlay(cfg, out, dst); err != nil {
				log.Printf("Warning: Failed to save annotated image for %s: %v", s.Filename, err)
				return
			}
			written[dst] = true
			images[s.Path] = dst
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	summary := runner.Run(ctx, studies)

	if cfg.Output.Verbose {
		for _, s := range studies {
			if s.Status == models.StatusFailed {
				log.Printf("Warning: %s: %s", s.Filename, s.Error)
			}
		}
	}

	if strings.EqualFold(filepath.Ext(output), ".zip") {
		err = report.WriteBundle(output, studies, images)
	} else {
		err = report.WriteExcel(output, studies, reportLinks(output, images))
	}
	if err != nil {
		log.Fatalf("Failed to write report: %v", err)
	}

	fmt.Printf("\nBatch completed in %.2f seconds\n", summary.Elapsed.Seconds())
	fmt.Printf("Report saved to: %s\n\n", output)
	fmt.Println("Results:")
	fmt.Println("=======================================")
	fmt.Printf("- Measured: %d\n", summary.Done)
	fmt.Printf("- Failed: %d\n", summary.Failed)
	for _, band := range tableFor(cfg) {
		fmt.Printf("- %s: %d\n", band.Category.Label(), summary.Diagnoses[band.Category])
	}
	if cfg.Output.Annotate {
		fmt.Printf("\nAnnotated images saved to: %s\n", annotateDir)
	}
}

func saveOverlay(cfg *config.Config, out *analysis.Outcome, dst string) error {
	style := visualization.DefaultStyle()
	style.Quality = cfg.Output.JPEGQuality
	v := visualization.NewViewer(out.Image, style)
	v.SetResult(&out.Result)
	v.SetHeel(out.Heel)
	return v.Save(dst)
}

// reportLinks maps study paths to overlay locations relative to the report
// file, so the links survive moving the output folder as a whole.
func reportLinks(output string, images map[string]string) map[string]string {
	links := make(map[string]string, len(images))
	base := filepath.Dir(output)
	for study, img := range images {
		if rel, err := filepath.Rel(base, img); err == nil {
			img = rel
		}
		links[study] = filepath.ToSlash(img)
	}
	return links
}

func tableFor(cfg *config.Config) angle.Thresholds {
	return cfg.ThresholdTables()[cfg.Mode()]
}

func workerCount(cfg *config.Config) int {
	if cfg.Batch.NumWorkers > 0 {
		return cfg.Batch.NumWorkers
	}
	return runtime.NumCPU()
}

// parsePoints parses "x,y" or "x1,y1,x2,y2" into points. An empty string
// yields no points.
func parsePoints(s string) ([]geometry.Point, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	if len(fields) != 2 && len(fields) != 4 {
		return nil, fmt.Errorf("expected 2 or 4 comma-separated numbers, got %d", len(fields))
	}
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate %q", f)
		}
		values[i] = v
	}
	points := make([]geometry.Point, 0, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		points = append(points, geometry.Pt(values[i], values[i+1]))
	}
	return points, nil
}
