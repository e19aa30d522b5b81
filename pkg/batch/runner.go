// Package batch measures many radiographs in parallel.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"pesplanus/internal/models"
	"pesplanus/pkg/analysis"
	"pesplanus/pkg/angle"
)

// ErrTimeout is recorded for studies that exceed the per-item timeout.
var ErrTimeout = errors.New("analysis timed out")

// FileAnalyzer measures one image file. *analysis.Analyzer implements it.
type FileAnalyzer interface {
	AnalyzeFile(path string) (*analysis.Outcome, error)
}

// Options configures a Runner.
type Options struct {
	// Workers is the number of concurrent analyses; 0 uses all CPUs.
	Workers int

	// ItemTimeout bounds a single analysis; 0 disables it.
	ItemTimeout time.Duration

	// Progress is called after each study completes, in completion order.
	Progress func(done, total int, s *models.Study)

	// OnResult is called for each successful analysis with its full
	// outcome, e.g. to write an annotated image. It runs on the collecting
	// goroutine, never concurrently with itself.
	OnResult func(s *models.Study, out *analysis.Outcome)
}

// Summary aggregates a batch run.
type Summary struct {
	Total     int
	Done      int
	Failed    int
	Skipped   int
	Diagnoses map[angle.Diagnosis]int
	Elapsed   time.Duration
}

// Runner analyses studies with a bounded worker pool.
type Runner struct {
	analyzer FileAnalyzer
	opts     Options
}

// NewRunner creates a runner.
func NewRunner(a FileAnalyzer, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Runner{analyzer: a, opts: opts}
}

type itemResult struct {
	index int
	out   *analysis.Outcome
	err   error
}

// Run analyses every pending study and updates it in place. Studies that
// are already confirmed or done are left alone and counted as skipped. A
// failure of one study never stops the batch: it is marked failed with a
// user-facing message. Cancelling ctx marks the remaining studies failed.
func (r *Runner) Run(ctx context.Context, studies []*models.Study) Summary {
	start := time.Now()
	summary := Summary{Total: len(studies), Diagnoses: make(map[angle.Diagnosis]int)}

	var pending []int
	for i, s := range studies {
		if s.Confirmed || s.Status == models.StatusDone {
			summary.Skipped++
			continue
		}
		s.Status = models.StatusProcessing
		pending = append(pending, i)
	}

	resultChan := make(chan itemResult)
	g := new(errgroup.Group)
	g.SetLimit(r.opts.Workers)

	go func() {
		for _, idx := range pending {
			idx := idx
			g.Go(func() error {
				out, err := r.analyze(ctx, studies[idx].Path)
				resultChan <- itemResult{index: idx, out: out, err: err}
				return nil
			})
		}
		g.Wait()
		close(resultChan)
	}()

	completed := summary.Skipped
	for res := range resultChan {
		s := studies[res.index]
		completed++

		if res.err != nil {
			s.Status = models.StatusFailed
			s.Error = analysis.UserMessage(res.err)
			s.Result = nil
			summary.Failed++
		} else {
			apply(s, res.out)
			summary.Done++
			summary.Diagnoses[s.Result.Diagnosis]++
			if r.opts.OnResult != nil {
				r.opts.OnResult(s, res.out)
			}
		}

		if r.opts.Progress != nil {
			r.opts.Progress(completed, summary.Total, s)
		}
	}

	summary.Elapsed = time.Since(start)
	return summary
}

// analyze runs one analysis, giving up when ctx is cancelled or the item
// timeout expires. An abandoned analysis finishes in the background and
// its result is dropped.
func (r *Runner) analyze(ctx context.Context, path string) (*analysis.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.opts.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.ItemTimeout)
		defer cancel()
	}

	done := make(chan itemResult, 1)
	go func() {
		out, err := r.analyzer.AnalyzeFile(path)
		done <- itemResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %v", ErrTimeout, r.opts.ItemTimeout)
		}
		return nil, ctx.Err()
	}
}

func apply(s *models.Study, out *analysis.Outcome) {
	result := out.Result
	s.Result = &result
	s.Heel = out.Heel
	s.VirtualGround = out.VirtualGround
	s.Status = models.StatusDone
	s.Error = ""
	s.ApplyMetadata(out.Metadata)
}

// ConsoleProgress returns a progress callback that rewrites a single
// percentage line on w.
func ConsoleProgress(w io.Writer, label string) func(done, total int, s *models.Study) {
	return func(done, total int, s *models.Study) {
		progress := 100.0
		if total > 0 {
			progress = float64(done) / float64(total) * 100
		}
		fmt.Fprintf(w, "\r%s: %.1f%% complete", label, progress)
		if done == total {
			fmt.Fprintln(w)
		}
	}
}
