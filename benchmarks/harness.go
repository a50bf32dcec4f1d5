package benchmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/m2calib/calibration"
	"github.com/sarchlab/m2calib/report"
	"github.com/sarchlab/m2calib/robust"
)

// DefaultIterationCounts keep the instruction time well above the ~20 ms
// process startup cost even for the cheapest kernels.
var DefaultIterationCounts = []uint64{
	1_000_000,
	2_000_000,
	4_000_000,
	8_000_000,
	16_000_000,
	32_000_000,
}

// Sampler builds a program and times repeated executions of it.
type Sampler interface {
	Collect(ctx context.Context, source string, runs, warmup, expectedExit int) ([]time.Duration, error)
}

// HarnessConfig configures the calibration harness.
type HarnessConfig struct {
	// IterationCounts are the loop counts each template is measured at
	IterationCounts []uint64

	// Runs is the number of timed executions per iteration count
	Runs int

	// Warmup is the number of discarded executions before the timed ones
	Warmup int

	// TrimFraction is removed from each end of the sorted run times
	TrimFraction float64

	// Jobs is how many templates are calibrated at once
	Jobs int

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	// Verbose adds the data points to the printed results
	Verbose bool
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		IterationCounts: append([]uint64(nil), DefaultIterationCounts...),
		Runs:            15,
		Warmup:          3,
		TrimFraction:    robust.DefaultTrimFraction,
		Jobs:            1,
		Output:          os.Stdout,
	}
}

// Harness calibrates templates against the hardware and reports results.
type Harness struct {
	config    HarnessConfig
	registry  *Registry
	sampler   Sampler
	templates []Template
}

// NewHarness creates a new calibration harness.
func NewHarness(config HarnessConfig, registry *Registry, sampler Sampler) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Jobs < 1 {
		config.Jobs = 1
	}
	return &Harness{
		config:   config,
		registry: registry,
		sampler:  sampler,
	}
}

// AddTemplates queues registered templates by name.
func (h *Harness) AddTemplates(names ...string) error {
	for _, name := range names {
		t, ok := h.registry.Get(name)
		if !ok {
			return errors.Wrapf(ErrUnknownTemplate, "%q", name)
		}
		h.templates = append(h.templates, t)
	}
	return nil
}

// AddAll queues every registered template.
func (h *Harness) AddAll() {
	for _, name := range h.registry.Names() {
		t, _ := h.registry.Get(name)
		h.templates = append(h.templates, t)
	}
}

// RunAll calibrates every queued template and returns the results in queue
// order. A template left with fewer than two data points yields an
// uncalibrated result; the others are unaffected.
func (h *Harness) RunAll(ctx context.Context) ([]calibration.Result, error) {
	results := make([]calibration.Result, len(h.templates))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Jobs)

	for i, t := range h.templates {
		g.Go(func() error {
			r, err := h.calibrate(ctx, t)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// calibrate measures one template at every iteration count. Warmup and
// timed runs of a count are collected back to back.
func (h *Harness) calibrate(ctx context.Context, t Template) (calibration.Result, error) {
	logger := log.WithField("benchmark", t.Name)
	logger.Infof("calibrating: %s", t.Description)

	var points []calibration.DataPoint
	for _, iterations := range h.config.IterationCounts {
		source, err := h.registry.Generate(t.Name, iterations)
		if err != nil {
			return calibration.Result{}, err
		}

		durations, err := h.sampler.Collect(ctx, source, h.config.Runs, h.config.Warmup, t.ExpectedExit)
		if err != nil {
			if ctx.Err() != nil {
				return calibration.Result{}, ctx.Err()
			}
			logger.WithError(err).WithField("iterations", iterations).Warn("skipping data point")
			continue
		}

		s, err := robust.Summarize(robust.Milliseconds(durations), h.config.TrimFraction)
		if err != nil {
			return calibration.Result{}, err
		}

		total := t.TotalInstructions(iterations)
		logger.WithField("iterations", iterations).Infof(
			"%d instructions: %.2f ms (±%.2f)", total, s.Mean, s.StdDev)

		points = append(points, calibration.DataPoint{Instructions: total, TimeMs: s.Mean})
	}

	r, err := calibration.FromDataPoints(t.Name, t.Description, points)
	if err != nil {
		logger.WithError(err).Warn("benchmark not calibrated")
		return calibration.Result{
			Benchmark:   t.Name,
			Description: t.Description,
			DataPoints:  points,
		}, nil
	}
	return r, nil
}

// PrintResults outputs calibration results in a human-readable format.
func (h *Harness) PrintResults(results []calibration.Result) {
	w := h.config.Output

	_, _ = fmt.Fprintln(w, "=== M2 Calibration Results ===")
	_, _ = fmt.Fprintln(w, "")

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		if !r.Calibrated {
			rows = append(rows, []string{r.Benchmark, "-", "-", "-"})
			continue
		}
		rows = append(rows, []string{
			r.Benchmark,
			fmt.Sprintf("%.4f", r.InstructionLatencyNs),
			fmt.Sprintf("%.2f", r.OverheadMs),
			fmt.Sprintf("%.6f", r.RSquared),
		})
	}
	report.Console(w, []string{"Benchmark", "Latency (ns)", "Overhead (ms)", "R²"}, rows)

	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "=== Interpretation ===")

	for _, r := range results {
		_, _ = fmt.Fprintln(w, "")
		_, _ = fmt.Fprintf(w, "%s:\n", r.Benchmark)
		if !r.Calibrated {
			_, _ = fmt.Fprintf(w, "  Not calibrated (%d data points)\n", len(r.DataPoints))
			continue
		}

		_, _ = fmt.Fprintf(w, "  Formula: time = %.4f ns × instructions + %.2f ms\n",
			r.InstructionLatencyNs, r.OverheadMs)
		_, _ = fmt.Fprintf(w, "  Implied throughput: %.2f G instructions/sec\n", r.ThroughputGIPS())
		_, _ = fmt.Fprintf(w, "  At %.1f GHz: %.2f cycles per instruction (CPI)\n",
			calibration.DefaultFrequencyGHz, r.CPI(calibration.DefaultFrequencyGHz))
		_, _ = fmt.Fprintf(w, "  Process startup overhead: %.2f ms\n", r.OverheadMs)
		if fit := r.Fit(); fit != "" {
			_, _ = fmt.Fprintf(w, "  R² = %.6f (%s)\n", r.RSquared, fit)
		} else {
			_, _ = fmt.Fprintf(w, "  R² = %.6f\n", r.RSquared)
		}

		if h.config.Verbose {
			for _, p := range r.DataPoints {
				_, _ = fmt.Fprintf(w, "    %12d instructions  %9.2f ms\n", p.Instructions, p.TimeMs)
			}
		}
	}
}

// PrintCSV outputs calibration results in CSV format for easy comparison.
func (h *Harness) PrintCSV(results []calibration.Result) {
	_, _ = fmt.Fprintln(h.config.Output,
		"benchmark,calibrated,instruction_latency_ns,overhead_ms,r_squared,cpi,data_points")

	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "%s,%t,%.6f,%.4f,%.6f,%.4f,%d\n",
			r.Benchmark,
			r.Calibrated,
			r.InstructionLatencyNs,
			r.OverheadMs,
			r.RSquared,
			r.CPI(calibration.DefaultFrequencyGHz),
			len(r.DataPoints),
		)
	}
}

// PrintJSON outputs the results as a calibration file.
func (h *Harness) PrintJSON(results []calibration.Result) error {
	encoder := json.NewEncoder(h.config.Output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(calibration.NewFile(results))
}
