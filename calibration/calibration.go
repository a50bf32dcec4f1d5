// Package calibration holds the linear time model fitted to hardware
// measurements and its JSON file format.
package calibration

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/sarchlab/m2calib/regression"
)

const (
	// Methodology names the fitting method recorded in calibration files.
	Methodology = "linear_regression"

	// Formula documents the model the results parameterize.
	Formula = "time_ms = latency_ns * instruction_count / 1e6 + overhead_ms"

	// DefaultFrequencyGHz is the M2 P-core clock used to convert between
	// latency and CPI.
	DefaultFrequencyGHz = 3.5

	// nsPerMs converts a milliseconds-per-instruction slope to nanoseconds.
	nsPerMs = 1e6
)

// DataPoint is one measurement at one scale.
type DataPoint struct {
	// Instructions is the total instruction count of the run
	Instructions uint64 `json:"instructions"`

	// TimeMs is the trimmed mean wall time in milliseconds
	TimeMs float64 `json:"time_ms"`
}

// Result is the fitted model for one benchmark.
type Result struct {
	// Benchmark identifies the calibrated kernel
	Benchmark string `json:"benchmark"`

	// Description explains what the kernel measures
	Description string `json:"description"`

	// Calibrated is set for results backed by a successful fit
	Calibrated bool `json:"calibrated"`

	// InstructionLatencyNs is the fitted slope in nanoseconds per instruction
	InstructionLatencyNs float64 `json:"instruction_latency_ns"`

	// OverheadMs is the fitted intercept, the fixed process cost
	OverheadMs float64 `json:"overhead_ms"`

	// RSquared is the goodness of fit
	RSquared float64 `json:"r_squared"`

	// DataPoints are the measurements behind the fit, by instruction count
	DataPoints []DataPoint `json:"data_points"`
}

// FromDataPoints fits time against instruction count. Points are sorted by
// instruction count first; at least two distinct counts are required.
func FromDataPoints(benchmark, description string, points []DataPoint) (Result, error) {
	sorted := make([]DataPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Instructions < sorted[j].Instructions
	})

	x := make([]float64, len(sorted))
	y := make([]float64, len(sorted))
	for i, p := range sorted {
		x[i] = float64(p.Instructions)
		y[i] = p.TimeMs
	}

	line, err := regression.Fit(x, y)
	if err != nil {
		return Result{}, errors.Wrapf(err, "fit %s", benchmark)
	}

	return Result{
		Benchmark:            benchmark,
		Description:          description,
		Calibrated:           true,
		InstructionLatencyNs: line.Slope * nsPerMs,
		OverheadMs:           line.Intercept,
		RSquared:             line.RSquared,
		DataPoints:           sorted,
	}, nil
}

// CPI returns the cycles per instruction the latency implies at the given
// clock frequency.
func (r Result) CPI(frequencyGHz float64) float64 {
	return r.InstructionLatencyNs * frequencyGHz
}

// ThroughputGIPS returns the implied instruction throughput in billions of
// instructions per second.
func (r Result) ThroughputGIPS() float64 {
	if r.InstructionLatencyNs <= 0 {
		return 0
	}
	return 1 / r.InstructionLatencyNs
}

// PredictMs returns the modelled wall time of a run.
func (r Result) PredictMs(instructions uint64) float64 {
	return r.InstructionLatencyNs*float64(instructions)/nsPerMs + r.OverheadMs
}

// Fit describes the quality of the fit in words, empty below R² 0.99.
func (r Result) Fit() string {
	switch {
	case r.RSquared > 0.999:
		return "excellent fit"
	case r.RSquared > 0.99:
		return "good fit"
	default:
		return ""
	}
}

// File is the persisted output of a calibration run.
type File struct {
	Methodology string `json:"methodology"`
	Formula     string `json:"formula"`

	// FrequencyGHz is set when latencies were derived from CPIs
	FrequencyGHz float64 `json:"frequency_ghz,omitempty"`

	Results []Result `json:"results"`
}

// NewFile wraps results with the standard methodology header.
func NewFile(results []Result) File {
	return File{
		Methodology: Methodology,
		Formula:     Formula,
		Results:     results,
	}
}

// Lookup finds the result for a benchmark.
func (f File) Lookup(benchmark string) (Result, bool) {
	for _, r := range f.Results {
		if r.Benchmark == benchmark {
			return r, true
		}
	}
	return Result{}, false
}

// Load reads a calibration file.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, errors.Wrap(err, "failed to read calibration file")
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, errors.Wrapf(err, "failed to parse calibration file %s", path)
	}

	return f, nil
}

// Save writes the file as indented JSON.
func (f File) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to serialize calibration results")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write calibration file")
	}

	return nil
}
