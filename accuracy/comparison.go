package accuracy

import (
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/sarchlab/m2calib/calibration"
)

// Comparison is the simulator's prediction for one calibrated benchmark.
type Comparison struct {
	// Benchmark identifies the kernel
	Benchmark string `json:"benchmark"`

	// Description explains what the kernel measures
	Description string `json:"description"`

	// Category groups benchmarks for aggregation
	Category string `json:"category"`

	// HardwareLatencyNs is the calibrated per-instruction latency
	HardwareLatencyNs float64 `json:"hardware_latency_ns"`

	// HardwareRSquared is the fit quality behind HardwareLatencyNs
	HardwareRSquared float64 `json:"hardware_r_squared"`

	// SimCPI is the simulator's cycles per instruction
	SimCPI float64 `json:"sim_cpi"`

	// SimLatencyNs is SimCPI converted at the reference frequency
	SimLatencyNs float64 `json:"sim_latency_ns"`

	// Error is |sim-hw| / min(sim, hw)
	Error float64 `json:"error"`

	// Calibrated mirrors the hardware result's flag
	Calibrated bool `json:"calibrated"`
}

// Skipped records a benchmark that could not be compared.
type Skipped struct {
	Benchmark string `json:"benchmark"`
	Category  string `json:"category"`
	Reason    string `json:"reason"`
}

// BuildComparisons pairs every hardware result in file with the simulator
// CPI of the same benchmark. A simulated CPI becomes a latency as
// cpi / frequencyGHz. Benchmarks without a simulator CPI, uncalibrated
// results and degenerate latencies are skipped and reported.
func BuildComparisons(
	category string,
	file calibration.File,
	simCPIs map[string]float64,
	frequencyGHz float64,
) ([]Comparison, []Skipped, error) {
	if frequencyGHz <= 0 {
		return nil, nil, errors.Wrapf(ErrDegenerateInput, "frequency %v GHz", frequencyGHz)
	}

	var (
		comparisons []Comparison
		skipped     []Skipped
	)
	skip := func(name, reason string) {
		log.WithFields(log.Fields{
			"benchmark": name,
			"category":  category,
		}).Warn(reason)
		skipped = append(skipped, Skipped{Benchmark: name, Category: category, Reason: reason})
	}

	for _, r := range file.Results {
		if !r.Calibrated {
			skip(r.Benchmark, "hardware result not calibrated")
			continue
		}

		cpi, ok := simCPIs[r.Benchmark]
		if !ok {
			skip(r.Benchmark, "no simulator CPI")
			continue
		}

		simLatency := cpi / frequencyGHz
		e, err := Compare(r.InstructionLatencyNs, simLatency)
		if err != nil {
			skip(r.Benchmark, err.Error())
			continue
		}

		comparisons = append(comparisons, Comparison{
			Benchmark:         r.Benchmark,
			Description:       r.Description,
			Category:          category,
			HardwareLatencyNs: r.InstructionLatencyNs,
			HardwareRSquared:  r.RSquared,
			SimCPI:            cpi,
			SimLatencyNs:      simLatency,
			Error:             e,
			Calibrated:        r.Calibrated,
		})
	}

	return comparisons, skipped, nil
}

// Report is the complete outcome of an accuracy evaluation.
type Report struct {
	// Categories summarizes each category, prior ones first
	Categories []CategorySummary `json:"categories"`

	// Overall is the count-weighted combination of Categories
	Overall CategorySummary `json:"overall"`

	Thresholds Thresholds `json:"thresholds"`
	Verdict    Verdict    `json:"verdict"`
	Status     Status     `json:"status"`

	// Comparisons are the per-benchmark results, by category then name
	Comparisons []Comparison `json:"comparisons"`

	Skipped []Skipped `json:"skipped,omitempty"`
}

// ExitCode is 0 when the report passes the gate and 1 otherwise.
func (r Report) ExitCode() int {
	if r.Verdict == Pass {
		return 0
	}
	return 1
}

// Evaluate groups comparisons by category, adds the prior categories known
// only by count and average, combines them and applies the gate.
func Evaluate(
	comparisons []Comparison,
	priors []CategorySummary,
	skipped []Skipped,
	th Thresholds,
) (Report, error) {
	sorted := make([]Comparison, len(comparisons))
	copy(sorted, comparisons)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Category != sorted[j].Category {
			return sorted[i].Category < sorted[j].Category
		}
		return sorted[i].Benchmark < sorted[j].Benchmark
	})

	seen := make(map[string]bool)
	cats := make([]CategorySummary, 0, len(priors))
	for _, p := range priors {
		if seen[p.Name] {
			return Report{}, errors.Errorf("category %s given twice", p.Name)
		}
		seen[p.Name] = true
		cats = append(cats, p)
	}

	var order []string
	byCategory := make(map[string][]float64)
	for _, c := range comparisons {
		if !c.Calibrated {
			continue
		}
		if _, ok := byCategory[c.Category]; !ok {
			order = append(order, c.Category)
		}
		byCategory[c.Category] = append(byCategory[c.Category], c.Error)
	}

	for _, name := range order {
		if seen[name] {
			return Report{}, errors.Errorf("category %s given twice", name)
		}
		seen[name] = true
		s, err := Summarize(name, byCategory[name])
		if err != nil {
			return Report{}, err
		}
		cats = append(cats, s)
	}

	overall, err := CombineCategories("overall", cats...)
	if err != nil {
		return Report{}, errors.Wrap(err, "no benchmarks to evaluate")
	}

	return Report{
		Categories:  cats,
		Overall:     overall,
		Thresholds:  th,
		Verdict:     Gate(overall.AverageError, overall.Count, th.Error, th.Count),
		Status:      StatusOf(overall.AverageError, overall.Count, th),
		Comparisons: sorted,
		Skipped:     skipped,
	}, nil
}
