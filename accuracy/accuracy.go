// Package accuracy compares simulator predictions against calibrated
// hardware latencies and decides whether an accuracy target is met.
package accuracy

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrDegenerateInput is returned when a latency is not positive.
	ErrDegenerateInput = errors.New("degenerate input")

	// ErrNoData is returned when there is nothing to aggregate.
	ErrNoData = errors.New("no data")
)

// Compare returns the relative error |sim-hw| / min(sim, hw). The
// denominator is the smaller of the two regardless of argument order, so
// over- and under-prediction by the same factor score the same.
func Compare(hw, sim float64) (float64, error) {
	denom := math.Min(hw, sim)
	if denom <= 0 || math.IsNaN(denom) {
		return 0, errors.Wrapf(ErrDegenerateInput, "hw=%v sim=%v", hw, sim)
	}
	return math.Abs(sim-hw) / denom, nil
}

// Mean returns the unweighted mean of errs.
func Mean(errs []float64) (float64, error) {
	if len(errs) == 0 {
		return 0, ErrNoData
	}
	return stat.Mean(errs, nil), nil
}

// WeightedMean returns sum(v*w)/sum(w). A nil weights slice means uniform
// weights.
func WeightedMean(values, weights []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrNoData
	}
	if weights == nil {
		return stat.Mean(values, nil), nil
	}
	if len(weights) != len(values) {
		return 0, errors.Errorf("%d values but %d weights", len(values), len(weights))
	}
	if floats.Sum(weights) <= 0 {
		return 0, errors.Wrap(ErrDegenerateInput, "weights sum to zero")
	}
	return stat.Mean(values, weights), nil
}

// CategorySummary is the accuracy of one group of benchmarks.
type CategorySummary struct {
	// Name labels the category
	Name string `json:"name"`

	// Count is the number of benchmarks behind AverageError
	Count int `json:"count"`

	// AverageError is the mean relative error of the category
	AverageError float64 `json:"average_error"`

	// MaxError is the worst relative error, when known
	MaxError float64 `json:"max_error,omitempty"`
}

// Summarize builds a CategorySummary from per-benchmark errors.
func Summarize(name string, errs []float64) (CategorySummary, error) {
	avg, err := Mean(errs)
	if err != nil {
		return CategorySummary{}, errors.Wrapf(err, "category %s", name)
	}
	return CategorySummary{
		Name:         name,
		Count:        len(errs),
		AverageError: avg,
		MaxError:     floats.Max(errs),
	}, nil
}

// CombineCategories merges categories into one whose error is the
// count-weighted mean of the category means. This is a mean of means, not a
// mean over the underlying benchmarks: a category may be known only by its
// count and average.
func CombineCategories(name string, cats ...CategorySummary) (CategorySummary, error) {
	if len(cats) == 0 {
		return CategorySummary{}, ErrNoData
	}

	values := make([]float64, len(cats))
	weights := make([]float64, len(cats))
	combined := CategorySummary{Name: name}
	for i, c := range cats {
		if c.Count < 0 {
			return CategorySummary{}, errors.Errorf("category %s has negative count", c.Name)
		}
		values[i] = c.AverageError
		weights[i] = float64(c.Count)
		combined.Count += c.Count
		combined.MaxError = math.Max(combined.MaxError, c.MaxError)
	}

	avg, err := WeightedMean(values, weights)
	if err != nil {
		return CategorySummary{}, err
	}
	combined.AverageError = avg

	return combined, nil
}

// Verdict is the outcome of the accuracy gate.
type Verdict string

const (
	Pass Verdict = "PASS"
	Fail Verdict = "FAIL"
)

// Gate passes when the aggregate error is strictly below errorThreshold and
// at least countThreshold benchmarks contributed.
func Gate(aggregateError float64, count int, errorThreshold float64, countThreshold int) Verdict {
	if aggregateError < errorThreshold && count >= countThreshold {
		return Pass
	}
	return Fail
}

// Status grades a run against both targets.
type Status string

const (
	Complete   Status = "COMPLETE"
	Partial    Status = "PARTIAL"
	Incomplete Status = "INCOMPLETE"
)

// Thresholds are the accuracy targets.
type Thresholds struct {
	// Error is the exclusive upper bound on the aggregate error
	Error float64 `json:"error"`

	// Count is the minimum number of benchmarks
	Count int `json:"count"`
}

// DefaultThresholds are 20% error over at least 15 benchmarks.
func DefaultThresholds() Thresholds {
	return Thresholds{Error: 0.20, Count: 15}
}

// StatusOf is Complete when both targets are met, Partial when only the
// benchmark count is, and Incomplete otherwise.
func StatusOf(aggregateError float64, count int, th Thresholds) Status {
	countMet := count >= th.Count
	switch {
	case countMet && aggregateError < th.Error:
		return Complete
	case countMet:
		return Partial
	default:
		return Incomplete
	}
}

// Icon grades one benchmark error: below 20% is good, below 50% a warning.
func Icon(err float64) string {
	switch {
	case err < 0.2:
		return "✅"
	case err < 0.5:
		return "⚠️"
	default:
		return "❌"
	}
}
