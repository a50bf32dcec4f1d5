// Package robust provides outlier-resistant summaries of timing samples.
package robust

import (
	"math"
	"slices"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// DefaultTrimFraction is the fraction dropped from each end of a sample.
const DefaultTrimFraction = 0.2

var (
	// ErrEmptySample is returned when no values are supplied.
	ErrEmptySample = errors.New("empty sample")

	// ErrInvalidFraction is returned for a negative or NaN trim fraction.
	ErrInvalidFraction = errors.New("invalid trim fraction")
)

// trim returns the sorted copy of values with floor(n*fraction) elements
// removed from each end. Samples of fewer than 3 values, a zero trim count,
// or a trim that would leave nothing come back sorted and untrimmed.
func trim(values []float64, fraction float64) ([]float64, error) {
	if len(values) == 0 {
		return nil, ErrEmptySample
	}
	if fraction < 0 || math.IsNaN(fraction) {
		return nil, errors.Wrapf(ErrInvalidFraction, "%v", fraction)
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	n := len(sorted)
	if n < 3 {
		return sorted, nil
	}

	k := int(math.Floor(float64(n) * fraction))
	if k == 0 || 2*k >= n {
		return sorted, nil
	}

	return sorted[k : n-k], nil
}

// TrimmedMean sorts values, drops floor(n*fraction) from each end and
// returns the mean of the rest. Fewer than 3 values yield the plain mean.
// The input slice is not modified.
func TrimmedMean(values []float64, fraction float64) (float64, error) {
	kept, err := trim(values, fraction)
	if err != nil {
		return 0, err
	}
	return stats.Mean(kept)
}

// TrimmedStdDev returns the population standard deviation of the values
// TrimmedMean keeps.
func TrimmedStdDev(values []float64, fraction float64) (float64, error) {
	kept, err := trim(values, fraction)
	if err != nil {
		return 0, err
	}
	return stats.StandardDeviationPopulation(kept)
}

// Summary describes one sample.
type Summary struct {
	// N is the sample size
	N int `json:"n"`

	// Kept is the number of values left after trimming
	Kept int `json:"kept"`

	// Mean is the trimmed mean
	Mean float64 `json:"mean"`

	// StdDev is the population standard deviation of the kept values
	StdDev float64 `json:"std_dev"`

	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes a Summary of values with the given trim fraction.
func Summarize(values []float64, fraction float64) (Summary, error) {
	kept, err := trim(values, fraction)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{N: len(values), Kept: len(kept)}
	if s.Mean, err = stats.Mean(kept); err != nil {
		return Summary{}, err
	}
	if s.StdDev, err = stats.StandardDeviationPopulation(kept); err != nil {
		return Summary{}, err
	}
	if s.Median, err = stats.Median(values); err != nil {
		return Summary{}, err
	}
	if s.Min, err = stats.Min(values); err != nil {
		return Summary{}, err
	}
	if s.Max, err = stats.Max(values); err != nil {
		return Summary{}, err
	}

	return s, nil
}

// Milliseconds converts durations to floating-point milliseconds, keeping
// their order.
func Milliseconds(durations []time.Duration) []float64 {
	out := make([]float64, len(durations))
	for i, d := range durations {
		out[i] = float64(d) / float64(time.Millisecond)
	}
	return out
}
