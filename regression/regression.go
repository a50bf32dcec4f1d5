// Package regression fits straight lines to calibration measurements.
package regression

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrLengthMismatch is returned when x and y differ in length.
	ErrLengthMismatch = errors.New("x and y lengths differ")

	// ErrInsufficientData is returned when there are too few points to fit.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrDegenerateInput is returned when every x value is identical.
	ErrDegenerateInput = errors.New("degenerate input")
)

// Line is an ordinary least squares fit y = Slope*x + Intercept.
type Line struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`

	// RSquared is the coefficient of determination, 0 when y has no variance
	RSquared float64 `json:"r_squared"`
}

// Predict evaluates the line at x.
func (l Line) Predict(x float64) float64 {
	return l.Slope*x + l.Intercept
}

// Stats extends Line with the correlation statistics of the fit.
type Stats struct {
	Line

	// RValue is the Pearson correlation coefficient of x and y
	RValue float64 `json:"r_value"`

	// PValue is the two-sided p-value for a null hypothesis of zero slope,
	// from Student's t with n-2 degrees of freedom
	PValue float64 `json:"p_value"`

	// StdErr is the standard error of the slope
	StdErr float64 `json:"std_err"`

	// N is the number of points
	N int `json:"n"`
}

func check(x, y []float64, minPoints int) error {
	if len(x) != len(y) {
		return errors.Wrapf(ErrLengthMismatch, "%d vs %d", len(x), len(y))
	}
	if len(x) < minPoints {
		return errors.Wrapf(ErrInsufficientData,
			"need at least %d points, got %d", minPoints, len(x))
	}
	for _, v := range x[1:] {
		if v != x[0] {
			return nil
		}
	}
	return errors.Wrapf(ErrDegenerateInput, "all %d x values equal %v", len(x), x[0])
}

// sumSquares returns the sum of squared deviations from the mean.
func sumSquares(v []float64) float64 {
	mean := stat.Mean(v, nil)
	var ss float64
	for _, vi := range v {
		d := vi - mean
		ss += d * d
	}
	return ss
}

// Fit computes the least squares line through (x[i], y[i]). It needs at
// least two points and two distinct x values.
func Fit(x, y []float64) (Line, error) {
	if err := check(x, y, 2); err != nil {
		return Line{}, err
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)
	line := Line{Slope: beta, Intercept: alpha}
	if sumSquares(y) > 0 {
		line.RSquared = stat.RSquared(x, y, nil, alpha, beta)
	}

	return line, nil
}

// FitWithStats fits like Fit and also reports the correlation coefficient,
// the slope's standard error and its two-sided p-value. It needs at least
// three points so the t distribution has a degree of freedom.
func FitWithStats(x, y []float64) (Stats, error) {
	if err := check(x, y, 3); err != nil {
		return Stats{}, err
	}

	line, err := Fit(x, y)
	if err != nil {
		return Stats{}, err
	}

	n := len(x)
	df := float64(n - 2)
	s := Stats{Line: line, N: n, PValue: 1}

	ssy := sumSquares(y)
	if ssy == 0 {
		return s, nil
	}

	r := stat.Correlation(x, y, nil)
	r = math.Max(-1, math.Min(1, r))
	s.RValue = r
	s.RSquared = r * r

	oneMinusR2 := 1 - r*r
	if oneMinusR2 <= 0 {
		s.PValue = 0
		return s, nil
	}

	s.StdErr = math.Sqrt(oneMinusR2 * ssy / sumSquares(x) / df)

	t := r * math.Sqrt(df/oneMinusR2)
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	s.PValue = 2 * dist.Survival(math.Abs(t))

	return s, nil
}
