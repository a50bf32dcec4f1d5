// Package scaling checks that simulator behaviour measured at small problem
// sizes carries over to large ones.
package scaling

import (
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/sarchlab/m2calib/regression"
	"github.com/sarchlab/m2calib/simulator"
)

// MinPoints is the number of successful sizes an analysis needs.
const MinPoints = 3

// z95 is the two-sided 95% normal quantile used for the slope interval.
const z95 = 1.96

var (
	// ErrInsufficientData is returned for fewer than MinPoints points.
	ErrInsufficientData = regression.ErrInsufficientData

	// ErrDegenerateInput is returned when every point has the same size or
	// the time ratios cannot be formed.
	ErrDegenerateInput = regression.ErrDegenerateInput
)

// Point is one simulated problem size.
type Point struct {
	// ProblemSize is the linear size parameter N
	ProblemSize int `json:"problem_size"`

	// ProblemVolume is N³
	ProblemVolume float64 `json:"problem_volume"`

	Instructions uint64  `json:"instructions"`
	Cycles       uint64  `json:"cycles"`
	CPI          float64 `json:"cpi"`

	// WallTimeSec is the simulator's self-reported elapsed time
	WallTimeSec float64 `json:"wall_time_sec"`

	// SimulationTimeSec is the measured duration of the simulator process
	SimulationTimeSec float64 `json:"simulation_time_sec"`

	InstructionsPerSec float64 `json:"instructions_per_sec"`
}

// NewPoint builds a Point from one simulation. The cycle count is required;
// other statistics the simulator did not print are left at zero.
func NewPoint(size int, res simulator.Result) (Point, error) {
	cycles, err := res.RequireCycles()
	if err != nil {
		return Point{}, errors.Wrapf(err, "size %d", size)
	}

	p := Point{
		ProblemSize:       size,
		ProblemVolume:     math.Pow(float64(size), 3),
		Instructions:      res.Instructions,
		Cycles:            cycles,
		CPI:               res.CPI,
		SimulationTimeSec: res.WallTime.Seconds(),
	}
	if res.Elapsed != nil {
		p.WallTimeSec = res.Elapsed.Seconds()
	}
	if res.InstructionsPerSec != nil {
		p.InstructionsPerSec = *res.InstructionsPerSec
	}
	return p, nil
}

// SimulationTime returns SimulationTimeSec as a duration.
func (p Point) SimulationTime() time.Duration {
	return time.Duration(p.SimulationTimeSec * float64(time.Second))
}

// Analysis is the fitted trend of CPI over problem volume.
type Analysis struct {
	Benchmark string `json:"benchmark"`

	// Points are sorted by ascending problem size
	Points []Point `json:"points"`

	// RSquared is RValue² of CPI against log(volume)
	RSquared  float64 `json:"r_squared"`
	RValue    float64 `json:"r_value"`
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	PValue    float64 `json:"p_value"`
	StdErr    float64 `json:"std_err"`

	// ConfidenceInterval is slope ± 1.96·StdErr
	ConfidenceInterval [2]float64 `json:"confidence_interval"`

	// ScalingFactor is the largest-to-smallest simulation time ratio divided
	// by the cube of the size ratio; 1 means time grows with N³
	ScalingFactor float64 `json:"scaling_factor"`

	// VelocityImprovement is how much faster a small problem iterates than
	// a large one
	VelocityImprovement float64 `json:"velocity_improvement"`
}

// Analyze fits CPI against the natural log of problem volume. Only the
// independent variable is logged.
func Analyze(benchmark string, points []Point) (Analysis, error) {
	if len(points) < MinPoints {
		return Analysis{}, errors.Wrapf(ErrInsufficientData,
			"%s: %d points, need %d", benchmark, len(points), MinPoints)
	}

	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ProblemSize < sorted[j].ProblemSize
	})

	x := make([]float64, len(sorted))
	y := make([]float64, len(sorted))
	for i, p := range sorted {
		x[i] = math.Log(p.ProblemVolume)
		y[i] = p.CPI
	}

	fit, err := regression.FitWithStats(x, y)
	if err != nil {
		return Analysis{}, errors.Wrapf(err, "%s", benchmark)
	}

	first, last := sorted[0], sorted[len(sorted)-1]
	if first.SimulationTimeSec <= 0 || first.ProblemSize <= 0 {
		return Analysis{}, errors.Wrapf(ErrDegenerateInput,
			"%s: smallest point has size %d and time %vs",
			benchmark, first.ProblemSize, first.SimulationTimeSec)
	}
	timeRatio := last.SimulationTimeSec / first.SimulationTimeSec
	sizeRatio := float64(last.ProblemSize) / float64(first.ProblemSize)

	return Analysis{
		Benchmark: benchmark,
		Points:    sorted,
		RSquared:  fit.RValue * fit.RValue,
		RValue:    fit.RValue,
		Slope:     fit.Slope,
		Intercept: fit.Intercept,
		PValue:    fit.PValue,
		StdErr:    fit.StdErr,
		ConfidenceInterval: [2]float64{
			fit.Slope - z95*fit.StdErr,
			fit.Slope + z95*fit.StdErr,
		},
		ScalingFactor:       timeRatio / math.Pow(sizeRatio, 3),
		VelocityImprovement: velocity(sorted),
	}, nil
}

// velocity compares the first size of at least 512 against the first size
// of at most 128. A missing small point counts as one second and a missing
// large point as ten times the small one.
func velocity(points []Point) float64 {
	small := 1.0
	for _, p := range points {
		if p.ProblemSize <= 128 {
			small = p.SimulationTimeSec
			break
		}
	}

	large := small * 10
	for _, p := range points {
		if p.ProblemSize >= 512 {
			large = p.SimulationTimeSec
			break
		}
	}

	if small == 0 {
		return 0
	}
	return large / small
}
