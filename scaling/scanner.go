package scaling

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/sarchlab/m2calib/simulator"
)

// DefaultSizes are the PolyBench problem sizes scanned by default.
var DefaultSizes = []int{64, 96, 128, 192, 256, 384, 512, 768, 1024}

// ErrBuild is returned when a benchmark cannot be built at a size.
var ErrBuild = errors.New("build failed")

// Builder produces the benchmark binary for one problem size.
type Builder interface {
	Build(ctx context.Context, benchmark string, size int) (string, error)
}

// Simulator runs a binary and reports its statistics.
type Simulator interface {
	Run(ctx context.Context, program string) (simulator.Result, error)
}

// MakeBuilder builds PolyBench kernels with make in <Dir>/<benchmark>,
// selecting the size through DATASET=CUSTOM and N.
type MakeBuilder struct {
	// Dir holds one directory per benchmark
	Dir string

	// Make is the make binary (default "make")
	Make string

	CleanTimeout time.Duration
	BuildTimeout time.Duration
}

// NewMakeBuilder creates a MakeBuilder with default timeouts.
func NewMakeBuilder(dir string) *MakeBuilder {
	return &MakeBuilder{
		Dir:          dir,
		Make:         "make",
		CleanTimeout: 30 * time.Second,
		BuildTimeout: 60 * time.Second,
	}
}

// Build cleans and rebuilds the benchmark, returning <Dir>/<benchmark>/<benchmark>.
func (b *MakeBuilder) Build(ctx context.Context, benchmark string, size int) (string, error) {
	dir := filepath.Join(b.Dir, benchmark)
	if _, err := os.Stat(dir); err != nil {
		return "", errors.Wrapf(ErrBuild, "benchmark directory %s: %v", dir, err)
	}

	if err := b.make(ctx, dir, b.CleanTimeout, nil, "clean"); err != nil {
		log.WithError(err).WithField("benchmark", benchmark).Debug("make clean failed")
	}

	n := fmt.Sprintf("N=%d", size)
	if err := b.make(ctx, dir, b.BuildTimeout, []string{"DATASET=CUSTOM", n},
		"DATASET=CUSTOM", n); err != nil {
		return "", err
	}

	binary := filepath.Join(dir, benchmark)
	if _, err := os.Stat(binary); err != nil {
		return "", errors.Wrapf(ErrBuild, "%s not produced", binary)
	}
	return binary, nil
}

func (b *MakeBuilder) make(
	ctx context.Context,
	dir string,
	timeout time.Duration,
	env []string,
	args ...string,
) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, b.Make, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrapf(ErrBuild, "make %s timed out after %v", strings.Join(args, " "), timeout)
	}
	if err != nil {
		return errors.Wrapf(ErrBuild, "make %s: %v: %s",
			strings.Join(args, " "), err, strings.TrimSpace(out.String()))
	}
	return nil
}

// ScanConfig controls a scan over problem sizes.
type ScanConfig struct {
	Sizes []int

	// EarlyStopPoints and EarlyStopRSquared end the scan once that many
	// points fit with at least that R²
	EarlyStopPoints   int
	EarlyStopRSquared float64
}

// DefaultScanConfig scans DefaultSizes and stops after 5 points at R² 0.95.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		Sizes:             append([]int(nil), DefaultSizes...),
		EarlyStopPoints:   5,
		EarlyStopRSquared: 0.95,
	}
}

// Failure records a size that produced no point.
type Failure struct {
	ProblemSize int    `json:"problem_size"`
	Reason      string `json:"reason"`
}

// Scanner measures a benchmark at increasing problem sizes.
type Scanner struct {
	config  ScanConfig
	builder Builder
	sim     Simulator
}

// NewScanner creates a Scanner.
func NewScanner(config ScanConfig, builder Builder, sim Simulator) *Scanner {
	return &Scanner{config: config, builder: builder, sim: sim}
}

// Scan builds and simulates benchmark at each configured size in order. A
// size that fails to build or simulate is recorded and skipped. Only
// cancellation of ctx aborts the scan.
func (s *Scanner) Scan(ctx context.Context, benchmark string) ([]Point, []Failure, error) {
	var (
		points   []Point
		failures []Failure
	)

	for _, size := range s.config.Sizes {
		if err := ctx.Err(); err != nil {
			return points, failures, err
		}

		logger := log.WithFields(log.Fields{"benchmark": benchmark, "size": size})

		p, err := s.measure(ctx, benchmark, size)
		if err != nil {
			logger.WithError(err).Warn("skipping size")
			failures = append(failures, Failure{ProblemSize: size, Reason: err.Error()})
			continue
		}

		points = append(points, p)
		logger.Infof("%d instructions, CPI=%.3f, time=%v",
			p.Instructions, p.CPI, p.SimulationTime().Round(time.Millisecond))

		if s.config.EarlyStopPoints > 0 && len(points) >= s.config.EarlyStopPoints {
			a, err := Analyze(benchmark, points)
			if err == nil && a.RSquared >= s.config.EarlyStopRSquared {
				logger.Infof("early stop: R²=%.4f over %d points", a.RSquared, len(points))
				break
			}
		}
	}

	return points, failures, nil
}

func (s *Scanner) measure(ctx context.Context, benchmark string, size int) (Point, error) {
	binary, err := s.builder.Build(ctx, benchmark, size)
	if err != nil {
		return Point{}, err
	}

	res, err := s.sim.Run(ctx, binary)
	if err != nil {
		return Point{}, err
	}

	return NewPoint(size, res)
}
