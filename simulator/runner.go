package simulator

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Mode selects how the simulator models time.
type Mode string

const (
	// ModeEmulation runs functional emulation only.
	ModeEmulation Mode = "emulation"

	// ModeTiming runs the full cycle-level pipeline model.
	ModeTiming Mode = "timing"

	// ModeFastTiming runs the reduced-fidelity timing model.
	ModeFastTiming Mode = "fast-timing"
)

var (
	// ErrTimeout is returned when a simulation exceeds its time bound.
	ErrTimeout = errors.New("simulation timed out")

	// ErrFailed is returned when the simulator exits non-zero.
	ErrFailed = errors.New("simulation failed")
)

// RunnerConfig configures simulator invocations.
type RunnerConfig struct {
	// Binary is the simulator executable
	Binary string

	Mode Mode

	// MaxInstructions caps the simulated instruction count, 0 for no cap
	MaxInstructions uint64

	// Timeout bounds one simulation
	Timeout time.Duration
}

// DefaultRunnerConfig returns the configuration used for scaling scans.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Binary:          "profile",
		Mode:            ModeFastTiming,
		MaxInstructions: 5_000_000,
		Timeout:         10 * time.Minute,
	}
}

// Result is one completed simulation.
type Result struct {
	Metrics

	// WallTime is how long the simulator process ran
	WallTime time.Duration `json:"wall_time_ns"`
}

// Runner invokes the simulator on program binaries.
type Runner struct {
	config RunnerConfig
}

// NewRunner creates a Runner.
func NewRunner(config RunnerConfig) *Runner {
	if config.Timeout <= 0 {
		config.Timeout = DefaultRunnerConfig().Timeout
	}
	return &Runner{config: config}
}

// Args returns the simulator arguments for program.
func (r *Runner) Args(program string) []string {
	var args []string
	switch r.config.Mode {
	case ModeTiming:
		args = append(args, "-timing")
	case ModeFastTiming:
		args = append(args, "-fast-timing")
	}
	if r.config.MaxInstructions > 0 {
		args = append(args, "-max-instr", strconv.FormatUint(r.config.MaxInstructions, 10))
	}
	return append(args, program)
}

// Run simulates program and parses the reported statistics.
func (r *Runner) Run(ctx context.Context, program string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	args := r.Args(program)
	cmd := exec.CommandContext(ctx, r.config.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.WithField("cmd", r.config.Binary).Debug(strings.Join(args, " "))

	start := time.Now()
	err := cmd.Run()
	wall := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return Result{}, errors.Wrapf(ErrTimeout, "%s after %v", program, r.config.Timeout)
	}
	if err != nil {
		return Result{}, errors.Wrapf(ErrFailed, "%s: %v: %s",
			program, err, strings.TrimSpace(stderr.String()))
	}

	m, err := Parse(stdout.String())
	if err != nil {
		return Result{}, errors.Wrapf(err, "parse output of %s", program)
	}

	return Result{Metrics: m, WallTime: wall}, nil
}
