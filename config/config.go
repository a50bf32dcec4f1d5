// Package config holds the settings shared by every m2calib command.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/sarchlab/m2calib/accuracy"
	"github.com/sarchlab/m2calib/benchmarks"
	"github.com/sarchlab/m2calib/calibration"
	"github.com/sarchlab/m2calib/robust"
	"github.com/sarchlab/m2calib/scaling"
	"github.com/sarchlab/m2calib/simulator"
	"github.com/sarchlab/m2calib/toolchain"
	"github.com/sarchlab/m2calib/trend"
)

// RunConfig holds calibration, accuracy, scaling and trend settings.
type RunConfig struct {
	// Runs is the number of timed executions per data point. Default: 15.
	Runs int `json:"runs"`

	// Warmup is the number of discarded executions before the timed ones.
	// Default: 3.
	Warmup int `json:"warmup"`

	// TrimFraction is removed from each end of the sorted timings.
	// Default: 0.2.
	TrimFraction float64 `json:"trim_fraction"`

	// IterationCounts are the loop counts each kernel is measured at.
	// Default: 1M to 32M, doubling.
	IterationCounts []uint64 `json:"iteration_counts"`

	// Jobs is how many kernels are calibrated concurrently. Default: 1.
	Jobs int `json:"jobs"`

	// FrequencyGHz converts simulated CPI to latency. Default: 3.5.
	FrequencyGHz float64 `json:"frequency_ghz"`

	// ErrorThreshold is the exclusive bound on the combined accuracy error.
	// Default: 0.20.
	ErrorThreshold float64 `json:"error_threshold"`

	// CountThreshold is the minimum number of compared benchmarks.
	// Default: 15.
	CountThreshold int `json:"count_threshold"`

	// RegressionPercent is the throughput drop reported as a regression.
	// Default: 10.
	RegressionPercent float64 `json:"regression_percent"`

	// BaselineAgeDays is how old a trend baseline must be. Default: 7.
	BaselineAgeDays int `json:"baseline_age_days"`

	Toolchain ToolchainConfig `json:"toolchain"`
	Simulator SimulatorConfig `json:"simulator"`
	Scaling   ScalingConfig   `json:"scaling"`
}

// ToolchainConfig selects the native assembler, linker and SDK.
type ToolchainConfig struct {
	Assembler string `json:"assembler"`
	Linker    string `json:"linker"`
	Xcrun     string `json:"xcrun"`

	// SDKPath overrides xcrun discovery when set
	SDKPath string `json:"sdk_path,omitempty"`

	Arch string `json:"arch"`

	// BuildTimeoutSec bounds each assembler and linker call. Default: 30.
	BuildTimeoutSec float64 `json:"build_timeout_sec"`

	// RunTimeoutSec bounds each kernel execution. Default: 600.
	RunTimeoutSec float64 `json:"run_timeout_sec"`
}

// SimulatorConfig selects the simulator binary and how it is invoked.
type SimulatorConfig struct {
	Binary string `json:"binary"`

	// Mode is emulation, timing or fast-timing. Default: fast-timing.
	Mode string `json:"mode"`

	// MaxInstructions caps each simulation, 0 for none. Default: 5000000.
	MaxInstructions uint64 `json:"max_instructions"`

	// TimeoutSec bounds one simulation. Default: 600.
	TimeoutSec float64 `json:"timeout_sec"`
}

// ScalingConfig controls problem-size scans.
type ScalingConfig struct {
	// BenchDir holds one PolyBench kernel directory per benchmark
	BenchDir string `json:"bench_dir"`

	// Make is the make binary. Default: make.
	Make string `json:"make"`

	// Sizes are the problem sizes scanned in order
	Sizes []int `json:"sizes"`

	CleanTimeoutSec float64 `json:"clean_timeout_sec"`
	BuildTimeoutSec float64 `json:"build_timeout_sec"`

	// EarlyStopPoints and EarlyStopRSquared end a scan once that many
	// points fit that well. Default: 5 and 0.95.
	EarlyStopPoints   int     `json:"early_stop_points"`
	EarlyStopRSquared float64 `json:"early_stop_r_squared"`
}

// DefaultRunConfig returns the settings used when no file is given.
func DefaultRunConfig() *RunConfig {
	harness := benchmarks.DefaultConfig()
	tc := toolchain.DefaultConfig()
	sim := simulator.DefaultRunnerConfig()
	scan := scaling.DefaultScanConfig()
	mk := scaling.NewMakeBuilder("")
	th := accuracy.DefaultThresholds()

	return &RunConfig{
		Runs:              harness.Runs,
		Warmup:            harness.Warmup,
		TrimFraction:      robust.DefaultTrimFraction,
		IterationCounts:   harness.IterationCounts,
		Jobs:              harness.Jobs,
		FrequencyGHz:      calibration.DefaultFrequencyGHz,
		ErrorThreshold:    th.Error,
		CountThreshold:    th.Count,
		RegressionPercent: trend.DefaultThresholdPercent,
		BaselineAgeDays:   int(trend.DefaultBaselineAge / (24 * time.Hour)),
		Toolchain: ToolchainConfig{
			Assembler:       tc.Assembler,
			Linker:          tc.Linker,
			Xcrun:           tc.Xcrun,
			Arch:            tc.Arch,
			BuildTimeoutSec: tc.BuildTimeout.Seconds(),
			RunTimeoutSec:   toolchain.DefaultRunTimeout.Seconds(),
		},
		Simulator: SimulatorConfig{
			Binary:          sim.Binary,
			Mode:            string(sim.Mode),
			MaxInstructions: sim.MaxInstructions,
			TimeoutSec:      sim.Timeout.Seconds(),
		},
		Scaling: ScalingConfig{
			BenchDir:          "benchmarks/polybench",
			Make:              mk.Make,
			Sizes:             scan.Sizes,
			CleanTimeoutSec:   mk.CleanTimeout.Seconds(),
			BuildTimeoutSec:   mk.BuildTimeout.Seconds(),
			EarlyStopPoints:   scan.EarlyStopPoints,
			EarlyStopRSquared: scan.EarlyStopRSquared,
		},
	}
}

// LoadConfig reads a RunConfig from a JSON file. Fields missing from the
// file keep their defaults.
func LoadConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	config := DefaultRunConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}

	return config, nil
}

// SaveConfig writes a RunConfig to a JSON file.
func (c *RunConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to serialize config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// Validate checks that the settings can drive a run.
func (c *RunConfig) Validate() error {
	if c.Runs < 1 {
		return errors.New("runs must be >= 1")
	}
	if c.Warmup < 0 {
		return errors.New("warmup must be >= 0")
	}
	if c.TrimFraction < 0 || c.TrimFraction >= 0.5 {
		return errors.New("trim_fraction must be in [0, 0.5)")
	}
	if len(c.IterationCounts) < 2 {
		return errors.New("iteration_counts needs at least 2 entries")
	}
	for _, n := range c.IterationCounts {
		if n == 0 || n > benchmarks.MaxIterations {
			return errors.Errorf("iteration count %d out of range", n)
		}
	}
	if c.Jobs < 1 {
		return errors.New("jobs must be >= 1")
	}
	if c.FrequencyGHz <= 0 {
		return errors.New("frequency_ghz must be > 0")
	}
	if c.ErrorThreshold <= 0 {
		return errors.New("error_threshold must be > 0")
	}
	if c.CountThreshold < 0 {
		return errors.New("count_threshold must be >= 0")
	}
	if c.RegressionPercent <= 0 || c.RegressionPercent >= 100 {
		return errors.New("regression_percent must be in (0, 100)")
	}

	switch simulator.Mode(c.Simulator.Mode) {
	case simulator.ModeEmulation, simulator.ModeTiming, simulator.ModeFastTiming:
	default:
		return errors.Errorf("unknown simulator mode %q", c.Simulator.Mode)
	}

	if len(c.Scaling.Sizes) < scaling.MinPoints {
		return errors.Errorf("scaling.sizes needs at least %d entries", scaling.MinPoints)
	}
	for _, s := range c.Scaling.Sizes {
		if s <= 0 {
			return errors.Errorf("scaling size %d must be > 0", s)
		}
	}

	return nil
}

// Clone returns a deep copy of the RunConfig.
func (c *RunConfig) Clone() *RunConfig {
	out := *c
	out.IterationCounts = append([]uint64(nil), c.IterationCounts...)
	out.Scaling.Sizes = append([]int(nil), c.Scaling.Sizes...)
	return &out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// HarnessConfig returns the calibration harness settings. Output is left
// for the caller.
func (c *RunConfig) HarnessConfig() benchmarks.HarnessConfig {
	return benchmarks.HarnessConfig{
		IterationCounts: append([]uint64(nil), c.IterationCounts...),
		Runs:            c.Runs,
		Warmup:          c.Warmup,
		TrimFraction:    c.TrimFraction,
		Jobs:            c.Jobs,
	}
}

// ToolchainConfig returns the assembler and linker settings.
func (c *RunConfig) ToolchainConfig() toolchain.Config {
	return toolchain.Config{
		Assembler:    c.Toolchain.Assembler,
		Linker:       c.Toolchain.Linker,
		Xcrun:        c.Toolchain.Xcrun,
		SDKPath:      c.Toolchain.SDKPath,
		Arch:         c.Toolchain.Arch,
		BuildTimeout: seconds(c.Toolchain.BuildTimeoutSec),
	}
}

// RunTimeout bounds one kernel execution.
func (c *RunConfig) RunTimeout() time.Duration {
	return seconds(c.Toolchain.RunTimeoutSec)
}

// RunnerConfig returns the simulator invocation settings.
func (c *RunConfig) RunnerConfig() simulator.RunnerConfig {
	return simulator.RunnerConfig{
		Binary:          c.Simulator.Binary,
		Mode:            simulator.Mode(c.Simulator.Mode),
		MaxInstructions: c.Simulator.MaxInstructions,
		Timeout:         seconds(c.Simulator.TimeoutSec),
	}
}

// ScanConfig returns the problem-size scan settings.
func (c *RunConfig) ScanConfig() scaling.ScanConfig {
	return scaling.ScanConfig{
		Sizes:             append([]int(nil), c.Scaling.Sizes...),
		EarlyStopPoints:   c.Scaling.EarlyStopPoints,
		EarlyStopRSquared: c.Scaling.EarlyStopRSquared,
	}
}

// MakeBuilder returns the PolyBench builder for scans.
func (c *RunConfig) MakeBuilder() *scaling.MakeBuilder {
	b := scaling.NewMakeBuilder(c.Scaling.BenchDir)
	if c.Scaling.Make != "" {
		b.Make = c.Scaling.Make
	}
	if c.Scaling.CleanTimeoutSec > 0 {
		b.CleanTimeout = seconds(c.Scaling.CleanTimeoutSec)
	}
	if c.Scaling.BuildTimeoutSec > 0 {
		b.BuildTimeout = seconds(c.Scaling.BuildTimeoutSec)
	}
	return b
}

// Thresholds returns the accuracy targets.
func (c *RunConfig) Thresholds() accuracy.Thresholds {
	return accuracy.Thresholds{Error: c.ErrorThreshold, Count: c.CountThreshold}
}

// BaselineAge returns how old a trend baseline must be.
func (c *RunConfig) BaselineAge() time.Duration {
	return time.Duration(c.BaselineAgeDays) * 24 * time.Hour
}
