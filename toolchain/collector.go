package toolchain

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultRunTimeout bounds a single kernel execution.
const DefaultRunTimeout = 600 * time.Second

// Collector builds a kernel once and times repeated executions of it.
type Collector struct {
	builder    Builder
	runTimeout time.Duration
	tempRoot   string
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithRunTimeout bounds every execution of the kernel.
func WithRunTimeout(d time.Duration) CollectorOption {
	return func(c *Collector) {
		c.runTimeout = d
	}
}

// WithTempRoot places the scratch directories under root instead of the
// system temp directory.
func WithTempRoot(root string) CollectorOption {
	return func(c *Collector) {
		c.tempRoot = root
	}
}

// NewCollector creates a Collector that builds with builder.
func NewCollector(builder Builder, opts ...CollectorOption) *Collector {
	c := &Collector{
		builder:    builder,
		runTimeout: DefaultRunTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect writes source to a scratch directory, builds it and runs the
// executable warmup+runs times back to back. Warmup timings are discarded;
// the runs timings are returned in execution order. Every execution,
// warmup included, must exit with expectedExit. The scratch directory is
// removed before Collect returns.
func (c *Collector) Collect(
	ctx context.Context,
	source string,
	runs, warmup, expectedExit int,
) ([]time.Duration, error) {
	if runs < 1 {
		return nil, errors.Errorf("runs must be >= 1, got %d", runs)
	}
	if warmup < 0 {
		return nil, errors.Errorf("warmup must be >= 0, got %d", warmup)
	}

	dir, err := os.MkdirTemp(c.tempRoot, "m2calib-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create scratch directory")
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.WithError(err).Warnf("failed to remove %s", dir)
		}
	}()

	src := filepath.Join(dir, "benchmark.s")
	if err := os.WriteFile(src, []byte(source), 0644); err != nil {
		return nil, errors.Wrap(err, "failed to write benchmark source")
	}

	exe, err := c.builder.Build(ctx, dir, src)
	if err != nil {
		return nil, err
	}

	for i := 0; i < warmup; i++ {
		if _, err := c.runOnce(ctx, exe, expectedExit); err != nil {
			return nil, errors.Wrapf(err, "warmup run %d", i+1)
		}
	}

	times := make([]time.Duration, 0, runs)
	for i := 0; i < runs; i++ {
		d, err := c.runOnce(ctx, exe, expectedExit)
		if err != nil {
			return nil, errors.Wrapf(err, "timed run %d", i+1)
		}
		times = append(times, d)
	}

	return times, nil
}

func (c *Collector) runOnce(ctx context.Context, exe string, expectedExit int) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.runTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, exe)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return 0, errors.Wrapf(ErrTimeout, "execution after %v", c.runTimeout)
	}

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return 0, errors.Wrap(err, "failed to execute benchmark")
		}
		code = exitErr.ExitCode()
	}

	if code != expectedExit {
		return 0, errors.Wrapf(ErrUnexpectedExitCode, "got %d, want %d", code, expectedExit)
	}

	return elapsed, nil
}
