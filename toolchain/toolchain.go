// Package toolchain builds native ARM64 kernels with the host assembler and
// linker and times their execution.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// FallbackSDKPath is used when xcrun cannot report the active SDK.
const FallbackSDKPath = "/Library/Developer/CommandLineTools/SDKs/MacOSX.sdk"

var (
	// ErrBuild is returned when the assembler rejects a source.
	ErrBuild = errors.New("assembly failed")

	// ErrLink is returned when the linker fails.
	ErrLink = errors.New("link failed")

	// ErrUnexpectedExitCode is returned when a kernel exits with a status
	// other than the one it was generated to produce.
	ErrUnexpectedExitCode = errors.New("unexpected exit code")

	// ErrTimeout is returned when a subprocess exceeds its time bound.
	ErrTimeout = errors.New("timed out")
)

// ToolError carries the diagnostics of a failed assembler or linker run.
type ToolError struct {
	// Kind is ErrBuild or ErrLink
	Kind error

	Tool string

	// Output is the tool's stderr, verbatim
	Output string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%v: %s: %s", e.Kind, e.Tool, e.Output)
}

func (e *ToolError) Unwrap() error {
	return e.Kind
}

// Config configures the assembler and linker invocation.
type Config struct {
	// Assembler is the assembler binary (default "as")
	Assembler string

	// Linker is the linker binary (default "ld")
	Linker string

	// Xcrun locates the SDK when SDKPath is empty (default "xcrun")
	Xcrun string

	// SDKPath overrides SDK discovery
	SDKPath string

	// Arch is the target architecture (default "arm64")
	Arch string

	// BuildTimeout bounds each assembler and linker invocation
	BuildTimeout time.Duration
}

// DefaultConfig returns the macOS arm64 toolchain configuration.
func DefaultConfig() Config {
	return Config{
		Assembler:    "as",
		Linker:       "ld",
		Xcrun:        "xcrun",
		Arch:         "arm64",
		BuildTimeout: 30 * time.Second,
	}
}

// Builder turns an assembly source file into an executable.
type Builder interface {
	Build(ctx context.Context, dir, source string) (string, error)
}

// Toolchain is the Builder backed by the system assembler and linker.
type Toolchain struct {
	config Config

	sdkOnce sync.Once
	sdkPath string
}

// New creates a Toolchain. Empty config fields take their defaults.
func New(config Config) *Toolchain {
	def := DefaultConfig()
	if config.Assembler == "" {
		config.Assembler = def.Assembler
	}
	if config.Linker == "" {
		config.Linker = def.Linker
	}
	if config.Xcrun == "" {
		config.Xcrun = def.Xcrun
	}
	if config.Arch == "" {
		config.Arch = def.Arch
	}
	if config.BuildTimeout <= 0 {
		config.BuildTimeout = def.BuildTimeout
	}
	return &Toolchain{config: config}
}

// SDKPath returns the SDK root used for linking. It is resolved once, from
// the configuration, then xcrun, then FallbackSDKPath.
func (t *Toolchain) SDKPath(ctx context.Context) string {
	t.sdkOnce.Do(func() {
		if t.config.SDKPath != "" {
			t.sdkPath = t.config.SDKPath
			return
		}

		ctx, cancel := context.WithTimeout(ctx, t.config.BuildTimeout)
		defer cancel()

		out, err := exec.CommandContext(ctx, t.config.Xcrun, "--show-sdk-path").Output()
		path := strings.TrimSpace(string(out))
		if err != nil || path == "" {
			log.WithError(err).Debugf("xcrun unavailable, using %s", FallbackSDKPath)
			t.sdkPath = FallbackSDKPath
			return
		}
		t.sdkPath = path
	})
	return t.sdkPath
}

// Build assembles source and links it into dir, returning the executable
// path. Diagnostics of a failing step are carried in the error.
func (t *Toolchain) Build(ctx context.Context, dir, source string) (string, error) {
	obj := filepath.Join(dir, "benchmark.o")
	exe := filepath.Join(dir, "benchmark")

	if err := t.run(ctx, ErrBuild, t.config.Assembler, "-o", obj, source); err != nil {
		return "", err
	}

	sdk := t.SDKPath(ctx)
	err := t.run(ctx, ErrLink, t.config.Linker,
		"-o", exe, obj,
		"-lSystem",
		"-L", filepath.Join(sdk, "usr", "lib"),
		"-syslibroot", sdk,
		"-e", "_main",
		"-arch", t.config.Arch,
	)
	if err != nil {
		return "", err
	}

	return exe, nil
}

func (t *Toolchain) run(ctx context.Context, kind error, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, t.config.BuildTimeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	log.WithField("cmd", name).Debug(strings.Join(args, " "))

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrapf(ErrTimeout, "%s after %v", name, t.config.BuildTimeout)
	}
	if err != nil {
		diag := strings.TrimSpace(stderr.String())
		if diag == "" {
			diag = err.Error()
		}
		return errors.WithStack(&ToolError{Kind: kind, Tool: name, Output: diag})
	}

	return nil
}
