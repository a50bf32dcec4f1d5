// Package simulator runs the M2Sim timing simulator as a subprocess and
// parses the statistics it prints.
package simulator

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrMissingField is returned when required statistics are absent from the
// simulator output.
var ErrMissingField = errors.New("missing field")

// MissingFieldError names the required statistic that was not found.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return "missing field: " + e.Field
}

// Is reports ErrMissingField as a match.
func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// Metrics are the statistics of one simulation. Instructions is always
// present; the rest are nil when the simulator did not print them. The
// profile report carries no cycle count.
type Metrics struct {
	Instructions uint64  `json:"instructions"`
	Cycles       *uint64 `json:"cycles,omitempty"`

	// CPI is as printed, or Cycles/Instructions when not printed. It is
	// zero when neither is known.
	CPI float64 `json:"cpi"`

	// Elapsed is the simulator's own wall time
	Elapsed *time.Duration `json:"elapsed_ns,omitempty"`

	InstructionsPerSec *float64 `json:"instructions_per_sec,omitempty"`

	// ExitCode is the exit status of the simulated program
	ExitCode *int `json:"exit_code,omitempty"`
}

var (
	instructionsRe = regexp.MustCompile(`(?m)^\s*(?:Instructions executed|Total Instructions):\s*(\d+)`)
	cyclesRe       = regexp.MustCompile(`(?m)^\s*(?:Total )?Cycles:\s*(\d+)`)
	cpiRe          = regexp.MustCompile(`(?m)^\s*CPI:\s*([\d.]+)`)
	elapsedRe      = regexp.MustCompile(`(?m)^\s*Elapsed time:\s*(\S+)`)
	ipsRe          = regexp.MustCompile(`(?m)^\s*Instructions/second:\s*([\d.eE+]+)`)
	exitCodeRe     = regexp.MustCompile(`(?m)^\s*Exit code:\s*(-?\d+)`)
)

func find(re *regexp.Regexp, output string) (string, bool) {
	m := re.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Parse extracts Metrics from simulator output. Both the timing report
// ("Total Instructions", "Total Cycles", "CPI") and the profile report
// ("Instructions executed", "Elapsed time", "Instructions/second") are
// understood. A missing instruction count is a MissingFieldError; callers
// that need cycles check them with RequireCycles.
func Parse(output string) (Metrics, error) {
	var m Metrics

	v, ok := find(instructionsRe, output)
	if !ok {
		return Metrics{}, errors.WithStack(&MissingFieldError{Field: "instructions"})
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return Metrics{}, errors.Wrap(err, "instructions")
	}
	m.Instructions = n

	if v, ok = find(cyclesRe, output); ok {
		cycles, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Metrics{}, errors.Wrap(err, "cycles")
		}
		m.Cycles = &cycles
	}

	if v, ok = find(cpiRe, output); ok {
		if m.CPI, err = strconv.ParseFloat(strings.TrimSuffix(v, "."), 64); err != nil {
			return Metrics{}, errors.Wrap(err, "cpi")
		}
	} else if m.Cycles != nil && m.Instructions > 0 {
		m.CPI = float64(*m.Cycles) / float64(m.Instructions)
	}

	if v, ok = find(elapsedRe, output); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Metrics{}, errors.Wrap(err, "elapsed time")
		}
		m.Elapsed = &d
	}

	if v, ok = find(ipsRe, output); ok {
		ips, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Metrics{}, errors.Wrap(err, "instructions/second")
		}
		m.InstructionsPerSec = &ips
	}

	if v, ok = find(exitCodeRe, output); ok {
		code, err := strconv.Atoi(v)
		if err != nil {
			return Metrics{}, errors.Wrap(err, "exit code")
		}
		m.ExitCode = &code
	}

	return m, nil
}

// RequireCycles returns the cycle count, or a MissingFieldError when the
// simulator did not report one.
func (m Metrics) RequireCycles() (uint64, error) {
	if m.Cycles == nil {
		return 0, errors.WithStack(&MissingFieldError{Field: "cycles"})
	}
	return *m.Cycles, nil
}
