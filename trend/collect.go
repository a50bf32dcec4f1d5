package trend

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/sarchlab/m2calib/simulator"
)

// OutputFile is the simulator log name inside each benchmark directory.
const OutputFile = "output.txt"

// Commit identifies the simulator build the outputs came from.
type Commit struct {
	Hash    string
	Message string
}

// CollectOutputs turns every <mode>/<suite>/<benchmark>/output.txt below dir
// into a Record stamped with at and commit. Output that cannot be parsed, or
// that reports a non-zero exit code, yields an unsuccessful record.
func CollectOutputs(dir string, commit Commit, at time.Time) ([]Record, error) {
	var records []Record

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != OutputFile {
			return nil
		}

		rel, err := filepath.Rel(dir, filepath.Dir(path))
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			log.WithField("path", path).Debug("ignoring output outside mode/suite/benchmark")
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "failed to read %s", path)
		}

		records = append(records, recordFromOutput(string(data), parts, commit, at))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to collect outputs from %s", dir)
	}

	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Mode != b.Mode {
			return a.Mode < b.Mode
		}
		if a.Suite != b.Suite {
			return a.Suite < b.Suite
		}
		return a.Benchmark < b.Benchmark
	})

	return records, nil
}

func recordFromOutput(output string, parts []string, commit Commit, at time.Time) Record {
	r := Record{
		Timestamp:     at,
		Commit:        commit.Hash,
		CommitMessage: commit.Message,
		Mode:          parts[0],
		Suite:         parts[1],
		Benchmark:     parts[2],
	}

	m, err := simulator.Parse(output)
	if err != nil {
		log.WithError(err).WithField("benchmark", r.Benchmark).Warn("unparseable simulator output")
		return r
	}

	r.CPI = m.CPI
	if m.Elapsed != nil {
		r.ElapsedSec = m.Elapsed.Seconds()
	}
	switch {
	case m.InstructionsPerSec != nil:
		r.InstructionsPerSec = *m.InstructionsPerSec
	case r.ElapsedSec > 0:
		r.InstructionsPerSec = float64(m.Instructions) / r.ElapsedSec
	}
	r.Success = m.ExitCode == nil || *m.ExitCode == 0

	return r
}
