package main

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/m2calib/accuracy"
	"github.com/sarchlab/m2calib/calibration"
)

// parseCategoryFile splits "category=path".
func parseCategoryFile(s string) (string, string, error) {
	name, path, ok := strings.Cut(s, "=")
	if !ok || name == "" || path == "" {
		return "", "", errors.Errorf("expected category=path, got %q", s)
	}
	return name, path, nil
}

// parsePrior reads "name:count:average" where average is a fraction.
func parsePrior(s string) (accuracy.CategorySummary, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" {
		return accuracy.CategorySummary{}, errors.Errorf("expected name:count:average, got %q", s)
	}

	count, err := strconv.Atoi(parts[1])
	if err != nil || count < 0 {
		return accuracy.CategorySummary{}, errors.Errorf("bad count in %q", s)
	}
	avg, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || avg < 0 {
		return accuracy.CategorySummary{}, errors.Errorf("bad average in %q", s)
	}

	return accuracy.CategorySummary{Name: parts[0], Count: count, AverageError: avg}, nil
}

// loadSimCPIs reads a JSON object of benchmark name to simulated CPI.
func loadSimCPIs(path string) (map[string]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read simulator CPI file")
	}

	cpis := make(map[string]float64)
	if err := json.Unmarshal(data, &cpis); err != nil {
		return nil, errors.Wrapf(err, "failed to parse simulator CPI file %s", path)
	}
	return cpis, nil
}

func newAccuracyCommand(opts *globalOptions) *cobra.Command {
	var (
		calibrations   []string
		simCPIsPath    string
		priors         []string
		frequency      float64
		errorThreshold float64
		countThreshold int
		markdownPath   string
		jsonPath       string
	)

	cmd := &cobra.Command{
		Use:   "accuracy",
		Short: "Compare simulator CPI with calibrated hardware latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("frequency") {
				cfg.FrequencyGHz = frequency
			}
			if flags.Changed("error-threshold") {
				cfg.ErrorThreshold = errorThreshold
			}
			if flags.Changed("count-threshold") {
				cfg.CountThreshold = countThreshold
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			cpis, err := loadSimCPIs(simCPIsPath)
			if err != nil {
				return err
			}

			var (
				comparisons []accuracy.Comparison
				skipped     []accuracy.Skipped
			)
			for _, arg := range calibrations {
				category, path, err := parseCategoryFile(arg)
				if err != nil {
					return err
				}
				file, err := calibration.Load(path)
				if err != nil {
					return err
				}

				c, s, err := accuracy.BuildComparisons(category, file, cpis, cfg.FrequencyGHz)
				if err != nil {
					return err
				}
				comparisons = append(comparisons, c...)
				skipped = append(skipped, s...)
			}

			var summaries []accuracy.CategorySummary
			for _, p := range priors {
				s, err := parsePrior(p)
				if err != nil {
					return err
				}
				summaries = append(summaries, s)
			}

			rep, err := accuracy.Evaluate(comparisons, summaries, skipped, cfg.Thresholds())
			if err != nil {
				return err
			}

			if markdownPath == "" {
				accuracy.WriteMarkdown(cmd.OutOrStdout(), rep)
			} else if err := writeFile(markdownPath, func(f *os.File) error {
				accuracy.WriteMarkdown(f, rep)
				return nil
			}); err != nil {
				return err
			}

			if jsonPath != "" {
				if err := writeFile(jsonPath, func(f *os.File) error {
					return accuracy.WriteJSON(f, rep)
				}); err != nil {
					return err
				}
			}

			log.WithFields(log.Fields{
				"benchmarks": rep.Overall.Count,
				"error":      rep.Overall.AverageError,
				"status":     rep.Status,
			}).Infof("accuracy gate: %s", rep.Verdict)

			if rep.ExitCode() != 0 {
				return &exitError{code: rep.ExitCode()}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVar(&calibrations, "calibration", nil, "Hardware calibration as category=path.json (repeatable)")
	flags.StringVar(&simCPIsPath, "sim-cpis", "", "JSON object of benchmark name to simulated CPI")
	flags.StringArrayVar(&priors, "prior", nil, "Previously measured category as name:count:average (repeatable)")
	flags.Float64Var(&frequency, "frequency", calibration.DefaultFrequencyGHz, "Clock frequency in GHz for CPI conversion")
	flags.Float64Var(&errorThreshold, "error-threshold", accuracy.DefaultThresholds().Error, "Combined error must be below this")
	flags.IntVar(&countThreshold, "count-threshold", accuracy.DefaultThresholds().Count, "Minimum number of benchmarks")
	flags.StringVar(&markdownPath, "markdown", "", "Write the Markdown report here instead of stdout")
	flags.StringVar(&jsonPath, "json", "", "Also write the report as JSON")
	_ = cmd.MarkFlagRequired("sim-cpis")

	return cmd
}

// writeFile creates path and hands it to write.
func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}

	if err := write(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return errors.Wrapf(f.Close(), "failed to close %s", path)
}
