package main

import (
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/m2calib/scaling"
	"github.com/sarchlab/m2calib/simulator"
)

func newScalingCommand(opts *globalOptions) *cobra.Command {
	var (
		benchmarkNames []string
		sizes          []int
		benchDir       string
		simBinary      string
		outputDir      string
		minRSquared    float64
	)

	cmd := &cobra.Command{
		Use:   "scaling",
		Short: "Check that CPI trends hold across problem sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("sizes") {
				cfg.Scaling.Sizes = sizes
			}
			if flags.Changed("bench-dir") {
				cfg.Scaling.BenchDir = benchDir
			}
			if flags.Changed("simulator") {
				cfg.Simulator.Binary = simBinary
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return err
			}

			scanner := scaling.NewScanner(cfg.ScanConfig(), cfg.MakeBuilder(),
				simulator.NewRunner(cfg.RunnerConfig()))

			met := true
			for _, name := range benchmarkNames {
				logger := log.WithField("benchmark", name)

				points, failures, err := scanner.Scan(cmd.Context(), name)
				if err != nil {
					return err
				}

				a, err := scaling.Analyze(name, points)
				if err != nil {
					logger.WithError(err).Error("scaling analysis failed")
					met = false
					continue
				}

				base := filepath.Join(outputDir, name+"_scaling")
				if err := writeFile(base+".md", func(f *os.File) error {
					scaling.WriteMarkdown(f, a, failures, time.Now())
					return nil
				}); err != nil {
					return err
				}
				if err := writeFile(base+".json", func(f *os.File) error {
					return scaling.WriteJSON(f, a, failures)
				}); err != nil {
					return err
				}

				logger.WithFields(log.Fields{
					"points":    len(a.Points),
					"r_squared": a.RSquared,
					"velocity":  a.VelocityImprovement,
				}).Infof("report written to %s.md", base)

				if a.RSquared < minRSquared {
					met = false
				}
			}

			if !met {
				return targetMissed
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&benchmarkNames, "benchmark", nil, "PolyBench kernels to scan (repeatable or comma separated)")
	flags.IntSliceVar(&sizes, "sizes", scaling.DefaultSizes, "Problem sizes to scan, in order")
	flags.StringVar(&benchDir, "bench-dir", "", "Directory holding one kernel directory per benchmark")
	flags.StringVar(&simBinary, "simulator", "", "Simulator binary")
	flags.StringVar(&outputDir, "output", "scaling_results", "Directory for the reports")
	flags.Float64Var(&minRSquared, "min-r-squared", scaling.GoodFit, "R² each benchmark must reach")
	_ = cmd.MarkFlagRequired("benchmark")

	return cmd
}
