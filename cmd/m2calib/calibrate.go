package main

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/m2calib/benchmarks"
	"github.com/sarchlab/m2calib/calibration"
	"github.com/sarchlab/m2calib/toolchain"
)

func newCalibrateCommand(opts *globalOptions) *cobra.Command {
	var (
		names   []string
		core    bool
		runs    int
		warmup  int
		trim    float64
		jobs    int
		output  string
		csv     bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Time the native kernels and fit per-instruction latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("runs") {
				cfg.Runs = runs
			}
			if flags.Changed("warmup") {
				cfg.Warmup = warmup
			}
			if flags.Changed("trim") {
				cfg.TrimFraction = trim
			}
			if flags.Changed("jobs") {
				cfg.Jobs = jobs
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			registry := benchmarks.DefaultRegistry()
			if core {
				if registry, err = benchmarks.NewRegistry(benchmarks.GetCoreBenchmarks()...); err != nil {
					return err
				}
			}

			tc := toolchain.New(cfg.ToolchainConfig())
			collector := toolchain.NewCollector(tc, toolchain.WithRunTimeout(cfg.RunTimeout()))

			hc := cfg.HarnessConfig()
			hc.Output = cmd.OutOrStdout()
			hc.Verbose = verbose
			harness := benchmarks.NewHarness(hc, registry, collector)

			if len(names) == 0 {
				harness.AddAll()
			} else if err := harness.AddTemplates(names...); err != nil {
				return err
			}

			log.WithFields(log.Fields{
				"runs":   cfg.Runs,
				"warmup": cfg.Warmup,
				"trim":   cfg.TrimFraction,
				"jobs":   cfg.Jobs,
			}).Info("starting calibration")

			results, err := harness.RunAll(cmd.Context())
			if err != nil {
				return err
			}

			if csv {
				harness.PrintCSV(results)
			} else {
				harness.PrintResults(results)
			}

			if output != "" {
				if err := calibration.NewFile(results).Save(output); err != nil {
					return err
				}
				log.WithField("path", output).Info("calibration results saved")
			}

			calibrated := 0
			for _, r := range results {
				if r.Calibrated {
					calibrated++
				}
			}
			if calibrated == 0 {
				return errors.New("no benchmark could be calibrated")
			}
			if calibrated < len(results) {
				return targetMissed
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&names, "benchmarks", nil, "Kernels to calibrate (default: all)")
	flags.BoolVar(&core, "core", false, "Use only the arithmetic, dependency and branch kernels")
	flags.IntVar(&runs, "runs", 15, "Timed runs per data point")
	flags.IntVar(&warmup, "warmup", 3, "Discarded runs before the timed ones")
	flags.Float64Var(&trim, "trim", 0.2, "Fraction trimmed from each end of the timings")
	flags.IntVar(&jobs, "jobs", 1, "Kernels calibrated concurrently")
	flags.StringVar(&output, "output", "", "Write the calibration JSON to this path")
	flags.BoolVar(&csv, "csv", false, "Print results as CSV")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Print every data point")

	return cmd
}
