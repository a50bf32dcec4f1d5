// Command m2calib calibrates the M2 simulator against native hardware
// timings and checks its accuracy.
//
// Usage:
//
//	m2calib [--config run.json] [--log-level info] <command> [flags]
//
// Commands:
//
//	calibrate   time the native kernels and fit latency and overhead
//	accuracy    compare simulator CPI with calibrated hardware latency
//	scaling     check that CPI trends hold across problem sizes
//	trend       record simulator throughput and detect regressions
//	config      write the default run configuration
//
// Example:
//
//	# Calibrate three kernels and save the fits
//	m2calib calibrate --benchmarks arithmetic,dependency,branch --output calibration.json
//
//	# Gate simulator accuracy at 20% over 15 benchmarks
//	m2calib accuracy --calibration micro=calibration.json --sim-cpis cpis.json
//
// Exit status is 0 when the command's target is met and 1 otherwise.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/m2calib/config"
)

// exitError ends the process with code and no error message.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return "target not met"
}

// targetMissed reports a completed run that did not meet its target.
var targetMissed = &exitError{code: 1}

type globalOptions struct {
	configPath string
	logLevel   string
}

func (o *globalOptions) load() (*config.RunConfig, error) {
	cfg := config.DefaultRunConfig()
	if o.configPath != "" {
		var err error
		cfg, err = config.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "m2calib",
		Short:         "Calibration and accuracy tooling for the M2 simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLevel(opts.logLevel)
			if err != nil {
				return errors.Wrap(err, "invalid --log-level")
			}
			log.SetLevel(level)
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
			log.SetOutput(cmd.ErrOrStderr())
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a run configuration JSON file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newCalibrateCommand(opts),
		newAccuracyCommand(opts),
		newScalingCommand(opts),
		newTrendCommand(opts),
		newConfigCommand(opts),
	)

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCommand().ExecuteContext(ctx)
	if err == nil {
		return
	}

	var ee *exitError
	if errors.As(err, &ee) {
		stop()
		os.Exit(ee.code)
	}

	log.Error(err)
	stop()
	os.Exit(1)
}
