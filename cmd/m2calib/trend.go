package main

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/m2calib/report"
	"github.com/sarchlab/m2calib/trend"
)

// gitCommit describes HEAD of the current repository, or "unknown".
func gitCommit(ctx context.Context) trend.Commit {
	run := func(args ...string) string {
		out, err := exec.CommandContext(ctx, "git", args...).Output()
		if err != nil {
			return "unknown"
		}
		return strings.TrimSpace(string(out))
	}
	return trend.Commit{
		Hash:    run("rev-parse", "HEAD"),
		Message: run("log", "-1", "--pretty=%s"),
	}
}

func newTrendCommand(opts *globalOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Record simulator throughput and detect regressions",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "performance_metrics.db", "SQLite history file")

	cmd.AddCommand(newTrendRecordCommand(&dbPath), newTrendCheckCommand(opts, &dbPath))
	return cmd
}

func newTrendRecordCommand(dbPath *string) *cobra.Command {
	var (
		dataDir string
		commit  string
		message string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Store <mode>/<suite>/<benchmark>/output.txt results",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := gitCommit(cmd.Context())
			if commit != "" {
				c = trend.Commit{Hash: commit, Message: message}
			}

			records, err := trend.CollectOutputs(dataDir, c, time.Now())
			if err != nil {
				return err
			}

			store, err := trend.Open(*dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Store(records...); err != nil {
				return err
			}

			failed := 0
			for _, r := range records {
				if !r.Success {
					failed++
				}
			}
			log.WithFields(log.Fields{
				"records": len(records),
				"failed":  failed,
				"commit":  c.Hash,
			}).Info("recorded simulator results")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&dataDir, "data-dir", "", "Directory of simulator outputs")
	flags.StringVar(&commit, "commit", "", "Commit hash (default: git HEAD)")
	flags.StringVar(&message, "message", "", "Commit message")
	_ = cmd.MarkFlagRequired("data-dir")

	return cmd
}

func newTrendCheckCommand(opts *globalOptions, dbPath *string) *cobra.Command {
	var (
		threshold    float64
		baselineDays int
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report benchmarks slower than their baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("threshold") {
				cfg.RegressionPercent = threshold
			}
			if cmd.Flags().Changed("baseline-days") {
				cfg.BaselineAgeDays = baselineDays
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			store, err := trend.Open(*dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			regs, err := store.DetectRegressions(time.Now(), cfg.BaselineAge(), cfg.RegressionPercent)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(regs) == 0 {
				_, _ = fmt.Fprintln(w, "✅ No performance regressions detected")
				return nil
			}

			rows := make([][]string, 0, len(regs))
			for _, r := range regs {
				rows = append(rows, []string{
					r.Benchmark,
					r.Mode,
					fmt.Sprintf("%.0f", r.Baseline.InstructionsPerSec),
					fmt.Sprintf("%.0f", r.Current.InstructionsPerSec),
					fmt.Sprintf("%+.1f%%", r.ChangePercent),
					report.Truncate(r.Current.Commit, 12),
				})
			}
			_, _ = fmt.Fprintf(w, "⚠️  %d performance regressions detected!\n", len(regs))
			report.Console(w, []string{"Benchmark", "Mode", "Baseline IPS", "Current IPS", "Change", "Commit"}, rows)

			return targetMissed
		},
	}

	flags := cmd.Flags()
	flags.Float64Var(&threshold, "threshold", trend.DefaultThresholdPercent, "Slowdown percentage reported as a regression")
	flags.IntVar(&baselineDays, "baseline-days", 7, "Minimum baseline age in days")

	return cmd
}
