package scaling

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sarchlab/m2calib/report"
)

// GoodFit is the R² above which small-size results are trusted to
// represent large sizes.
const GoodFit = 0.95

// RobustPoints is the number of data points a trustworthy scan needs.
const RobustPoints = 5

// TargetVelocity is the speedup small sizes should give over large ones.
const TargetVelocity = 3.0

// WriteMarkdown renders the scaling report for one benchmark.
func WriteMarkdown(w io.Writer, a Analysis, failures []Failure, generated time.Time) {
	p := func(format string, args ...any) {
		_, _ = fmt.Fprintf(w, format+"\n", args...)
	}

	good := a.RSquared >= GoodFit
	significant := a.PValue < 0.05

	p("# Scaling Validation: %s", a.Benchmark)
	p("")
	p("Generated %s", generated.UTC().Format(time.RFC3339))
	p("")
	p("## Summary Statistics")
	p("")
	p("- **Points:** %d (%d sizes failed)", len(a.Points), len(failures))
	p("- **R²:** %.4f %s", a.RSquared, report.Check(good))
	p("- **Slope:** %.6f CPI per log-volume", a.Slope)
	p("- **95%% Confidence Interval:** [%.6f, %.6f]", a.ConfidenceInterval[0], a.ConfidenceInterval[1])
	p("- **p-value:** %.4g", a.PValue)
	p("- **Scaling Factor:** %.3f", a.ScalingFactor)
	p("- **Velocity Improvement:** %.1fx", a.VelocityImprovement)
	p("")
	p("## Scaling Data Points")
	p("")

	rows := make([][]string, 0, len(a.Points))
	for _, pt := range a.Points {
		rows = append(rows, []string{
			fmt.Sprint(pt.ProblemSize),
			fmt.Sprintf("%.3g", pt.ProblemVolume),
			fmt.Sprint(pt.Instructions),
			fmt.Sprint(pt.Cycles),
			fmt.Sprintf("%.4f", pt.CPI),
			fmt.Sprintf("%.3f", pt.SimulationTimeSec),
		})
	}
	report.Markdown(w, []string{"Size", "Volume", "Instructions", "Cycles", "CPI", "Time (s)"}, rows)

	if len(failures) > 0 {
		p("")
		p("### Failed Sizes")
		p("")
		for _, f := range failures {
			p("- N=%d: %s", f.ProblemSize, f.Reason)
		}
	}

	p("")
	p("## Statistical Validation Analysis")
	p("")
	switch {
	case good:
		p("CPI follows log(volume) closely (R² %.4f). Results at small sizes "+
			"extrapolate to large sizes.", a.RSquared)
	case a.RSquared >= 0.8:
		p("CPI follows log(volume) moderately (R² %.4f). Extrapolation carries "+
			"noticeable uncertainty.", a.RSquared)
	default:
		p("CPI does not follow log(volume) (R² %.4f). Small sizes do not "+
			"represent large ones.", a.RSquared)
	}
	if significant {
		p("The slope is statistically significant (p=%.4g).", a.PValue)
	} else {
		p("The slope is not statistically significant (p=%.4g); CPI is roughly "+
			"size independent.", a.PValue)
	}

	p("")
	p("## Recommendations")
	p("")
	if good {
		p("- Use sizes up to %d for accuracy runs; they simulate %.1fx faster than large sizes",
			largestSmall(a.Points), a.VelocityImprovement)
	} else {
		p("- Validate %s at full size before relying on reduced inputs", a.Benchmark)
	}
	if a.ScalingFactor > 1.5 {
		p("- Simulation time grows faster than N³ (factor %.2f); check for cache thrashing",
			a.ScalingFactor)
	}

	p("")
	p("## Quality Assurance Checklist")
	p("")
	p("- [%s] R² ≥ %.2f", report.Check(good), GoodFit)
	p("- [%s] Slope significant at 5%%", report.Check(significant))
	p("- [%s] At least %d data points", report.Check(len(a.Points) >= RobustPoints), RobustPoints)
	p("- [%s] Velocity improvement ≥ %.0fx", report.Check(a.VelocityImprovement >= TargetVelocity), TargetVelocity)
	p("- [%s] No failed sizes", report.Check(len(failures) == 0))

	p("")
	p("## Next Steps")
	p("")
	p("1. Rerun with additional sizes if any check above failed")
	p("2. Compare reduced-size CPI against hardware calibration")
}

// largestSmall returns the largest scanned size below 512, or the
// smallest size when every point is large.
func largestSmall(points []Point) int {
	best := points[0].ProblemSize
	for _, pt := range points {
		if pt.ProblemSize < 512 {
			best = pt.ProblemSize
		}
	}
	return best
}

// WriteJSON writes the analysis and failures as indented JSON.
func WriteJSON(w io.Writer, a Analysis, failures []Failure) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(struct {
		Analysis
		Failures []Failure `json:"failures,omitempty"`
	}{a, failures})
}
