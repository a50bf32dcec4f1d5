package accuracy

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sarchlab/m2calib/report"
)

// WriteMarkdown renders the report with Summary, Detailed Results and
// Recommendations sections.
func WriteMarkdown(w io.Writer, r Report) {
	p := func(format string, args ...any) {
		_, _ = fmt.Fprintf(w, format+"\n", args...)
	}

	countMet := r.Overall.Count >= r.Thresholds.Count
	errorMet := r.Overall.AverageError < r.Thresholds.Error

	p("# Simulator Accuracy Report")
	p("")
	p("## Summary")
	p("")
	p("**Status: %s %s** (gate: %s)", statusIcon(r.Status), r.Status, r.Verdict)
	p("")
	p("- **Total Benchmarks:** %d (Target: %d+) %s",
		r.Overall.Count, r.Thresholds.Count, report.Check(countMet))
	p("- **Combined Average Error:** %s (Target: <%s) %s",
		report.Percent(r.Overall.AverageError), report.Percent(r.Thresholds.Error), report.Check(errorMet))
	if len(r.Skipped) > 0 {
		p("- **Skipped:** %d benchmarks", len(r.Skipped))
	}
	p("")
	p("### Accuracy by Category")
	p("")

	rows := make([][]string, 0, len(r.Categories))
	for _, c := range r.Categories {
		maxErr := "N/A"
		if c.MaxError > 0 {
			maxErr = report.Percent(c.MaxError)
		}
		rows = append(rows, []string{
			c.Name, fmt.Sprint(c.Count), report.Percent(c.AverageError), maxErr,
		})
	}
	report.Markdown(w, []string{"Category", "Benchmarks", "Average Error", "Max Error"}, rows)

	p("")
	p("## Detailed Results")
	p("")

	rows = rows[:0]
	for _, c := range r.Comparisons {
		rows = append(rows, []string{
			c.Category,
			c.Benchmark,
			report.Truncate(c.Description, 30),
			fmt.Sprintf("%.4f", c.HardwareLatencyNs),
			fmt.Sprintf("%.4f", c.SimLatencyNs),
			report.Percent(c.Error),
			Icon(c.Error),
		})
	}
	report.Markdown(w, []string{
		"Category", "Benchmark", "Description", "Real (ns/inst)", "Sim (ns/inst)", "Error", "Status",
	}, rows)

	if len(r.Skipped) > 0 {
		p("")
		p("### Skipped")
		p("")
		for _, s := range r.Skipped {
			p("- %s/%s: %s", s.Category, s.Benchmark, s.Reason)
		}
	}

	p("")
	p("## Recommendations")
	p("")
	for _, line := range recommendations(r) {
		p("- %s", line)
	}
	p("")
	p("### Success Criteria")
	p("- [%s] **Benchmark Count:** %d+ benchmarks", report.Check(countMet), r.Thresholds.Count)
	p("- [%s] **Accuracy Target:** <%s average error across all benchmarks",
		report.Check(errorMet), report.Percent(r.Thresholds.Error))
}

func recommendations(r Report) []string {
	var out []string

	for _, c := range r.Comparisons {
		if c.Error >= 0.5 {
			out = append(out, fmt.Sprintf(
				"Investigate %s (%s): %s error, simulator predicts %.4f ns/inst vs %.4f measured",
				c.Benchmark, c.Category, report.Percent(c.Error), c.SimLatencyNs, c.HardwareLatencyNs))
		} else if c.Error >= 0.2 {
			out = append(out, fmt.Sprintf("Tune %s (%s): %s error",
				c.Benchmark, c.Category, report.Percent(c.Error)))
		}
	}

	if missing := r.Thresholds.Count - r.Overall.Count; missing > 0 {
		out = append(out, fmt.Sprintf("Calibrate %d more benchmarks to reach %d", missing, r.Thresholds.Count))
	}

	if len(r.Skipped) > 0 {
		out = append(out, fmt.Sprintf("Provide simulator results for %d skipped benchmarks", len(r.Skipped)))
	}

	if len(out) == 0 {
		out = append(out, "All benchmarks are within the accuracy target; no action required")
	}

	return out
}

func statusIcon(s Status) string {
	switch s {
	case Complete:
		return "✅"
	case Partial:
		return "⚠️"
	default:
		return "❌"
	}
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}
