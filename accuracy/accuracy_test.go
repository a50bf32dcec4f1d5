package accuracy_test

import (
	"bytes"
	"encoding/json"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/sarchlab/m2calib/accuracy"
	"github.com/sarchlab/m2calib/calibration"
)

var _ = Describe("Accuracy", func() {
	Describe("Compare", func() {
		It("should divide by the smaller latency", func() {
			e, err := accuracy.Compare(2.0, 2.5)
			Expect(err).NotTo(HaveOccurred())
			Expect(e).To(BeNumerically("~", 0.25, 1e-12))
		})

		It("should give the same error with the arguments swapped", func() {
			e, err := accuracy.Compare(2.5, 2.0)
			Expect(err).NotTo(HaveOccurred())
			Expect(e).To(BeNumerically("~", 0.25, 1e-12))
		})

		It("should not be the conventional relative error", func() {
			e, err := accuracy.Compare(1.0, 0.5)
			Expect(err).NotTo(HaveOccurred())
			Expect(e).To(BeNumerically("~", 1.0, 1e-12))
		})

		It("should reject a zero latency", func() {
			_, err := accuracy.Compare(0, 1.0)
			Expect(errors.Is(err, accuracy.ErrDegenerateInput)).To(BeTrue())
		})
	})

	Describe("Aggregation", func() {
		It("should weight category means by their counts", func() {
			combined, err := accuracy.CombineCategories("overall",
				accuracy.CategorySummary{Name: "micro", Count: 11, AverageError: 0.144},
				accuracy.CategorySummary{Name: "polybench", Count: 7, AverageError: 0.10},
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(combined.Count).To(Equal(18))
			Expect(combined.AverageError).To(BeNumerically("~", (0.144*11+0.10*7)/18, 1e-12))
			Expect(combined.AverageError).To(BeNumerically("~", 0.1269, 1e-4))
			Expect(combined.AverageError).NotTo(BeNumerically("~", 0.122, 1e-4))
		})

		It("should default to uniform weights", func() {
			m, err := accuracy.WeightedMean([]float64{0.1, 0.3}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(m).To(BeNumerically("~", 0.2, 1e-12))
		})

		It("should reject an empty aggregate", func() {
			_, err := accuracy.Mean(nil)
			Expect(errors.Is(err, accuracy.ErrNoData)).To(BeTrue())
		})
	})

	Describe("Gate", func() {
		It("should pass below the error threshold with enough benchmarks", func() {
			Expect(accuracy.Gate(0.18, 15, 0.20, 15)).To(Equal(accuracy.Pass))
		})

		It("should fail above the error threshold", func() {
			Expect(accuracy.Gate(0.21, 15, 0.20, 15)).To(Equal(accuracy.Fail))
		})

		It("should fail exactly at the error threshold", func() {
			Expect(accuracy.Gate(0.20, 15, 0.20, 15)).To(Equal(accuracy.Fail))
		})

		It("should fail with too few benchmarks", func() {
			Expect(accuracy.Gate(0.05, 14, 0.20, 15)).To(Equal(accuracy.Fail))
		})

		It("should grade partial completion", func() {
			th := accuracy.DefaultThresholds()
			Expect(accuracy.StatusOf(0.1, 18, th)).To(Equal(accuracy.Complete))
			Expect(accuracy.StatusOf(0.3, 18, th)).To(Equal(accuracy.Partial))
			Expect(accuracy.StatusOf(0.1, 5, th)).To(Equal(accuracy.Incomplete))
		})

		It("should grade individual errors", func() {
			Expect(accuracy.Icon(0.1)).To(Equal("✅"))
			Expect(accuracy.Icon(0.3)).To(Equal("⚠️"))
			Expect(accuracy.Icon(0.7)).To(Equal("❌"))
		})
	})

	Describe("Evaluate", func() {
		var file calibration.File

		BeforeEach(func() {
			file = calibration.NewFile([]calibration.Result{
				{Benchmark: "gemm", Description: "matrix multiply", Calibrated: true, InstructionLatencyNs: 0.125},
				{Benchmark: "atax", Description: "transpose and multiply", Calibrated: true, InstructionLatencyNs: 0.16},
				{Benchmark: "mvt", Calibrated: true, InstructionLatencyNs: 0.1},
				{Benchmark: "broken", Calibrated: false},
			})
		})

		It("should convert simulator CPI to latency at the given frequency", func() {
			cmp, skipped, err := accuracy.BuildComparisons("polybench", file,
				map[string]float64{"gemm": 0.5, "atax": 0.5}, 4.0)
			Expect(err).NotTo(HaveOccurred())
			Expect(cmp).To(HaveLen(2))
			Expect(cmp[0].Benchmark).To(Equal("gemm"))
			Expect(cmp[0].SimLatencyNs).To(BeNumerically("~", 0.125, 1e-12))
			Expect(cmp[0].Error).To(BeNumerically("~", 0, 1e-12))
			Expect(cmp[1].Error).To(BeNumerically("~", 0.28, 1e-12))

			Expect(skipped).To(HaveLen(2))
			Expect(skipped[0].Benchmark).To(Equal("mvt"))
			Expect(skipped[1].Benchmark).To(Equal("broken"))
		})

		It("should combine fresh comparisons with prior categories", func() {
			cmp, skipped, err := accuracy.BuildComparisons("polybench", file,
				map[string]float64{"gemm": 0.5, "atax": 0.5, "mvt": 0.5}, 4.0)
			Expect(err).NotTo(HaveOccurred())

			rep, err := accuracy.Evaluate(cmp,
				[]accuracy.CategorySummary{{Name: "micro", Count: 11, AverageError: 0.144}},
				skipped, accuracy.DefaultThresholds())
			Expect(err).NotTo(HaveOccurred())

			Expect(rep.Categories).To(HaveLen(2))
			Expect(rep.Categories[0].Name).To(Equal("micro"))
			Expect(rep.Categories[1].Count).To(Equal(3))
			// polybench errors: 0, 0.28, 0.25
			Expect(rep.Categories[1].AverageError).To(BeNumerically("~", 0.53/3, 1e-12))
			Expect(rep.Categories[1].MaxError).To(BeNumerically("~", 0.28, 1e-12))
			Expect(rep.Overall.Count).To(Equal(14))
			Expect(rep.Overall.AverageError).To(BeNumerically("~", (0.144*11+0.53)/14, 1e-12))
			Expect(rep.Verdict).To(Equal(accuracy.Fail))
			Expect(rep.Status).To(Equal(accuracy.Incomplete))
			Expect(rep.ExitCode()).To(Equal(1))

			Expect(rep.Comparisons[0].Benchmark).To(Equal("atax"))
		})

		It("should pass when both targets are met", func() {
			cmp, _, err := accuracy.BuildComparisons("polybench", file,
				map[string]float64{"gemm": 0.5}, 4.0)
			Expect(err).NotTo(HaveOccurred())

			rep, err := accuracy.Evaluate(cmp,
				[]accuracy.CategorySummary{{Name: "micro", Count: 14, AverageError: 0.15}},
				nil, accuracy.DefaultThresholds())
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Overall.Count).To(Equal(15))
			Expect(rep.Verdict).To(Equal(accuracy.Pass))
			Expect(rep.Status).To(Equal(accuracy.Complete))
			Expect(rep.ExitCode()).To(Equal(0))
		})

		It("should reject a category given twice", func() {
			cmp, _, err := accuracy.BuildComparisons("micro", file,
				map[string]float64{"gemm": 0.5}, 4.0)
			Expect(err).NotTo(HaveOccurred())

			_, err = accuracy.Evaluate(cmp,
				[]accuracy.CategorySummary{{Name: "micro", Count: 11, AverageError: 0.144}},
				nil, accuracy.DefaultThresholds())
			Expect(err).To(HaveOccurred())
		})

		It("should fail without any benchmarks", func() {
			_, err := accuracy.Evaluate(nil, nil, nil, accuracy.DefaultThresholds())
			Expect(errors.Is(err, accuracy.ErrNoData)).To(BeTrue())
		})
	})

	Describe("Reports", func() {
		var rep accuracy.Report

		BeforeEach(func() {
			rep = accuracy.Report{
				Categories: []accuracy.CategorySummary{
					{Name: "micro", Count: 11, AverageError: 0.144},
					{Name: "polybench", Count: 2, AverageError: 0.4, MaxError: 0.6},
				},
				Overall:    accuracy.CategorySummary{Name: "overall", Count: 13, AverageError: 0.183},
				Thresholds: accuracy.DefaultThresholds(),
				Verdict:    accuracy.Fail,
				Status:     accuracy.Incomplete,
				Comparisons: []accuracy.Comparison{
					{Benchmark: "gemm", Category: "polybench", HardwareLatencyNs: 0.1, SimLatencyNs: 0.16, Error: 0.6, Calibrated: true},
					{Benchmark: "atax", Category: "polybench", HardwareLatencyNs: 0.1, SimLatencyNs: 0.12, Error: 0.2, Calibrated: true},
				},
			}
		})

		It("should render the fixed Markdown sections", func() {
			var buf bytes.Buffer
			accuracy.WriteMarkdown(&buf, rep)
			out := buf.String()

			Expect(out).To(ContainSubstring("## Summary"))
			Expect(out).To(ContainSubstring("## Detailed Results"))
			Expect(out).To(ContainSubstring("## Recommendations"))
			Expect(out).To(ContainSubstring("**Status: ❌ INCOMPLETE**"))
			Expect(out).To(ContainSubstring("18.3%"))
			Expect(out).To(ContainSubstring("Investigate gemm"))
			Expect(out).To(ContainSubstring("Tune atax"))
			Expect(out).To(ContainSubstring("Calibrate 2 more benchmarks"))
		})

		It("should write JSON", func() {
			var buf bytes.Buffer
			Expect(accuracy.WriteJSON(&buf, rep)).To(Succeed())

			var decoded map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &decoded)).To(Succeed())
			Expect(decoded["verdict"]).To(Equal("FAIL"))
			Expect(decoded["status"]).To(Equal("INCOMPLETE"))
		})
	})
})

func TestAccuracy(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Accuracy Suite")
}
