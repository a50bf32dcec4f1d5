package calibration_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/sarchlab/m2calib/calibration"
	"github.com/sarchlab/m2calib/regression"
)

var _ = Describe("Calibration", func() {
	Describe("FromDataPoints", func() {
		It("should convert the slope to nanoseconds per instruction", func() {
			r, err := calibration.FromDataPoints("arithmetic", "ALU", []calibration.DataPoint{
				{Instructions: 80_000_000, TimeMs: 38},
				{Instructions: 20_000_000, TimeMs: 23},
				{Instructions: 40_000_000, TimeMs: 28},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Calibrated).To(BeTrue())
			Expect(r.InstructionLatencyNs).To(BeNumerically("~", 0.25, 1e-9))
			Expect(r.OverheadMs).To(BeNumerically("~", 18, 1e-6))
			Expect(r.RSquared).To(BeNumerically("~", 1, 1e-9))
			Expect(r.CPI(calibration.DefaultFrequencyGHz)).To(BeNumerically("~", 0.875, 1e-9))
			Expect(r.ThroughputGIPS()).To(BeNumerically("~", 4, 1e-6))
			Expect(r.PredictMs(160_000_000)).To(BeNumerically("~", 58, 1e-6))
			Expect(r.Fit()).To(Equal("excellent fit"))
		})

		It("should order data points by instruction count", func() {
			r, err := calibration.FromDataPoints("b", "", []calibration.DataPoint{
				{Instructions: 300, TimeMs: 3},
				{Instructions: 100, TimeMs: 1},
				{Instructions: 200, TimeMs: 2},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.DataPoints[0].Instructions).To(Equal(uint64(100)))
			Expect(r.DataPoints[2].Instructions).To(Equal(uint64(300)))
		})

		It("should fail with fewer than two points", func() {
			_, err := calibration.FromDataPoints("b", "", []calibration.DataPoint{
				{Instructions: 100, TimeMs: 1},
			})
			Expect(errors.Is(err, regression.ErrInsufficientData)).To(BeTrue())
		})

		It("should fail when every point has the same instruction count", func() {
			_, err := calibration.FromDataPoints("b", "", []calibration.DataPoint{
				{Instructions: 100, TimeMs: 1},
				{Instructions: 100, TimeMs: 2},
			})
			Expect(errors.Is(err, regression.ErrDegenerateInput)).To(BeTrue())
		})
	})

	Describe("File", func() {
		var tempDir string

		BeforeEach(func() {
			var err error
			tempDir, err = os.MkdirTemp("", "calibration-test-*")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			_ = os.RemoveAll(tempDir)
		})

		It("should save and load results", func() {
			f := calibration.NewFile([]calibration.Result{{
				Benchmark:            "dependency",
				Description:          "RAW chain",
				Calibrated:           true,
				InstructionLatencyNs: 0.29,
				OverheadMs:           17.5,
				RSquared:             0.9995,
				DataPoints:           []calibration.DataPoint{{Instructions: 20_000_000, TimeMs: 23.3}},
			}})
			path := filepath.Join(tempDir, "calibration_results.json")
			Expect(f.Save(path)).To(Succeed())

			data, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`"methodology": "linear_regression"`))
			Expect(string(data)).To(ContainSubstring(`"instruction_latency_ns": 0.29`))
			Expect(string(data)).To(ContainSubstring(`"time_ms": 23.3`))

			loaded, err := calibration.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Formula).To(Equal(calibration.Formula))

			r, ok := loaded.Lookup("dependency")
			Expect(ok).To(BeTrue())
			Expect(r.OverheadMs).To(Equal(17.5))

			_, ok = loaded.Lookup("missing")
			Expect(ok).To(BeFalse())
		})

		It("should fail on a missing file", func() {
			_, err := calibration.Load(filepath.Join(tempDir, "nope.json"))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to read"))
		})

		It("should fail on malformed JSON", func() {
			path := filepath.Join(tempDir, "bad.json")
			Expect(os.WriteFile(path, []byte("{"), 0644)).To(Succeed())
			_, err := calibration.Load(path)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to parse"))
		})
	})
})

func TestCalibration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Calibration Suite")
}
