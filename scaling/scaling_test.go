package scaling_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/sarchlab/m2calib/scaling"
	"github.com/sarchlab/m2calib/simulator"
)

func point(size int, cpi, seconds float64) scaling.Point {
	return scaling.Point{
		ProblemSize:       size,
		ProblemVolume:     math.Pow(float64(size), 3),
		CPI:               cpi,
		SimulationTimeSec: seconds,
	}
}

// logLinear returns a point whose CPI is exactly a + b·ln(size³).
func logLinear(size int, a, b float64) scaling.Point {
	return point(size, a+b*math.Log(math.Pow(float64(size), 3)), float64(size)/64)
}

type fakeBuilder struct {
	fail  map[int]bool
	built []int
}

func (b *fakeBuilder) Build(_ context.Context, benchmark string, size int) (string, error) {
	b.built = append(b.built, size)
	if b.fail[size] {
		return "", errors.Wrapf(scaling.ErrBuild, "size %d", size)
	}
	return fmt.Sprintf("/bench/%s-%d", benchmark, size), nil
}

type fakeSimulator struct {
	cpi      func(size int) float64
	noCycles map[int]bool
}

func (s *fakeSimulator) Run(_ context.Context, program string) (simulator.Result, error) {
	base := filepath.Base(program)
	size, err := strconv.Atoi(base[strings.LastIndex(base, "-")+1:])
	if err != nil {
		return simulator.Result{}, err
	}

	instructions := uint64(size) * 1000
	cpi := s.cpi(size)
	cycles := uint64(float64(instructions) * cpi)
	m := simulator.Metrics{
		Instructions: instructions,
		Cycles:       &cycles,
		CPI:          cpi,
	}
	if s.noCycles[size] {
		m.Cycles = nil
		m.CPI = 0
	}
	return simulator.Result{
		Metrics:  m,
		WallTime: time.Duration(size) * time.Millisecond,
	}, nil
}

var _ = Describe("Analyze", func() {
	It("should require three points", func() {
		_, err := scaling.Analyze("gemm", []scaling.Point{point(64, 1, 1), point(128, 1, 2)})
		Expect(errors.Is(err, scaling.ErrInsufficientData)).To(BeTrue())
	})

	It("should fit CPI against log volume", func() {
		a, err := scaling.Analyze("gemm", []scaling.Point{
			logLinear(256, 0.5, 0.02),
			logLinear(64, 0.5, 0.02),
			logLinear(128, 0.5, 0.02),
			logLinear(512, 0.5, 0.02),
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(a.Points[0].ProblemSize).To(Equal(64))
		Expect(a.Points[3].ProblemSize).To(Equal(512))
		Expect(a.Slope).To(BeNumerically("~", 0.02, 1e-9))
		Expect(a.Intercept).To(BeNumerically("~", 0.5, 1e-9))
		Expect(a.RSquared).To(BeNumerically("~", 1, 1e-9))
	})

	It("should bracket the slope with a 95% interval", func() {
		a, err := scaling.Analyze("atax", []scaling.Point{
			point(64, 1.00, 1),
			point(128, 1.10, 8),
			point(256, 1.05, 64),
			point(512, 1.20, 512),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(a.StdErr).To(BeNumerically(">", 0))
		Expect(a.ConfidenceInterval[0]).To(BeNumerically("~", a.Slope-1.96*a.StdErr, 1e-12))
		Expect(a.ConfidenceInterval[1]).To(BeNumerically("~", a.Slope+1.96*a.StdErr, 1e-12))
		Expect(a.RSquared).To(BeNumerically("~", a.RValue*a.RValue, 1e-12))
	})

	It("should report cubic time growth as a scaling factor of one", func() {
		a, err := scaling.Analyze("atax", []scaling.Point{
			point(64, 1.00, 1),
			point(128, 1.10, 8),
			point(256, 1.05, 64),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(a.ScalingFactor).To(BeNumerically("~", 1, 1e-12))
	})

	It("should compare the first small and large sizes", func() {
		a, err := scaling.Analyze("atax", []scaling.Point{
			point(64, 1.00, 2),
			point(128, 1.10, 4),
			point(512, 1.05, 30),
			point(1024, 1.05, 90),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(a.VelocityImprovement).To(BeNumerically("~", 15, 1e-12))
	})

	It("should assume a tenfold gap without large sizes", func() {
		a, err := scaling.Analyze("atax", []scaling.Point{
			point(64, 1.00, 2),
			point(128, 1.10, 4),
			point(256, 1.05, 8),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(a.VelocityImprovement).To(BeNumerically("~", 10, 1e-12))
	})

	It("should reject a zero smallest time", func() {
		_, err := scaling.Analyze("atax", []scaling.Point{
			point(64, 1.00, 0),
			point(128, 1.10, 4),
			point(256, 1.05, 8),
		})
		Expect(errors.Is(err, scaling.ErrDegenerateInput)).To(BeTrue())
	})
})

var _ = Describe("Scanner", func() {
	var (
		builder *fakeBuilder
		sim     *fakeSimulator
		config  scaling.ScanConfig
	)

	BeforeEach(func() {
		builder = &fakeBuilder{fail: map[int]bool{}}
		sim = &fakeSimulator{cpi: func(size int) float64 {
			return 0.5 + 0.01*math.Log(math.Pow(float64(size), 3))
		}}
		config = scaling.DefaultScanConfig()
	})

	It("should stop early once the fit is good", func() {
		points, failures, err := scaling.NewScanner(config, builder, sim).Scan(context.Background(), "gemm")
		Expect(err).NotTo(HaveOccurred())
		Expect(failures).To(BeEmpty())
		Expect(points).To(HaveLen(5))
		Expect(builder.built).To(Equal([]int{64, 96, 128, 192, 256}))
		Expect(points[2].Instructions).To(Equal(uint64(128000)))
		Expect(points[2].SimulationTimeSec).To(BeNumerically("~", 0.128, 1e-12))
	})

	It("should skip sizes that fail and keep scanning", func() {
		builder.fail[96] = true
		config.EarlyStopPoints = 0

		points, failures, err := scaling.NewScanner(config, builder, sim).Scan(context.Background(), "gemm")
		Expect(err).NotTo(HaveOccurred())
		Expect(points).To(HaveLen(8))
		Expect(failures).To(HaveLen(1))
		Expect(failures[0].ProblemSize).To(Equal(96))
		Expect(failures[0].Reason).To(ContainSubstring("build failed"))
	})

	It("should record sizes whose output lacks a cycle count", func() {
		sim.noCycles = map[int]bool{128: true}
		config.EarlyStopPoints = 0

		points, failures, err := scaling.NewScanner(config, builder, sim).Scan(context.Background(), "gemm")
		Expect(err).NotTo(HaveOccurred())
		Expect(points).To(HaveLen(8))
		Expect(failures).To(HaveLen(1))
		Expect(failures[0].ProblemSize).To(Equal(128))
		Expect(failures[0].Reason).To(ContainSubstring("missing field: cycles"))
	})

	It("should keep scanning while the fit is poor", func() {
		sim.cpi = func(size int) float64 {
			if size%128 == 0 {
				return 2.0
			}
			return 1.0
		}

		points, _, err := scaling.NewScanner(config, builder, sim).Scan(context.Background(), "gemm")
		Expect(err).NotTo(HaveOccurred())
		Expect(points).To(HaveLen(len(scaling.DefaultSizes)))
	})

	It("should stop when cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		points, _, err := scaling.NewScanner(config, builder, sim).Scan(ctx, "gemm")
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Expect(points).To(BeEmpty())
	})
})

var _ = Describe("MakeBuilder", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "scaling-test-*")
		Expect(err).NotTo(HaveOccurred())
		Expect(os.MkdirAll(filepath.Join(tempDir, "bench", "gemm"), 0755)).To(Succeed())
	})

	AfterEach(func() {
		_ = os.RemoveAll(tempDir)
	})

	writeMake := func(body string) string {
		path := filepath.Join(tempDir, "make")
		Expect(os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755)).To(Succeed())
		return path
	}

	It("should pass the size to make and return the binary", func() {
		b := scaling.NewMakeBuilder(filepath.Join(tempDir, "bench"))
		b.Make = writeMake(`
if [ "$1" = "clean" ]; then rm -f gemm size.txt; exit 0; fi
echo "$1 $2 $N" > size.txt
touch gemm
`)

		binary, err := b.Build(context.Background(), "gemm", 192)
		Expect(err).NotTo(HaveOccurred())
		Expect(binary).To(Equal(filepath.Join(tempDir, "bench", "gemm", "gemm")))

		got, err := os.ReadFile(filepath.Join(tempDir, "bench", "gemm", "size.txt"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(got)).To(Equal("DATASET=CUSTOM N=192 192\n"))
	})

	It("should surface make output on failure", func() {
		b := scaling.NewMakeBuilder(filepath.Join(tempDir, "bench"))
		b.Make = writeMake(`
if [ "$1" = "clean" ]; then exit 0; fi
echo "gemm.c:12: error: expected ';'" >&2
exit 2
`)

		_, err := b.Build(context.Background(), "gemm", 64)
		Expect(errors.Is(err, scaling.ErrBuild)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("expected ';'"))
	})

	It("should fail when no binary is produced", func() {
		b := scaling.NewMakeBuilder(filepath.Join(tempDir, "bench"))
		b.Make = writeMake("exit 0\n")

		_, err := b.Build(context.Background(), "gemm", 64)
		Expect(errors.Is(err, scaling.ErrBuild)).To(BeTrue())
	})

	It("should fail for an unknown benchmark", func() {
		b := scaling.NewMakeBuilder(filepath.Join(tempDir, "bench"))
		_, err := b.Build(context.Background(), "nosuch", 64)
		Expect(errors.Is(err, scaling.ErrBuild)).To(BeTrue())
	})
})

var _ = Describe("Scaling report", func() {
	var a scaling.Analysis

	BeforeEach(func() {
		var err error
		a, err = scaling.Analyze("gemm", []scaling.Point{
			logLinear(64, 0.5, 0.02),
			logLinear(128, 0.5, 0.02),
			logLinear(256, 0.5, 0.02),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should render every section", func() {
		var buf bytes.Buffer
		scaling.WriteMarkdown(&buf, a, []scaling.Failure{{ProblemSize: 512, Reason: "timeout"}},
			time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
		out := buf.String()

		for _, section := range []string{
			"## Summary Statistics",
			"## Scaling Data Points",
			"## Statistical Validation Analysis",
			"## Recommendations",
			"## Quality Assurance Checklist",
			"## Next Steps",
		} {
			Expect(out).To(ContainSubstring(section))
		}
		Expect(out).To(ContainSubstring("2026-01-02T03:04:05Z"))
		Expect(out).To(ContainSubstring("N=512: timeout"))
		Expect(out).To(ContainSubstring("**R²:** 1.0000 ✅"))
		Expect(out).To(ContainSubstring("- Use sizes up to 256 for accuracy runs"))
		Expect(out).To(ContainSubstring("- [❌] At least 5 data points"))
		Expect(out).To(ContainSubstring("- [✅] Velocity improvement ≥ 3x"))
	})

	It("should flag a slow small-size speedup", func() {
		slow, err := scaling.Analyze("atax", []scaling.Point{
			point(64, 0.5+0.02*math.Log(64*64*64), 1),
			point(128, 0.5+0.02*math.Log(128*128*128), 1.2),
			point(256, 0.5+0.02*math.Log(256*256*256), 1.5),
			point(384, 0.5+0.02*math.Log(384*384*384), 1.8),
			point(512, 0.5+0.02*math.Log(512*512*512), 2),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(slow.VelocityImprovement).To(BeNumerically("~", 2, 1e-12))

		var buf bytes.Buffer
		scaling.WriteMarkdown(&buf, slow, nil, time.Now())
		out := buf.String()
		Expect(out).To(ContainSubstring("- [✅] At least 5 data points"))
		Expect(out).To(ContainSubstring("- [❌] Velocity improvement ≥ 3x"))
		Expect(out).To(ContainSubstring("- Use sizes up to 384 for accuracy runs"))
	})

	It("should write JSON with the failures", func() {
		var buf bytes.Buffer
		Expect(scaling.WriteJSON(&buf, a, []scaling.Failure{{ProblemSize: 512, Reason: "timeout"}})).To(Succeed())

		var decoded map[string]any
		Expect(json.Unmarshal(buf.Bytes(), &decoded)).To(Succeed())
		Expect(decoded["benchmark"]).To(Equal("gemm"))
		Expect(decoded["failures"]).To(HaveLen(1))
	})
})

func TestScaling(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Scaling Suite")
}
