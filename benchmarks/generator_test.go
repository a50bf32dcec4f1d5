package benchmarks_test

import (
	"math"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/sarchlab/m2calib/benchmarks"
)

// loopBody returns the instructions between the .loop label and the counter
// increment, without labels.
func loopBody(src, counter string) []string {
	var (
		body    []string
		inLoop  bool
		advance = "add " + counter + ", " + counter + ", #1"
	)
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == ".loop:":
			inLoop = true
		case !inLoop, trimmed == "", strings.HasSuffix(trimmed, ":"):
		case trimmed == advance:
			return body
		default:
			body = append(body, trimmed)
		}
	}
	return body
}

var _ = Describe("Generator", func() {
	var registry *benchmarks.Registry

	BeforeEach(func() {
		registry = benchmarks.DefaultRegistry()
	})

	It("should register the kernels in order", func() {
		Expect(registry.Names()).To(Equal([]string{
			"arithmetic", "dependency", "branch", "memorystrided", "loadheavy",
			"storeheavy", "branchheavy", "vectorsum", "vectoradd",
			"reductiontree", "strideindirect",
		}))
	})

	It("should not expose its name list", func() {
		names := registry.Names()
		names[0] = "changed"
		Expect(registry.Names()[0]).To(Equal("arithmetic"))
	})

	It("should be deterministic", func() {
		for _, name := range registry.Names() {
			a, err := registry.Generate(name, 1_000_000)
			Expect(err).NotTo(HaveOccurred())
			b, err := registry.Generate(name, 1_000_000)
			Expect(err).NotTo(HaveOccurred())
			Expect(a).To(Equal(b), name)
		}
	})

	It("should lay out the program around the loop", func() {
		src, err := registry.Generate("arithmetic", 100)
		Expect(err).NotTo(HaveOccurred())

		Expect(src).To(HavePrefix("// arithmetic_calibration.s - generated for 100 iterations\n"))
		Expect(src).To(ContainSubstring(".global _main\n.align 4\n"))
		Expect(src).To(ContainSubstring("    mov x10, #0\n    movz x11, #100\n\n.loop:\n"))
		Expect(src).To(ContainSubstring(
			"    add x10, x10, #1\n    cmp x10, x11\n    b.lt .loop\n"))
		Expect(src).To(HaveSuffix("    mov x0, #0\n    mov x16, #1\n    svc #0x80\n"))
		Expect(src).NotTo(ContainSubstring("sub sp"))
	})

	It("should reserve and release the stack frame", func() {
		src, err := registry.Generate("vectoradd", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(src).To(ContainSubstring("_main:\n    sub sp, sp, #512\n"))
		Expect(src).To(ContainSubstring("    add sp, sp, #512\n    mov x0, #0\n"))
	})

	It("should load small counts with a single movz", func() {
		src, err := registry.Generate("branch", 0xFFFF)
		Expect(err).NotTo(HaveOccurred())
		Expect(src).To(ContainSubstring("movz x11, #65535\n"))
		Expect(src).NotTo(ContainSubstring("movk"))
	})

	It("should split large counts into movz and movk", func() {
		src, err := registry.Generate("branch", 1_000_000)
		Expect(err).NotTo(HaveOccurred())
		Expect(src).To(ContainSubstring("movz x11, #16960\n    movk x11, #15, lsl #16\n"))

		src, err = registry.Generate("branch", 0x10000)
		Expect(err).NotTo(HaveOccurred())
		Expect(src).To(ContainSubstring("movz x11, #0\n    movk x11, #1, lsl #16\n"))

		src, err = registry.Generate("branch", math.MaxUint32)
		Expect(err).NotTo(HaveOccurred())
		Expect(src).To(ContainSubstring("movz x11, #65535\n    movk x11, #65535, lsl #16\n"))
	})

	It("should reject counts that do not fit in 32 bits", func() {
		_, err := registry.Generate("arithmetic", math.MaxUint32+1)
		Expect(errors.Is(err, benchmarks.ErrIterationCountTooLarge)).To(BeTrue())
	})

	It("should reject unknown templates", func() {
		_, err := registry.Generate("nosuch", 10)
		Expect(errors.Is(err, benchmarks.ErrUnknownTemplate)).To(BeTrue())
	})

	It("should count the reduction tree with x20 and x21", func() {
		src, err := registry.Generate("reductiontree", 1_000_000)
		Expect(err).NotTo(HaveOccurred())
		Expect(src).To(ContainSubstring("    mov x20, #0\n    movz x21, #16960\n    movk x21, #15, lsl #16\n"))
		Expect(src).To(ContainSubstring("cmp x20, x21"))
		Expect(src).NotTo(ContainSubstring("movz x11"))
	})

	It("should match the advertised instruction count of flat kernels", func() {
		for _, name := range []string{
			"arithmetic", "dependency", "branch", "memorystrided",
			"loadheavy", "storeheavy", "reductiontree",
		} {
			t, ok := registry.Get(name)
			Expect(ok).To(BeTrue())

			src, err := registry.Generate(name, 10)
			Expect(err).NotTo(HaveOccurred())

			counter := "x10"
			if t.Counter != "" {
				counter = t.Counter
			}
			Expect(loopBody(src, counter)).To(HaveLen(int(t.InstructionsPerIteration)), name)
		}
	})

	It("should never clobber the loop registers in the body", func() {
		for _, name := range registry.Names() {
			t, _ := registry.Get(name)
			counter, bound := "x10", "x11"
			if t.Counter != "" {
				counter, bound = t.Counter, t.Bound
			}

			src, err := registry.Generate(name, 10)
			Expect(err).NotTo(HaveOccurred())
			for _, line := range loopBody(src, counter) {
				fields := strings.Fields(line)
				if len(fields) < 2 || strings.HasPrefix(fields[0], "str") ||
					strings.HasPrefix(fields[0], "cmp") || strings.HasPrefix(fields[0], "b") {
					continue
				}
				dst := strings.TrimSuffix(fields[1], ",")
				Expect(dst).NotTo(Equal(counter), name+": "+line)
				Expect(dst).NotTo(Equal(bound), name+": "+line)
			}
		}
	})

	It("should compute total instructions", func() {
		t, ok := registry.Get("vectoradd")
		Expect(ok).To(BeTrue())
		Expect(t.TotalInstructions(1000)).To(Equal(uint64(165000)))
	})

	It("should reject duplicate template names", func() {
		_, err := benchmarks.NewRegistry(benchmarks.GetCoreBenchmarks()[0], benchmarks.GetCoreBenchmarks()[0])
		Expect(errors.Is(err, benchmarks.ErrDuplicateTemplate)).To(BeTrue())
	})

	It("should provide a core subset", func() {
		r, err := benchmarks.NewRegistry(benchmarks.GetCoreBenchmarks()...)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Names()).To(Equal([]string{"arithmetic", "dependency", "branch"}))
	})
})
