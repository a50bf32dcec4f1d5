package benchmarks

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// MaxIterations is the largest loop bound a kernel can load with a
// movz/movk pair.
const MaxIterations = math.MaxUint32

var (
	// ErrUnknownTemplate is returned when a template name is not registered.
	ErrUnknownTemplate = errors.New("unknown template")

	// ErrIterationCountTooLarge is returned for loop bounds above MaxIterations.
	ErrIterationCountTooLarge = errors.New("iteration count too large")

	// ErrDuplicateTemplate is returned when two templates share a name.
	ErrDuplicateTemplate = errors.New("duplicate template")
)

// Template describes a calibration kernel: a counted loop whose body
// contributes a fixed number of instructions per iteration.
type Template struct {
	// Name identifies the template
	Name string

	// Description explains what the kernel measures
	Description string

	// InstructionsPerIteration is the instruction count of one loop body
	InstructionsPerIteration uint64

	// ExpectedExit is the exit status the kernel terminates with
	ExpectedExit int

	// Counter and Bound are the loop counter and loop bound registers
	// (default x10 and x11)
	Counter string
	Bound   string

	// Frame is the number of stack bytes reserved for kernel data
	Frame int

	setup func(w *asmWriter)
	body  func(w *asmWriter)
}

func (t Template) counter() string {
	if t.Counter == "" {
		return "x10"
	}
	return t.Counter
}

func (t Template) bound() string {
	if t.Bound == "" {
		return "x11"
	}
	return t.Bound
}

// TotalInstructions returns the instruction count of a run with the given
// number of iterations.
func (t Template) TotalInstructions(iterations uint64) uint64 {
	return iterations * t.InstructionsPerIteration
}

// render emits the complete program. The layout is fixed: reserve the frame,
// run setup, load the loop bound, loop over the body, release the frame and
// exit through the BSD exit syscall.
func (t Template) render(iterations uint64) (string, error) {
	load, err := loadIterations(iterations, t.bound())
	if err != nil {
		return "", err
	}

	w := &asmWriter{}
	w.comment("%s_calibration.s - generated for %d iterations", t.Name, iterations)
	w.raw(".global _main")
	w.raw(".align 4")
	w.blank()
	w.label("_main")
	if t.Frame > 0 {
		w.op("sub sp, sp, #%d", t.Frame)
	}
	if t.setup != nil {
		t.setup(w)
	}
	w.op("mov %s, #0", t.counter())
	for _, line := range load {
		w.op("%s", line)
	}
	w.blank()
	w.label(".loop")
	if t.body != nil {
		t.body(w)
	}
	w.op("add %s, %s, #1", t.counter(), t.counter())
	w.op("cmp %s, %s", t.counter(), t.bound())
	w.op("b.lt .loop")
	w.blank()
	if t.Frame > 0 {
		w.op("add sp, sp, #%d", t.Frame)
	}
	w.op("mov x0, #%d", t.ExpectedExit)
	w.op("mov x16, #1")
	w.op("svc #0x80")

	return w.String(), nil
}

// loadIterations returns the instructions that place n into reg.
func loadIterations(n uint64, reg string) ([]string, error) {
	if n > MaxIterations {
		return nil, errors.Wrapf(ErrIterationCountTooLarge,
			"%d exceeds %d", n, uint64(MaxIterations))
	}

	if n <= 0xFFFF {
		return []string{fmt.Sprintf("movz %s, #%d", reg, n)}, nil
	}

	low := n & 0xFFFF
	high := (n >> 16) & 0xFFFF
	lines := []string{fmt.Sprintf("movz %s, #%d", reg, low)}
	if high > 0 {
		lines = append(lines, fmt.Sprintf("movk %s, #%d, lsl #16", reg, high))
	}
	return lines, nil
}

// Registry is an immutable set of templates keyed by name. Build it once at
// startup and pass it to whatever generates kernels.
type Registry struct {
	names  []string
	byName map[string]Template
}

// NewRegistry creates a registry over the given templates, keeping their
// order for Names.
func NewRegistry(templates ...Template) (*Registry, error) {
	r := &Registry{
		names:  make([]string, 0, len(templates)),
		byName: make(map[string]Template, len(templates)),
	}

	for _, t := range templates {
		if t.Name == "" {
			return nil, errors.New("template name must not be empty")
		}
		if _, ok := r.byName[t.Name]; ok {
			return nil, errors.Wrapf(ErrDuplicateTemplate, "%q", t.Name)
		}
		r.byName[t.Name] = t
		r.names = append(r.names, t.Name)
	}

	return r, nil
}

// DefaultRegistry returns a registry over GetMicrobenchmarks.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(GetMicrobenchmarks()...)
	if err != nil {
		panic(err)
	}
	return r
}

// Names returns the registered template names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Get looks up a template by name.
func (r *Registry) Get(name string) (Template, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Generate returns the assembly source of the named template with the given
// loop bound. The output depends only on the arguments.
func (r *Registry) Generate(name string, iterations uint64) (string, error) {
	t, ok := r.byName[name]
	if !ok {
		return "", errors.Wrapf(ErrUnknownTemplate, "%q", name)
	}

	src, err := t.render(iterations)
	if err != nil {
		return "", errors.Wrapf(err, "template %s", name)
	}
	return src, nil
}
