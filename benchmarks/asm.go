package benchmarks

import (
	"fmt"
	"strings"
)

// asmWriter accumulates ARM64 assembly text one line at a time.
type asmWriter struct {
	b strings.Builder
}

// op writes an indented instruction.
func (w *asmWriter) op(format string, args ...any) {
	w.b.WriteString("    ")
	_, _ = fmt.Fprintf(&w.b, format, args...)
	w.b.WriteByte('\n')
}

// label writes a label definition at column zero.
func (w *asmWriter) label(name string) {
	w.b.WriteString(name)
	w.b.WriteString(":\n")
}

func (w *asmWriter) raw(line string) {
	w.b.WriteString(line)
	w.b.WriteByte('\n')
}

func (w *asmWriter) comment(format string, args ...any) {
	w.b.WriteString("// ")
	_, _ = fmt.Fprintf(&w.b, format, args...)
	w.b.WriteByte('\n')
}

func (w *asmWriter) blank() {
	w.b.WriteByte('\n')
}

func (w *asmWriter) String() string {
	return w.b.String()
}

// fillArray stores values into consecutive 8-byte slots starting at
// base+offset, staging each value through scratch.
func (w *asmWriter) fillArray(base, scratch string, offset int, values []int) {
	for i, v := range values {
		w.op("mov %s, #%d", scratch, v)
		w.op("str %s, [%s, #%d]", scratch, base, offset+8*i)
	}
}

// sequence returns [start, start+step, ...] with n elements.
func sequence(start, step, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + step*i
	}
	return out
}

func fmtLabel(prefix string, i int) string {
	return fmt.Sprintf("%s%d", prefix, i)
}
