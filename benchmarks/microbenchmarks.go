// Package benchmarks generates the native calibration kernels and drives the
// hardware calibration scan over them.
package benchmarks

// GetMicrobenchmarks returns the standard set of calibration kernels for M2
// hardware calibration. Each kernel targets a specific CPU characteristic.
func GetMicrobenchmarks() []Template {
	return []Template{
		arithmetic(),
		dependency(),
		branch(),
		memoryStrided(),
		loadHeavy(),
		storeHeavy(),
		branchHeavy(),
		vectorSum(),
		vectorAdd(),
		reductionTree(),
		strideIndirect(),
	}
}

// GetCoreBenchmarks returns a minimal set of 3 kernels for quick validation
// runs: ALU throughput, a RAW dependency chain and taken branches.
func GetCoreBenchmarks() []Template {
	return []Template{
		arithmetic(),
		dependency(),
		branch(),
	}
}

// 1. Arithmetic - ALU throughput with independent operations
func arithmetic() Template {
	return Template{
		Name:                     "arithmetic",
		Description:              "20 independent ADDs per iteration (ALU throughput)",
		InstructionsPerIteration: 20,
		setup: func(w *asmWriter) {
			for r := 0; r < 5; r++ {
				w.op("mov x%d, #0", r)
			}
		},
		body: func(w *asmWriter) {
			for round := 0; round < 4; round++ {
				for r := 0; r < 5; r++ {
					w.op("add x%d, x%d, #1", r, r)
				}
			}
		},
	}
}

// 2. Dependency - every ADD reads the previous result (RAW hazards)
func dependency() Template {
	return Template{
		Name:                     "dependency",
		Description:              "20 dependent ADDs per iteration (RAW hazards)",
		InstructionsPerIteration: 20,
		setup: func(w *asmWriter) {
			w.op("mov x0, #0")
		},
		body: func(w *asmWriter) {
			for i := 0; i < 20; i++ {
				w.op("add x0, x0, #1")
			}
		},
	}
}

// 3. Branch - chain of unconditional taken branches
func branch() Template {
	return Template{
		Name:                     "branch",
		Description:              "5 taken branches per iteration (branch predictor)",
		InstructionsPerIteration: 5,
		body: func(w *asmWriter) {
			for i := 1; i <= 5; i++ {
				w.op("b .b%d", i)
				w.label(fmtLabel(".b", i))
			}
		},
	}
}

// 4. Memory strided - store/load pairs 32 bytes apart
func memoryStrided() Template {
	return Template{
		Name:                     "memorystrided",
		Description:              "10 store/load pairs with stride-4 access per iteration (strided memory pattern)",
		InstructionsPerIteration: 20,
		Frame:                    320,
		setup: func(w *asmWriter) {
			w.op("mov x0, #7")
			w.op("mov x1, sp")
		},
		body: func(w *asmWriter) {
			for off := 0; off < 320; off += 32 {
				w.op("str x0, [x1, #%d]", off)
				w.op("ldr x0, [x1, #%d]", off)
			}
		},
	}
}

// loadTargets are the destination registers of the independent loads. The
// loop counter and bound registers are never among them.
var loadTargets = []string{
	"x0", "x2", "x3", "x4", "x5", "x6", "x7", "x9", "x12", "x13",
	"x14", "x15", "x16", "x17", "x18", "x19", "x20", "x21", "x22", "x23",
}

// 5. Load heavy - independent loads from a pre-filled buffer
func loadHeavy() Template {
	return Template{
		Name:                     "loadheavy",
		Description:              "20 independent loads per iteration (load throughput)",
		InstructionsPerIteration: 20,
		Frame:                    160,
		setup: func(w *asmWriter) {
			w.op("mov x1, sp")
			w.fillArray("x1", "x2", 0, sequence(1, 1, 20))
		},
		body: func(w *asmWriter) {
			for i, reg := range loadTargets {
				w.op("ldr %s, [x1, #%d]", reg, 8*i)
			}
		},
	}
}

// 6. Store heavy - independent stores to sequential slots
func storeHeavy() Template {
	return Template{
		Name:                     "storeheavy",
		Description:              "20 independent stores per iteration (store throughput)",
		InstructionsPerIteration: 20,
		Frame:                    160,
		setup: func(w *asmWriter) {
			w.op("mov x1, sp")
			w.op("mov x2, #99")
		},
		body: func(w *asmWriter) {
			for i := 0; i < 20; i++ {
				w.op("str x2, [x1, #%d]", 8*i)
			}
		},
	}
}

// 7. Branch heavy - conditional branches alternating taken and not taken
func branchHeavy() Template {
	return Template{
		Name:                     "branchheavy",
		Description:              "10 conditional branches per iteration (alternating taken/not-taken)",
		InstructionsPerIteration: 10,
		body: func(w *asmWriter) {
			for i := 1; i <= 10; i++ {
				if i%2 == 1 {
					w.op("cmp x10, #0")
				} else {
					w.op("cmp xzr, x10")
				}
				w.op("b.ge .t%d", i)
				w.op("nop")
				w.label(fmtLabel(".t", i))
			}
		},
	}
}

// 8. Vector sum - inner loop accumulating a 16-element array
func vectorSum() Template {
	return Template{
		Name:                     "vectorsum",
		Description:              "16-element array sum loop per iteration (load+accumulate)",
		InstructionsPerIteration: 100,
		Frame:                    256,
		setup: func(w *asmWriter) {
			w.fillArray("sp", "x0", 0, sequence(1, 1, 16))
		},
		body: func(w *asmWriter) {
			w.op("mov x0, #0")
			w.op("mov x1, sp")
			w.op("mov x2, #0")
			w.op("mov x3, #16")
			w.label(".inner_loop")
			w.op("ldr x4, [x1]")
			w.op("add x0, x0, x4")
			w.op("add x1, x1, #8")
			w.op("add x2, x2, #1")
			w.op("cmp x2, x3")
			w.op("b.lt .inner_loop")
		},
	}
}

// 9. Vector add - C[i] = A[i] + B[i] over 16 elements
func vectorAdd() Template {
	return Template{
		Name:                     "vectoradd",
		Description:              "16-element vector add loop per iteration (2 loads+add+store)",
		InstructionsPerIteration: 165,
		Frame:                    512,
		setup: func(w *asmWriter) {
			w.fillArray("sp", "x0", 0, sequence(1, 1, 16))
			w.fillArray("sp", "x0", 128, sequence(2, 2, 16))
		},
		body: func(w *asmWriter) {
			w.op("add x1, sp, #0")
			w.op("add x2, sp, #128")
			w.op("add x3, sp, #256")
			w.op("mov x4, #0")
			w.op("mov x5, #16")
			w.label(".inner_loop")
			w.op("ldr x6, [x1]")
			w.op("ldr x7, [x2]")
			w.op("add x9, x6, x7")
			w.op("str x9, [x3]")
			w.op("add x1, x1, #8")
			w.op("add x2, x2, #8")
			w.op("add x3, x3, #8")
			w.op("add x4, x4, #1")
			w.op("cmp x4, x5")
			w.op("b.lt .inner_loop")
		},
	}
}

// reductionRegs hold the 16 loaded elements; x10 and x11 are used, so the
// reduction tree kernel counts with x20/x21 instead.
var reductionRegs = []string{
	"x0", "x2", "x3", "x4", "x5", "x6", "x7", "x9",
	"x10", "x11", "x12", "x13", "x14", "x15", "x16", "x17",
}

// 10. Reduction tree - pairwise sum of 16 loaded values
func reductionTree() Template {
	return Template{
		Name:                     "reductiontree",
		Description:              "16-element parallel reduction tree per iteration (16 loads + 15 adds)",
		InstructionsPerIteration: 31,
		Counter:                  "x20",
		Bound:                    "x21",
		Frame:                    256,
		setup: func(w *asmWriter) {
			w.fillArray("sp", "x0", 0, sequence(1, 1, 16))
		},
		body: func(w *asmWriter) {
			for i, reg := range reductionRegs {
				w.op("ldr %s, [sp, #%d]", reg, 8*i)
			}
			level := reductionRegs
			for len(level) > 1 {
				next := make([]string, 0, len(level)/2)
				for i := 0; i < len(level); i += 2 {
					w.op("add %s, %s, %s", level[i], level[i], level[i+1])
					next = append(next, level[i])
				}
				level = next
			}
		},
	}
}

// chaseChain is the pointer chase 0->3->1->5->2->7->4->6->0.
var chaseChain = []int{3, 5, 7, 1, 6, 2, 0, 4}

// 11. Stride indirect - dependent pointer chase through an index array
func strideIndirect() Template {
	return Template{
		Name:                     "strideindirect",
		Description:              "8-hop pointer chase per iteration (dependent load chain)",
		InstructionsPerIteration: 50,
		Frame:                    128,
		setup: func(w *asmWriter) {
			w.fillArray("sp", "x0", 0, chaseChain)
		},
		body: func(w *asmWriter) {
			w.op("mov x2, #0")
			w.op("mov x3, #0")
			w.label(".chase_loop")
			w.op("lsl x5, x2, #3")
			w.op("add x5, sp, x5")
			w.op("ldr x2, [x5]")
			w.op("add x3, x3, #1")
			w.op("cmp x3, #8")
			w.op("b.lt .chase_loop")
		},
	}
}
