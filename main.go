// Package main provides the entry point for m2calib.
// m2calib calibrates the M2 simulator against native Apple M2 timings.
//
// For the full CLI, use: go run ./cmd/m2calib
package main

import (
	"fmt"
	"os"

	"github.com/sarchlab/m2calib/benchmarks"
)

func main() {
	fmt.Println("m2calib - M2 Simulator Calibration Tools")
	fmt.Println("")
	fmt.Println("Usage: m2calib <command> [flags]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  calibrate  Fit per-instruction latency from native kernel timings")
	fmt.Println("  accuracy   Gate simulator CPI against calibrated hardware")
	fmt.Println("  scaling    Validate CPI trends across problem sizes")
	fmt.Println("  trend      Record throughput history and detect regressions")
	fmt.Println("")
	fmt.Println("Kernels:")
	for _, t := range benchmarks.GetMicrobenchmarks() {
		fmt.Printf("  %-15s %s\n", t.Name, t.Description)
	}
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/m2calib' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/m2calib' instead.")
	}
}
