package stats

import (
	"fmt"
	"strings"
)

// sizeUnits are the binary units used by FormatSize.
var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count in binary units with two decimals,
// e.g. 1536 → "1.50 KB".
func FormatSize(bytes uint64) string {
	v := float64(bytes)
	unit := 0
	for v >= 1024 && unit < len(sizeUnits)-1 {
		v /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", v, sizeUnits[unit])
}

// GenerateReport renders a human-readable summary of all rollups:
// global totals, the top allocating functions and files, and the size
// distribution.
func (a *Aggregator) GenerateReport() string {
	sum := a.GetSummary()
	funcs := a.GetFunctionStats(10)
	files := a.GetFileStats(10)
	dist := a.GetSizeDistributionStats()

	var b strings.Builder
	b.WriteString("=== Memory Allocation Report ===\n\n")

	fmt.Fprintf(&b, "Total allocations:   %d\n", sum.TotalAllocations)
	fmt.Fprintf(&b, "Total deallocations: %d\n", sum.TotalDeallocations)
	fmt.Fprintf(&b, "Total allocated:     %s\n", FormatSize(sum.TotalAllocated))
	fmt.Fprintf(&b, "Current allocated:   %s\n", FormatSize(sum.CurrentAllocated))
	fmt.Fprintf(&b, "Peak usage:          %s\n", FormatSize(sum.PeakUsage))
	fmt.Fprintf(&b, "Unique functions:    %d\n", sum.UniqueFunctions)
	fmt.Fprintf(&b, "Unique files:        %d\n", sum.UniqueFiles)
	fmt.Fprintf(&b, "Unique call stacks:  %d\n", sum.UniqueCallStacks)

	if len(funcs) > 0 {
		b.WriteString("\nTop functions by total allocated:\n")
		for _, fs := range funcs {
			fmt.Fprintf(&b, "  %-40s %6d allocs  total %-12s current %-12s avg %.1f B\n",
				fs.Function, fs.AllocationCount,
				FormatSize(fs.TotalAllocated), FormatSize(fs.CurrentAllocated),
				fs.AvgSize)
		}
	}

	if len(files) > 0 {
		b.WriteString("\nTop files by total allocated:\n")
		for _, fl := range files {
			fmt.Fprintf(&b, "  %-40s %6d allocs  total %-12s current %s\n",
				fl.File, fl.AllocationCount,
				FormatSize(fl.TotalAllocated), FormatSize(fl.CurrentAllocated))
		}
	}

	if len(dist) > 0 {
		b.WriteString("\nSize distribution:\n")
		for _, bucket := range dist {
			fmt.Fprintf(&b, "  %-12s %d\n", bucket.Label, bucket.Count)
		}
	}

	return b.String()
}
