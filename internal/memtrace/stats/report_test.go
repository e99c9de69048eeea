package stats

import (
	"strings"
	"testing"

	"github.com/kolkov/memtracer/internal/memtrace/event"
)

// TestFormatSize verifies binary units with two decimals.
func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes uint64
		want  string
	}{
		{0, "0.00 B"},
		{512, "512.00 B"},
		{1023, "1023.00 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1 << 20, "1.00 MB"},
		{5 << 20, "5.00 MB"},
		{1 << 30, "1.00 GB"},
		{1 << 40, "1.00 TB"},
		{3 << 40, "3.00 TB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.bytes); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

// TestGenerateReport verifies the report carries the headline numbers
// and the top allocators.
func TestGenerateReport(t *testing.T) {
	a := New()
	a.AddAllocation(event.AllocationEvent{
		Address: 0x1, Size: 2048, Function: "loadIndex", File: "index.go",
		StackTrace: []string{"loadIndex", "main.main"},
	})
	a.AddAllocation(event.AllocationEvent{
		Address: 0x2, Size: 1024, Function: "readFile", File: "io.go",
		StackTrace: []string{"readFile", "main.main"},
	})
	a.RecordDeallocation(0x2)

	report := a.GenerateReport()
	for _, want := range []string{
		"Memory Allocation Report",
		"Total allocations:   2",
		"Total deallocations: 1",
		"Total allocated:     3.00 KB",
		"Current allocated:   2.00 KB",
		"loadIndex",
		"readFile",
		"avg 2048.0 B",
		"avg 1024.0 B",
		"Size distribution:",
		"1024-4096",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}
