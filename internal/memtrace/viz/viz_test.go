package viz

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kolkov/memtracer/internal/memtrace/event"
	"github.com/kolkov/memtracer/internal/memtrace/stats"
	"github.com/kolkov/memtracer/internal/memtrace/store"
)

// fixture builds a renderer over a small known workload: two live
// blocks from loadIndex, one freed block from readFile.
func fixture() *Renderer {
	st := store.New()
	agg := stats.New()

	events := []event.AllocationEvent{
		{Timestamp: 1_000_000, Address: 0x100, Size: 4096, Function: "loadIndex",
			File: "index.go", Line: 10, StackTrace: []string{"loadIndex", "main.main"}},
		{Timestamp: 2_000_000, Address: 0x200, Size: 2048, Function: "loadIndex",
			File: "index.go", Line: 12, StackTrace: []string{"loadIndex", "main.main"}},
		{Timestamp: 3_000_000, Address: 0x300, Size: 512, Function: "readFile",
			File: "io.go", Line: 33, StackTrace: []string{"readFile", "main.main"}},
	}
	for _, ev := range events {
		st.Add(ev)
		agg.AddAllocation(ev)
	}
	st.MarkFreed(0x300)
	agg.RecordDeallocation(0x300)

	return New(agg, st)
}

// TestMemoryUsageChart verifies the bar chart names the functions with
// their cumulative sizes.
func TestMemoryUsageChart(t *testing.T) {
	out := fixture().MemoryUsageChart(10)
	for _, want := range []string{"Memory Usage by Function", "loadIndex", "6.00 KB", "readFile", "█"} {
		if !strings.Contains(out, want) {
			t.Errorf("chart missing %q:\n%s", want, out)
		}
	}
}

// TestSizeDistributionChart verifies populated buckets render.
func TestSizeDistributionChart(t *testing.T) {
	out := fixture().SizeDistributionChart()
	for _, want := range []string{"Size Distribution", "1024-4096", "512-1024", "4096-16384"} {
		if !strings.Contains(out, want) {
			t.Errorf("chart missing %q:\n%s", want, out)
		}
	}
}

// TestTimelineChart verifies bins render with millisecond labels.
func TestTimelineChart(t *testing.T) {
	out := fixture().TimelineChart(uint64(time.Millisecond))
	if !strings.Contains(out, "Allocation Timeline") || !strings.Contains(out, "ms") {
		t.Errorf("timeline malformed:\n%s", out)
	}
	// The freed block's bin is gone; live bins remain.
	if !strings.Contains(out, "4.00 KB") || !strings.Contains(out, "2.00 KB") {
		t.Errorf("live bins missing:\n%s", out)
	}
}

// TestFileAllocationChart verifies per-file bars labeled by base name.
func TestFileAllocationChart(t *testing.T) {
	out := fixture().FileAllocationChart(10)
	for _, want := range []string{"Memory Usage by File", "index.go", "6.00 KB", "(2 allocs)"} {
		if !strings.Contains(out, want) {
			t.Errorf("chart missing %q:\n%s", want, out)
		}
	}
}

// TestHotspotsChart verifies ranking by cumulative bytes: the fully
// freed function still appears, ranked below the heavier allocator,
// with its live share shown as zero.
func TestHotspotsChart(t *testing.T) {
	out := fixture().HotspotsChart(10)
	if !strings.Contains(out, "loadIndex") || !strings.Contains(out, "readFile") {
		t.Errorf("hotspots missing a function:\n%s", out)
	}
	if strings.Index(out, "loadIndex") > strings.Index(out, "readFile") {
		t.Errorf("hotspots not ordered by total allocated:\n%s", out)
	}
	if !strings.Contains(out, "(live 0.00 B)") {
		t.Errorf("freed function's live share not zero:\n%s", out)
	}
}

// TestLeakReport verifies live allocations render with attribution and
// the freed one does not.
func TestLeakReport(t *testing.T) {
	out := fixture().LeakReport()
	for _, want := range []string{"Potential Leaks", "0x000000000100", "index.go:10", "2 live allocations", "6.00 KB total"} {
		if !strings.Contains(out, want) {
			t.Errorf("leak report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "io.go:33") {
		t.Errorf("freed allocation rendered as leak:\n%s", out)
	}
}

// TestCallStackChart verifies grouping keys render with counts.
func TestCallStackChart(t *testing.T) {
	out := fixture().CallStackChart(10)
	if !strings.Contains(out, "loadIndex <- main.main") || !strings.Contains(out, "(2 allocs)") {
		t.Errorf("call stack chart malformed:\n%s", out)
	}
}

// TestEmptyCharts verifies every chart degrades gracefully with no
// data.
func TestEmptyCharts(t *testing.T) {
	r := New(stats.New(), store.New())
	charts := []string{
		r.MemoryUsageChart(10),
		r.FileAllocationChart(10),
		r.SizeDistributionChart(),
		r.TimelineChart(uint64(time.Millisecond)),
		r.HotspotsChart(10),
		r.LeakReport(),
		r.CallStackChart(10),
	}
	for i, out := range charts {
		if !strings.Contains(out, "(no ") {
			t.Errorf("chart %d has no empty-state line:\n%s", i, out)
		}
	}
}

// TestExportToText verifies the full report lands on disk.
func TestExportToText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	if err := fixture().ExportToText(path); err != nil {
		t.Fatalf("ExportToText: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(data), "Memory Allocation Report") {
		t.Error("exported report missing summary section")
	}
}

// TestMonitorLifecycle verifies the monitor redraws until stopped.
func TestMonitorLifecycle(t *testing.T) {
	r := fixture()
	var buf bytes.Buffer
	r.SetOutput(&buf)

	r.StartMonitor(5 * time.Millisecond)
	r.StartMonitor(5 * time.Millisecond) // second start is a no-op
	time.Sleep(30 * time.Millisecond)
	r.StopMonitor()
	r.StopMonitor() // second stop is a no-op

	out := buf.String()
	if !strings.Contains(out, "live:") || !strings.Contains(out, "Memory Hotspots") {
		t.Errorf("monitor output malformed:\n%s", out)
	}
	if !strings.Contains(out, ansiClear) {
		t.Error("monitor did not clear the screen between frames")
	}
}
