// Package viz renders the aggregated rollups and the event log as
// ASCII charts for terminals and plain-text export.
//
// The renderer is a pure consumer: it reads the aggregator and the
// store through their query methods and never mutates either. Every
// chart function returns a string so output composes; printing is the
// caller's business, except for the realtime monitor which owns its
// writer for the duration of the loop.
package viz

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kolkov/memtracer/internal/memtrace/logger"
	"github.com/kolkov/memtracer/internal/memtrace/stats"
	"github.com/kolkov/memtracer/internal/memtrace/store"
)

// Bar widths per chart, in cells of the widest bar.
const (
	usageBarWidth     = 50
	distBarWidth      = 40
	timelineBarWidth  = 40
	hotspotBarWidth   = 45
	leakBarWidth      = 30
	callStackBarWidth = 40
	fileBarWidth      = 40
)

// ansiClear repositions the cursor and wipes the screen between
// monitor refreshes.
const ansiClear = "\033[2J\033[H"

// Renderer draws charts from an aggregator and a store.
type Renderer struct {
	agg *stats.Aggregator
	st  *store.Store

	mu      sync.Mutex
	out     io.Writer
	stopMon chan struct{}
	monWG   sync.WaitGroup
}

// New returns a Renderer reading from agg and st, writing monitor
// output to stdout.
func New(agg *stats.Aggregator, st *store.Store) *Renderer {
	return &Renderer{agg: agg, st: st, out: os.Stdout}
}

// SetOutput redirects monitor output. Pass before StartMonitor.
func (r *Renderer) SetOutput(w io.Writer) {
	r.mu.Lock()
	r.out = w
	r.mu.Unlock()
}

// MemoryUsageChart renders the top limit functions by cumulative
// allocated bytes as horizontal bars.
func (r *Renderer) MemoryUsageChart(limit int) string {
	funcs := r.agg.GetFunctionStats(limit)
	var b strings.Builder
	b.WriteString("=== Memory Usage by Function ===\n")
	if len(funcs) == 0 {
		b.WriteString("(no allocations recorded)\n")
		return b.String()
	}
	max := funcs[0].TotalAllocated
	for _, fs := range funcs {
		fmt.Fprintf(&b, "%-35s |%s| %s (%d allocs)\n",
			trim(fs.Function, 35),
			bar(fs.TotalAllocated, max, usageBarWidth),
			stats.FormatSize(fs.TotalAllocated),
			fs.AllocationCount)
	}
	return b.String()
}

// SizeDistributionChart renders the populated global size buckets.
func (r *Renderer) SizeDistributionChart() string {
	dist := r.agg.GetSizeDistributionStats()
	var b strings.Builder
	b.WriteString("=== Allocation Size Distribution ===\n")
	if len(dist) == 0 {
		b.WriteString("(no allocations recorded)\n")
		return b.String()
	}
	var max uint64
	for _, bucket := range dist {
		if bucket.Count > max {
			max = bucket.Count
		}
	}
	for _, bucket := range dist {
		fmt.Fprintf(&b, "%-12s |%s| %d\n",
			bucket.Label, bar(bucket.Count, max, distBarWidth), bucket.Count)
	}
	return b.String()
}

// TimelineChart renders live memory binned over time. bucketNs is the
// bin width in nanoseconds.
func (r *Renderer) TimelineChart(bucketNs uint64) string {
	points := r.st.GetAllocationTimeline(bucketNs)
	var b strings.Builder
	b.WriteString("=== Allocation Timeline ===\n")
	if len(points) == 0 {
		b.WriteString("(no allocations recorded)\n")
		return b.String()
	}
	var max uint64
	for _, p := range points {
		if p.MemoryUsage > max {
			max = p.MemoryUsage
		}
	}
	for _, p := range points {
		fmt.Fprintf(&b, "%12.3fms |%s| %s\n",
			float64(p.Timestamp)/1e6,
			bar(p.MemoryUsage, max, timelineBarWidth),
			stats.FormatSize(p.MemoryUsage))
	}
	fmt.Fprintf(&b, "peak bin: %s\n", stats.FormatSize(max))
	return b.String()
}

// FileAllocationChart renders the top limit source files by cumulative
// allocated bytes, labeled by base filename.
func (r *Renderer) FileAllocationChart(limit int) string {
	files := r.agg.GetFileStats(limit)
	var b strings.Builder
	b.WriteString("=== Memory Usage by File ===\n")
	if len(files) == 0 {
		b.WriteString("(no allocations recorded)\n")
		return b.String()
	}
	max := files[0].TotalAllocated
	for _, fl := range files {
		fmt.Fprintf(&b, "%-25s |%s| %s (%d allocs)\n",
			trim(filepath.Base(fl.File), 25),
			bar(fl.TotalAllocated, max, fileBarWidth),
			stats.FormatSize(fl.TotalAllocated),
			fl.AllocationCount)
	}
	return b.String()
}

// HotspotsChart renders the heaviest allocators by cumulative bytes,
// with each function's live share alongside.
func (r *Renderer) HotspotsChart(limit int) string {
	hot := r.agg.GetMemoryHotspots(limit)
	var b strings.Builder
	b.WriteString("=== Memory Hotspots ===\n")
	if len(hot) == 0 {
		b.WriteString("(no allocations recorded)\n")
		return b.String()
	}
	max := hot[0].TotalAllocated
	for _, fs := range hot {
		fmt.Fprintf(&b, "%-35s |%s| %s (live %s)\n",
			trim(fs.Function, 35),
			bar(fs.TotalAllocated, max, hotspotBarWidth),
			stats.FormatSize(fs.TotalAllocated),
			stats.FormatSize(fs.CurrentAllocated))
	}
	return b.String()
}

// LeakReport renders every live allocation in the store, oldest first,
// with a size bar scaled to the largest leak.
func (r *Renderer) LeakReport() string {
	leaks := r.st.GetLeaks()
	var b strings.Builder
	b.WriteString("=== Potential Leaks ===\n")
	if len(leaks) == 0 {
		b.WriteString("(no live allocations)\n")
		return b.String()
	}
	var max, total uint64
	for i := range leaks {
		if leaks[i].Size > max {
			max = leaks[i].Size
		}
		total += leaks[i].Size
	}
	for i := range leaks {
		l := &leaks[i]
		fmt.Fprintf(&b, "0x%012x %-30s %s:%d |%s| %s\n",
			l.Address, trim(l.Function, 30), l.File, l.Line,
			bar(l.Size, max, leakBarWidth), stats.FormatSize(l.Size))
	}
	fmt.Fprintf(&b, "%d live allocations, %s total\n", len(leaks), stats.FormatSize(total))
	return b.String()
}

// CallStackChart renders the heaviest call-stack keys by total bytes.
func (r *Renderer) CallStackChart(limit int) string {
	all := r.agg.GetCallStackStats()
	var b strings.Builder
	b.WriteString("=== Allocations by Call Stack ===\n")
	if len(all) == 0 {
		b.WriteString("(no allocations recorded)\n")
		return b.String()
	}

	type kv struct {
		key string
		cs  stats.CallStackStats
	}
	rows := make([]kv, 0, len(all))
	for k, v := range all {
		rows = append(rows, kv{k, v})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].cs.TotalSize != rows[j].cs.TotalSize {
			return rows[i].cs.TotalSize > rows[j].cs.TotalSize
		}
		return rows[i].key < rows[j].key
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	max := rows[0].cs.TotalSize
	for _, row := range rows {
		fmt.Fprintf(&b, "|%s| %s (%d allocs)\n  %s\n",
			bar(row.cs.TotalSize, max, callStackBarWidth),
			stats.FormatSize(row.cs.TotalSize), row.cs.Count, row.key)
	}
	return b.String()
}

// FullReport concatenates every chart plus the aggregator's text
// report.
func (r *Renderer) FullReport() string {
	sections := []string{
		r.agg.GenerateReport(),
		r.MemoryUsageChart(10),
		r.FileAllocationChart(10),
		r.HotspotsChart(10),
		r.SizeDistributionChart(),
		r.TimelineChart(uint64(time.Millisecond)),
		r.CallStackChart(10),
		r.LeakReport(),
	}
	return strings.Join(sections, "\n")
}

// ExportToText writes the full report to path.
func (r *Renderer) ExportToText(path string) error {
	if err := os.WriteFile(path, []byte(r.FullReport()), 0o644); err != nil {
		return fmt.Errorf("export report: %w", err)
	}
	logger.Infof("visualization report written to %s", path)
	return nil
}

// StartMonitor launches a goroutine that redraws the summary and
// hotspot charts every interval, clearing the terminal between frames.
// A second call while the monitor runs is a no-op.
func (r *Renderer) StartMonitor(interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopMon != nil {
		return
	}
	stop := make(chan struct{})
	r.stopMon = stop
	out := r.out
	r.monWG.Add(1)
	go func() {
		defer r.monWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fmt.Fprint(out, ansiClear)
				sum := r.agg.GetSummary()
				fmt.Fprintf(out, "live: %s   peak: %s   allocs: %d   frees: %d\n\n",
					stats.FormatSize(sum.CurrentAllocated),
					stats.FormatSize(sum.PeakUsage),
					sum.TotalAllocations, sum.TotalDeallocations)
				fmt.Fprint(out, r.HotspotsChart(10))
			}
		}
	}()
	logger.Infof("realtime monitor started (interval %s)", interval)
}

// StopMonitor stops the monitor goroutine and waits for it to exit.
func (r *Renderer) StopMonitor() {
	r.mu.Lock()
	stop := r.stopMon
	r.stopMon = nil
	r.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	r.monWG.Wait()
	logger.Infof("realtime monitor stopped")
}

// bar renders value scaled against max into width cells. Nonzero values
// always get at least one cell.
func bar(value, max uint64, width int) string {
	if max == 0 {
		return strings.Repeat(" ", width)
	}
	n := int(value * uint64(width) / max)
	if n == 0 && value > 0 {
		n = 1
	}
	if n > width {
		n = width
	}
	return strings.Repeat("█", n) + strings.Repeat(" ", width-n)
}

// trim shortens s to max bytes with an ellipsis. Symbol names are
// ASCII, so byte and column counts agree.
func trim(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
