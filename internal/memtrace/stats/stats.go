// Package stats is the aggregation engine: it folds allocation events
// into per-function, per-file, per-call-stack, and size-distribution
// rollups that stay current incrementally, without rescanning the event
// log.
//
// Two ingest paths feed it. Live streaming delivers allocations and
// deallocations as they happen; batch ingest replays a finished capture
// buffer, where freed allocations appear with address 0 and contribute
// to cumulative totals but not to current residency. Both paths
// converge on the same rollup state.
//
// Residency bookkeeping needs the original attribution of a block to
// know which rollups to decrement on free, so the engine keeps its own
// address → (function, file, size) tracking map for live blocks.
package stats

import (
	"math"
	"sort"
	"sync"

	"github.com/kolkov/memtracer/internal/memtrace/event"
	"github.com/kolkov/memtracer/internal/memtrace/logger"
)

// bucketBounds are the lower bounds of the size-distribution buckets.
// Each bucket spans [bound, nextBound); the last is open-ended.
var bucketBounds = []uint64{0, 16, 32, 64, 128, 256, 512, 1024, 4096, 16384, 65536}

// FunctionStats is the rollup for one allocating function.
// SizeDistribution counts allocations per exact requested size; the
// fixed-bucket histogram is a global fold over all functions.
type FunctionStats struct {
	Function         string            `json:"function"`
	AllocationCount  uint64            `json:"allocation_count"`
	TotalAllocated   uint64            `json:"total_allocated"`
	CurrentAllocated uint64            `json:"current_allocated"`
	PeakAllocation   uint64            `json:"peak_allocation"`
	AvgSize          float64           `json:"avg_size"`
	SizeDistribution map[uint64]uint64 `json:"size_distribution"`
}

// FileStats is the rollup for one source file.
type FileStats struct {
	File             string            `json:"file"`
	AllocationCount  uint64            `json:"allocation_count"`
	TotalAllocated   uint64            `json:"total_allocated"`
	CurrentAllocated uint64            `json:"current_allocated"`
	FunctionCounts   map[string]uint64 `json:"function_counts"`
}

// CallStackStats is the rollup for one call-stack key (the innermost
// frames of the capture joined with " <- ").
type CallStackStats struct {
	Count     uint64 `json:"count"`
	TotalSize uint64 `json:"total_size"`
}

// SizeBucket is one populated bucket of the global size distribution.
type SizeBucket struct {
	Label string `json:"label"`
	Min   uint64 `json:"min"`
	Max   uint64 `json:"max"` // exclusive; MaxUint64 for the open bucket
	Count uint64 `json:"count"`
}

// Summary is the global rollup.
type Summary struct {
	TotalAllocations   uint64 `json:"total_allocations"`
	TotalDeallocations uint64 `json:"total_deallocations"`
	TotalAllocated     uint64 `json:"total_allocated"`
	CurrentAllocated   uint64 `json:"current_allocated"`
	PeakUsage          uint64 `json:"peak_usage"`
	UniqueFunctions    int    `json:"unique_functions"`
	UniqueFiles        int    `json:"unique_files"`
	UniqueCallStacks   int    `json:"unique_call_stacks"`
}

// tracked is the retained attribution of a live block.
type tracked struct {
	function string
	file     string
	size     uint64
}

// Aggregator folds events into rollups. All methods are safe for
// concurrent use.
type Aggregator struct {
	mu         sync.Mutex
	functions  map[string]*FunctionStats
	files      map[string]*FileStats
	callStacks map[string]*CallStackStats
	tracking   map[uint64]tracked
	buckets    []uint64 // global distribution, parallel to bucketBounds

	totalAllocations   uint64
	totalDeallocations uint64
	totalAllocated     uint64
	currentAllocated   uint64
	peakUsage          uint64
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{
		functions:  make(map[string]*FunctionStats),
		files:      make(map[string]*FileStats),
		callStacks: make(map[string]*CallStackStats),
		tracking:   make(map[uint64]tracked),
		buckets:    make([]uint64, len(bucketBounds)),
	}
}

// Initialize logs readiness. Kept for lifecycle symmetry with the other
// modules; the zero state from New is already valid.
func (a *Aggregator) Initialize() error {
	logger.Infof("statistics module initialized")
	return nil
}

// Shutdown clears all rollups.
func (a *Aggregator) Shutdown() {
	a.Reset()
	logger.Infof("statistics module shutdown")
}

// AddAllocation folds one allocation event into every rollup.
//
// Events already freed (address 0, as produced by batch ingest of a
// finished capture) contribute to counts and cumulative totals but not
// to current residency, and are not entered into the tracking map.
func (a *Aggregator) AddAllocation(ev event.AllocationEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	bucket := bucketFor(ev.Size)

	fs := a.functions[ev.Function]
	if fs == nil {
		fs = &FunctionStats{
			Function:         ev.Function,
			SizeDistribution: make(map[uint64]uint64),
		}
		a.functions[ev.Function] = fs
	}
	fs.AllocationCount++
	fs.TotalAllocated += ev.Size
	fs.AvgSize = float64(fs.TotalAllocated) / float64(fs.AllocationCount)
	if ev.Size > fs.PeakAllocation {
		fs.PeakAllocation = ev.Size
	}
	fs.SizeDistribution[ev.Size]++

	fl := a.files[ev.File]
	if fl == nil {
		fl = &FileStats{
			File:           ev.File,
			FunctionCounts: make(map[string]uint64),
		}
		a.files[ev.File] = fl
	}
	fl.AllocationCount++
	fl.TotalAllocated += ev.Size
	fl.FunctionCounts[ev.Function]++

	key := ev.StackKey()
	cs := a.callStacks[key]
	if cs == nil {
		cs = &CallStackStats{}
		a.callStacks[key] = cs
	}
	cs.Count++
	cs.TotalSize += ev.Size

	a.buckets[bucket]++
	a.totalAllocations++
	a.totalAllocated += ev.Size

	if ev.Address == event.FreedAddress {
		return
	}

	fs.CurrentAllocated += ev.Size
	fl.CurrentAllocated += ev.Size
	a.currentAllocated += ev.Size
	if a.currentAllocated > a.peakUsage {
		a.peakUsage = a.currentAllocated
	}
	a.tracking[ev.Address] = tracked{function: ev.Function, file: ev.File, size: ev.Size}
}

// AddBatch folds a capture buffer in observation order.
func (a *Aggregator) AddBatch(events []event.AllocationEvent) {
	for _, ev := range events {
		a.AddAllocation(ev)
	}
}

// RecordDeallocation decrements residency for the block at addr using
// the attribution remembered at allocation time. Unknown addresses are
// ignored; decrements saturate at zero so a bookkeeping mismatch can
// never wrap a counter.
func (a *Aggregator) RecordDeallocation(addr uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tb, ok := a.tracking[addr]
	if !ok {
		return
	}
	delete(a.tracking, addr)
	a.totalDeallocations++

	if fs := a.functions[tb.function]; fs != nil {
		fs.CurrentAllocated = saturatingSub(fs.CurrentAllocated, tb.size)
	}
	if fl := a.files[tb.file]; fl != nil {
		fl.CurrentAllocated = saturatingSub(fl.CurrentAllocated, tb.size)
	}
	a.currentAllocated = saturatingSub(a.currentAllocated, tb.size)
}

// GetFunctionStats returns function rollups sorted by cumulative bytes
// descending. limit caps the result; limit <= 0 returns all.
func (a *Aggregator) GetFunctionStats(limit int) []FunctionStats {
	a.mu.Lock()
	out := make([]FunctionStats, 0, len(a.functions))
	for _, fs := range a.functions {
		out = append(out, copyFunctionStats(fs))
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalAllocated != out[j].TotalAllocated {
			return out[i].TotalAllocated > out[j].TotalAllocated
		}
		return out[i].Function < out[j].Function
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetFunctionStatsByName returns the rollup for one function.
func (a *Aggregator) GetFunctionStatsByName(name string) (FunctionStats, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fs, ok := a.functions[name]
	if !ok {
		return FunctionStats{}, false
	}
	return copyFunctionStats(fs), true
}

// GetFileStats returns file rollups sorted by cumulative bytes
// descending. limit caps the result; limit <= 0 returns all.
func (a *Aggregator) GetFileStats(limit int) []FileStats {
	a.mu.Lock()
	out := make([]FileStats, 0, len(a.files))
	for _, fl := range a.files {
		out = append(out, copyFileStats(fl))
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalAllocated != out[j].TotalAllocated {
			return out[i].TotalAllocated > out[j].TotalAllocated
		}
		return out[i].File < out[j].File
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetMemoryHotspots returns the heaviest allocators, sorted by
// cumulative allocated bytes descending. A function whose blocks were
// all freed still ranks by what it allocated; limit <= 0 returns all.
func (a *Aggregator) GetMemoryHotspots(limit int) []FunctionStats {
	a.mu.Lock()
	out := make([]FunctionStats, 0, len(a.functions))
	for _, fs := range a.functions {
		out = append(out, copyFunctionStats(fs))
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalAllocated != out[j].TotalAllocated {
			return out[i].TotalAllocated > out[j].TotalAllocated
		}
		return out[i].Function < out[j].Function
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetSizeDistributionStats returns the populated buckets of the global
// size distribution in ascending bound order. Empty buckets are elided.
func (a *Aggregator) GetSizeDistributionStats() []SizeBucket {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []SizeBucket
	for i, count := range a.buckets {
		if count == 0 {
			continue
		}
		max := uint64(math.MaxUint64)
		if i+1 < len(bucketBounds) {
			max = bucketBounds[i+1]
		}
		out = append(out, SizeBucket{
			Label: bucketLabel(i),
			Min:   bucketBounds[i],
			Max:   max,
			Count: count,
		})
	}
	return out
}

// GetCallStackStats returns a copy of the call-stack rollups keyed by
// stack key.
func (a *Aggregator) GetCallStackStats() map[string]CallStackStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]CallStackStats, len(a.callStacks))
	for k, v := range a.callStacks {
		out[k] = *v
	}
	return out
}

// GetSummary returns the global rollup.
func (a *Aggregator) GetSummary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Summary{
		TotalAllocations:   a.totalAllocations,
		TotalDeallocations: a.totalDeallocations,
		TotalAllocated:     a.totalAllocated,
		CurrentAllocated:   a.currentAllocated,
		PeakUsage:          a.peakUsage,
		UniqueFunctions:    len(a.functions),
		UniqueFiles:        len(a.files),
		UniqueCallStacks:   len(a.callStacks),
	}
}

// LiveTracked returns the number of blocks in the tracking map.
func (a *Aggregator) LiveTracked() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tracking)
}

// Reset drops every rollup and the tracking map.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.functions = make(map[string]*FunctionStats)
	a.files = make(map[string]*FileStats)
	a.callStacks = make(map[string]*CallStackStats)
	a.tracking = make(map[uint64]tracked)
	a.buckets = make([]uint64, len(bucketBounds))
	a.totalAllocations = 0
	a.totalDeallocations = 0
	a.totalAllocated = 0
	a.currentAllocated = 0
	a.peakUsage = 0
	a.mu.Unlock()
}

// bucketFor returns the index of the distribution bucket containing
// size.
func bucketFor(size uint64) int {
	for i := len(bucketBounds) - 1; i >= 0; i-- {
		if size >= bucketBounds[i] {
			return i
		}
	}
	return 0
}

// bucketLabel renders a bucket index as "min-max" ("65536+" for the
// open-ended last bucket).
func bucketLabel(i int) string {
	if i+1 >= len(bucketBounds) {
		return "65536+"
	}
	return itoa(bucketBounds[i]) + "-" + itoa(bucketBounds[i+1])
}

// itoa avoids fmt on the ingest path.
func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func copyFunctionStats(fs *FunctionStats) FunctionStats {
	out := *fs
	out.SizeDistribution = make(map[uint64]uint64, len(fs.SizeDistribution))
	for k, v := range fs.SizeDistribution {
		out.SizeDistribution[k] = v
	}
	return out
}

func copyFileStats(fl *FileStats) FileStats {
	out := *fl
	out.FunctionCounts = make(map[string]uint64, len(fl.FunctionCounts))
	for k, v := range fl.FunctionCounts {
		out.FunctionCounts[k] = v
	}
	return out
}
