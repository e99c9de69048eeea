package trace

import (
	"github.com/kolkov/memtracer/internal/memtrace/capture"
	"github.com/kolkov/memtracer/internal/memtrace/event"
	"github.com/kolkov/memtracer/internal/memtrace/logger"
	"github.com/kolkov/memtracer/internal/memtrace/stats"
	"github.com/kolkov/memtracer/internal/memtrace/store"
	"github.com/kolkov/memtracer/internal/memtrace/viz"
)

// The facade owns one store, one aggregator, and one renderer; every
// forwarding function below operates on these.
var (
	defaultStore = store.New()
	defaultStats = stats.New()
	defaultViz   = viz.New(defaultStats, defaultStore)
)

// AllocationEvent is one recorded allocation. Address 0 marks an
// allocation that has since been freed.
type AllocationEvent = event.AllocationEvent

// Initialize resolves the backing allocator, prepares the data
// directory used for persistence on Shutdown, and readies the
// aggregation engine.
//
// Must be called before Start. Safe to call multiple times (subsequent
// calls are no-ops for already-initialized modules). On failure the
// tracer stays disabled and the entry points degrade to pure
// pass-through, so the host program is never affected.
func Initialize(dataDir string) error {
	if err := capture.Initialize(); err != nil {
		return err
	}
	if err := defaultStore.Initialize(dataDir); err != nil {
		return err
	}
	return defaultStats.Initialize()
}

// Shutdown stops capture, persists the event log to the data directory
// as allocations.json, and releases all tracer state.
//
// For manual use, pair with Initialize via defer:
//
//	trace.Initialize("./memtrace-data")
//	defer trace.Shutdown()
func Shutdown() {
	capture.Shutdown()
	defaultStore.Shutdown()
	defaultStats.Shutdown()
	logger.Flush()
}

// Start begins recording allocation events. Entry points called before
// Start (or after Stop) still allocate normally but emit no events.
func Start() {
	capture.Start()
}

// Stop ends recording. Already-started recordings on other goroutines
// complete normally.
func Stop() {
	capture.Stop()
}

// IsCapturing reports whether events are currently being recorded.
func IsCapturing() bool {
	return capture.IsCapturing()
}

// Interposed allocation entry points.
//
// These are variables bound directly to the recorder so that calling
// through the facade adds no stack frame: the captured call stack
// starts at the caller, exactly as it does when the internal package is
// called directly.
var (
	// Malloc allocates size bytes and records the allocation. The
	// event's function attribution resolves from the caller's innermost
	// stack frame.
	Malloc = capture.Malloc

	// MallocTagged is Malloc with caller-supplied attribution: the
	// hinted function name takes precedence over stack resolution, and
	// a hinted file replaces the resolved source position.
	MallocTagged = capture.MallocTagged

	// Free releases an address obtained from Malloc, MallocTagged, or
	// Realloc and records the deallocation. Free of 0 is a no-op.
	Free = capture.Free

	// Realloc resizes an allocation, recorded as a deallocation of the
	// old address paired with an allocation at the new one.
	Realloc = capture.Realloc
)

// RecordAllocation records an allocation performed outside the tracer's
// entry points. Embedders with their own allocation machinery use this
// to still get events, attribution hints included.
func RecordAllocation(addr, size uint64, function, file string, line int) {
	capture.RecordAllocation(addr, size, function, file, line)
}

// RecordDeallocation records an externally performed deallocation.
// Addresses never seen alive are ignored.
func RecordDeallocation(addr uint64) {
	capture.RecordDeallocation(addr)
}

// Allocations returns a snapshot of the capture buffer in observation
// order. Freed allocations appear with Address 0.
func Allocations() []AllocationEvent {
	return capture.GetAllocations()
}

// LiveCount returns the number of captured allocations not yet freed.
func LiveCount() int {
	return capture.LiveCount()
}

// Flush folds the finished capture buffer into the store and the
// aggregation rollups, then clears the buffer. This is the batch ingest
// path; use it after Stop.
func Flush() {
	events := capture.GetAllocations()
	defaultStore.AddBatch(events)
	defaultStats.AddBatch(events)
	capture.Clear()
}

// EnableLiveStream propagates every recorded event into the store and
// the aggregation rollups as it happens. Enable before Start; with
// streaming active, Flush is unnecessary and would double-count.
func EnableLiveStream() {
	capture.SetAllocationCallback(func(ev AllocationEvent) {
		defaultStore.Add(ev)
		defaultStats.AddAllocation(ev)
	})
	capture.SetDeallocationCallback(func(addr uint64) {
		defaultStore.MarkFreed(addr)
		defaultStats.RecordDeallocation(addr)
	})
	logger.Infof("live event streaming enabled")
}

// DisableLiveStream removes the streaming callbacks.
func DisableLiveStream() {
	capture.SetAllocationCallback(nil)
	capture.SetDeallocationCallback(nil)
	logger.Infof("live event streaming disabled")
}

// Store returns the event store for direct queries (by function, file,
// size range, time range, leaks, timeline).
func Store() *store.Store {
	return defaultStore
}

// Stats returns the aggregation engine for direct rollup queries.
func Stats() *stats.Aggregator {
	return defaultStats
}

// Renderer returns the ASCII chart renderer bound to the tracer's store
// and rollups.
func Renderer() *viz.Renderer {
	return defaultViz
}

// Report renders the full text report: summary, charts, and leak list.
func Report() string {
	return defaultViz.FullReport()
}

// SetMaxAllocations bounds the event store; when the bound is exceeded
// the oldest events are evicted.
func SetMaxAllocations(n int) {
	defaultStore.SetMaxAllocations(n)
}

// ExportJSON writes the event log to path. Failures are logged, not
// returned; the boolean reports success.
func ExportJSON(path string) bool {
	return defaultStore.ExportJSON(path)
}

// ImportJSON loads a dump written by ExportJSON, appending its events
// to the store. Failures are logged, not returned.
func ImportJSON(path string) bool {
	return defaultStore.ImportJSON(path)
}

// FormatSize renders a byte count in binary units with two decimals,
// e.g. 1536 → "1.50 KB".
func FormatSize(bytes uint64) string {
	return stats.FormatSize(bytes)
}

// SetLogLevel sets the tracer's log verbosity. Levels, from most to
// least verbose: "trace", "debug", "info", "warn", "error", "fatal".
func SetLogLevel(level string) error {
	return logger.SetLogLevelByName(level)
}

// SetLogFile mirrors tracer log output into the given file in addition
// to stderr.
func SetLogFile(path string) error {
	return logger.SetLogFile(path)
}
