// Package trace provides a Pure-Go memory allocation tracer without CGO
// dependency.
//
// The tracer interposes on allocation calls routed through it, records
// a fully attributed event for every allocation and deallocation
// (timestamp, size, thread id, symbolized call stack), and makes the
// recorded history queryable: by function, by file, by size and time
// range, as leak reports, and as aggregate statistics with ASCII chart
// rendering and JSON persistence.
//
// # Quick Start
//
//	package main
//
//	import "github.com/kolkov/memtracer/trace"
//
//	func main() {
//		trace.Initialize("./memtrace-data")
//		defer trace.Shutdown()
//
//		trace.Start()
//		buf := trace.Malloc(4096)
//		// ... use buf ...
//		trace.Free(buf)
//		trace.Stop()
//
//		trace.Flush() // fold the capture buffer into the store and rollups
//		fmt.Print(trace.Report())
//	}
//
// # API Overview
//
// The package provides functions for:
//   - Initialization and finalization: [Initialize], [Shutdown]
//   - Capture control: [Start], [Stop], [IsCapturing]
//   - Interposed allocation entry points: [Malloc], [MallocTagged],
//     [Free], [Realloc]
//   - External recording hooks: [RecordAllocation], [RecordDeallocation]
//   - Ingest: [Flush] (batch), [EnableLiveStream] / [DisableLiveStream]
//     (streaming)
//   - Queries and reports: [Allocations], [Store], [Stats], [Renderer],
//     [Report]
//   - Persistence: [ExportJSON], [ImportJSON]
//   - Logging: [SetLogLevel], [SetLogFile]
//
// # How It Works
//
// Every entry point delegates to a backing allocator published once at
// Initialize. While capture is active (between Start and Stop), each
// call additionally records an event into the capture buffer. Recording
// is fail-open in both directions: before Initialize completes, calls
// pass through a bootstrap allocator and emit nothing; a failure inside
// the recorder is suppressed and never reaches the allocating caller.
//
// Recording itself allocates (symbolication, map growth). A
// per-goroutine reentrancy guard makes those inner allocations pass
// through untracked, so the tracer never traces itself.
//
// The recorded history lives in two places with different shapes. The
// store keeps the canonical ordered event log with indices and a
// liveness view; deallocation marks the original allocation event freed
// (address 0) rather than appending a second event, so the log length
// equals the number of allocations ever recorded. The stats aggregator
// keeps incremental rollups (per function, per file, per call stack,
// size distribution) that answer in O(1) without rescanning the log.
//
// # Two Ingest Modes
//
// Batch: run a workload between Start and Stop, then call Flush to fold
// the finished capture buffer into the store and the aggregator in one
// pass. Freed allocations arrive with address 0 and count toward
// cumulative totals but not live residency.
//
// Streaming: call EnableLiveStream before Start to propagate every
// event into the store and the aggregator as it is recorded. Residency
// and peak-usage figures then track the workload in real time, which is
// what the realtime monitor ([Renderer], viz.StartMonitor) consumes.
//
// # Thread Safety
//
// All exported functions are safe for concurrent use. Timestamps are
// nondecreasing per thread; events from different threads interleave in
// observation order.
package trace
