package store

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/kolkov/memtracer/internal/memtrace/event"
)

// ev builds a minimal allocation event for store tests.
func ev(ts, addr, size uint64, fn, file string) event.AllocationEvent {
	return event.AllocationEvent{
		Timestamp: ts,
		Address:   addr,
		Size:      size,
		Function:  fn,
		File:      file,
		Line:      1,
	}
}

// TestQueryByFunction verifies the function index returns live
// allocations with correct totals.
func TestQueryByFunction(t *testing.T) {
	s := New()
	s.Add(ev(10, 0x100, 1024, "readFile", "io.go"))
	s.Add(ev(20, 0x200, 2048, "readFile", "io.go"))
	s.Add(ev(30, 0x300, 512, "parseHeader", "parse.go"))

	res := s.QueryByFunction("readFile")
	if res.TotalCount != 2 {
		t.Fatalf("TotalCount = %d, want 2", res.TotalCount)
	}
	if res.TotalSize != 3072 {
		t.Errorf("TotalSize = %d, want 3072", res.TotalSize)
	}
	if res.PeakUsage != 2048 {
		t.Errorf("PeakUsage = %d, want 2048 (largest single)", res.PeakUsage)
	}
	if res.Allocations[0].Address != 0x100 || res.Allocations[1].Address != 0x200 {
		t.Error("results not in log order")
	}

	if miss := s.QueryByFunction("missing"); miss.TotalCount != 0 {
		t.Errorf("unknown function returned %d results", miss.TotalCount)
	}
}

// TestQueryExcludesFreed verifies freed allocations vanish from
// function, file, and size queries.
func TestQueryExcludesFreed(t *testing.T) {
	s := New()
	s.Add(ev(10, 0x100, 1024, "readFile", "io.go"))
	s.Add(ev(20, 0x200, 2048, "readFile", "io.go"))
	s.MarkFreed(0x100)

	if res := s.QueryByFunction("readFile"); res.TotalCount != 1 || res.TotalSize != 2048 {
		t.Errorf("function query = {count %d size %d}, want {1 2048}", res.TotalCount, res.TotalSize)
	}
	if res := s.QueryByFile("io.go"); res.TotalCount != 1 {
		t.Errorf("file query count = %d, want 1", res.TotalCount)
	}
	if res := s.QueryBySizeRange(0, 1<<20); res.TotalCount != 1 {
		t.Errorf("size query count = %d, want 1", res.TotalCount)
	}
}

// TestQueryBySizeRange verifies both bounds are inclusive.
func TestQueryBySizeRange(t *testing.T) {
	s := New()
	s.Add(ev(1, 0x1, 100, "f", "f.go"))
	s.Add(ev(2, 0x2, 200, "f", "f.go"))
	s.Add(ev(3, 0x3, 300, "f", "f.go"))

	res := s.QueryBySizeRange(100, 200)
	if res.TotalCount != 2 || res.TotalSize != 300 {
		t.Errorf("result = {count %d size %d}, want {2 300}", res.TotalCount, res.TotalSize)
	}
}

// TestQueryByTimeRange verifies freed events count toward the total but
// contribute no size.
func TestQueryByTimeRange(t *testing.T) {
	s := New()
	s.Add(ev(100, 0x1, 1000, "f", "f.go"))
	s.Add(ev(200, 0x2, 2000, "f", "f.go"))
	s.Add(ev(900, 0x3, 4000, "f", "f.go"))
	s.MarkFreed(0x1)

	res := s.QueryByTimeRange(100, 200)
	if res.TotalCount != 2 {
		t.Fatalf("TotalCount = %d, want 2 (freed event included)", res.TotalCount)
	}
	if res.TotalSize != 2000 {
		t.Errorf("TotalSize = %d, want 2000 (freed size excluded)", res.TotalSize)
	}
}

// TestQueryByTimeRangeOrdering verifies results come back in timestamp
// order even when events were inserted out of order, with both bounds
// inclusive.
func TestQueryByTimeRangeOrdering(t *testing.T) {
	s := New()
	s.Add(ev(300, 0x3, 30, "f", "f.go"))
	s.Add(ev(100, 0x1, 10, "f", "f.go"))
	s.Add(ev(200, 0x2, 20, "f", "f.go"))

	res := s.QueryByTimeRange(100, 300)
	if res.TotalCount != 3 {
		t.Fatalf("TotalCount = %d, want 3", res.TotalCount)
	}
	for i, want := range []uint64{100, 200, 300} {
		if res.Allocations[i].Timestamp != want {
			t.Fatalf("Allocations[%d].Timestamp = %d, want %d (timestamp order)",
				i, res.Allocations[i].Timestamp, want)
		}
	}
	if edge := s.QueryByTimeRange(200, 200); edge.TotalCount != 1 {
		t.Errorf("single-point range count = %d, want 1", edge.TotalCount)
	}
}

// TestQueryByTimeRangeAfterEviction verifies evicted entries vanish
// from time-range results even while their stale index positions
// linger.
func TestQueryByTimeRangeAfterEviction(t *testing.T) {
	s := New()
	s.SetMaxAllocations(2)
	for i := uint64(1); i <= 4; i++ {
		s.Add(ev(i*100, 0x10*i, i, "f", "f.go"))
	}

	res := s.QueryByTimeRange(0, ^uint64(0))
	if res.TotalCount != 2 {
		t.Fatalf("TotalCount = %d, want 2 (evicted entries skipped)", res.TotalCount)
	}
	if res.Allocations[0].Timestamp != 300 || res.Allocations[1].Timestamp != 400 {
		t.Errorf("retained window = %+v, want timestamps 300 and 400", res.Allocations)
	}
}

// TestMarkFreed verifies pairing, in-place marking, and idempotence.
func TestMarkFreed(t *testing.T) {
	s := New()
	s.Add(ev(10, 0x100, 64, "f", "f.go"))

	if !s.MarkFreed(0x100) {
		t.Fatal("MarkFreed(0x100) = false, want true")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d after free, want 1 (no append)", s.Len())
	}
	if leaks := s.GetLeaks(); len(leaks) != 0 {
		t.Errorf("GetLeaks() has %d entries after free, want 0", len(leaks))
	}
	if s.MarkFreed(0x100) {
		t.Error("second MarkFreed = true, want false (double free ignored)")
	}
	if s.MarkFreed(0xdead) {
		t.Error("MarkFreed of unknown address = true, want false")
	}
}

// TestLivenessLastWriterWins verifies a reused address pairs with the
// most recent allocation.
func TestLivenessLastWriterWins(t *testing.T) {
	s := New()
	s.Add(ev(10, 0x100, 64, "first", "f.go"))
	s.MarkFreed(0x100)
	s.Add(ev(20, 0x100, 128, "second", "f.go"))

	if !s.MarkFreed(0x100) {
		t.Fatal("MarkFreed of reused address = false")
	}
	// Both log entries now freed; the second's size is preserved.
	if leaks := s.GetLeaks(); len(leaks) != 0 {
		t.Errorf("GetLeaks() has %d entries, want 0", len(leaks))
	}
	if got := s.liveSet(); len(got) != 0 {
		t.Errorf("liveness map has %d entries, want 0", len(got))
	}
}

// TestEvictionCapOne verifies a capacity of one keeps exactly the
// newest record.
func TestEvictionCapOne(t *testing.T) {
	s := New()
	s.SetMaxAllocations(1)
	s.Add(ev(10, 0x1, 100, "a", "a.go"))
	s.Add(ev(20, 0x2, 200, "b", "b.go"))
	s.Add(ev(30, 0x3, 300, "c", "c.go"))

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	if res := s.QueryByFunction("c"); res.TotalCount != 1 || res.TotalSize != 300 {
		t.Error("newest record not retained")
	}
	for _, fn := range []string{"a", "b"} {
		if res := s.QueryByFunction(fn); res.TotalCount != 0 {
			t.Errorf("evicted function %q still queryable", fn)
		}
	}
	if s.MarkFreed(0x1) {
		t.Error("MarkFreed of evicted address = true, want false")
	}
}

// TestEvictionMaintainsIndices verifies index and liveness consistency
// across evictions with a small capacity.
func TestEvictionMaintainsIndices(t *testing.T) {
	s := New()
	s.SetMaxAllocations(3)
	for i := uint64(1); i <= 5; i++ {
		s.Add(ev(i*10, 0x100*i, i*100, "worker", "w.go"))
	}

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	res := s.QueryByFunction("worker")
	if res.TotalCount != 3 {
		t.Fatalf("TotalCount = %d, want 3 (evicted entries dropped from index)", res.TotalCount)
	}
	if res.Allocations[0].Size != 300 {
		t.Errorf("oldest retained size = %d, want 300", res.Allocations[0].Size)
	}
	// Evicted addresses are no longer pairable; retained ones are.
	if s.MarkFreed(0x100) || s.MarkFreed(0x200) {
		t.Error("evicted address still pairable")
	}
	if !s.MarkFreed(0x300) {
		t.Error("retained address not pairable")
	}
}

// TestSetMaxAllocationsRetroactive verifies lowering the bound evicts
// existing oldest entries immediately.
func TestSetMaxAllocationsRetroactive(t *testing.T) {
	s := New()
	for i := uint64(1); i <= 5; i++ {
		s.Add(ev(i, 0x10*i, i, "f", "f.go"))
	}
	s.SetMaxAllocations(2)
	if s.Len() != 2 {
		t.Fatalf("Len() = %d after lowering bound, want 2", s.Len())
	}
	res := s.QueryByFunction("f")
	if res.Allocations[0].Size != 4 || res.Allocations[1].Size != 5 {
		t.Error("retroactive eviction did not keep the newest entries")
	}
}

// TestGetLeaks verifies live allocations come back in log order.
func TestGetLeaks(t *testing.T) {
	s := New()
	s.Add(ev(10, 0x1, 100, "a", "a.go"))
	s.Add(ev(20, 0x2, 200, "b", "b.go"))
	s.Add(ev(30, 0x3, 300, "c", "c.go"))
	s.MarkFreed(0x2)

	leaks := s.GetLeaks()
	if len(leaks) != 2 {
		t.Fatalf("GetLeaks() has %d entries, want 2", len(leaks))
	}
	if leaks[0].Address != 0x1 || leaks[1].Address != 0x3 {
		t.Errorf("leaks out of order: %+v", leaks)
	}
}

// TestAllocationTimeline verifies binning: bins keyed from the earliest
// timestamp, live sizes summed, freed excluded.
func TestAllocationTimeline(t *testing.T) {
	s := New()
	s.Add(ev(100, 0x1, 10, "f", "f.go"))
	s.Add(ev(150, 0x2, 20, "f", "f.go"))
	s.Add(ev(250, 0x3, 40, "f", "f.go"))
	s.Add(ev(260, 0x4, 80, "f", "f.go"))
	s.MarkFreed(0x4)

	points := s.GetAllocationTimeline(100)
	want := []TimelinePoint{
		{Timestamp: 100, MemoryUsage: 30},
		{Timestamp: 200, MemoryUsage: 40},
	}
	if !reflect.DeepEqual(points, want) {
		t.Errorf("timeline = %+v, want %+v", points, want)
	}

	if empty := New().GetAllocationTimeline(100); empty != nil {
		t.Errorf("empty store timeline = %+v, want nil", empty)
	}
}

// TestSummary verifies totals and the per-function breakdown.
func TestSummary(t *testing.T) {
	s := New()
	s.Add(ev(1, 0x1, 100, "a", "a.go"))
	s.Add(ev(2, 0x2, 200, "a", "a.go"))
	s.Add(ev(3, 0x3, 300, "b", "b.go"))

	sum := s.GetSummary()
	if sum.TotalAllocations != 3 || sum.UniqueFunctions != 2 {
		t.Fatalf("summary = %+v, want 3 allocations across 2 functions", sum)
	}
	if got := sum.ByFunction["a"]; got.Count != 2 || got.TotalSize != 300 {
		t.Errorf(`ByFunction["a"] = %+v, want {2 300}`, got)
	}
}

// TestExportImportRoundTrip verifies a dump reloads into an identical
// store, freed markers and liveness included.
func TestExportImportRoundTrip(t *testing.T) {
	src := New()
	src.Add(event.AllocationEvent{
		Timestamp: 10, Address: 0x100, Size: 64,
		Function: "readFile", File: "io.go", Line: 42,
		ThreadID: 7, StackTrace: []string{"readFile", "main.main"},
	})
	src.Add(ev(20, 0x200, 128, "parseHeader", "parse.go"))
	src.MarkFreed(0x200)

	path := filepath.Join(t.TempDir(), "allocations.json")
	if !src.ExportJSON(path) {
		t.Fatal("ExportJSON failed")
	}

	dst := New()
	if !dst.ImportJSON(path) {
		t.Fatal("ImportJSON failed")
	}

	if dst.Len() != src.Len() {
		t.Fatalf("Len() = %d, want %d", dst.Len(), src.Len())
	}
	all := func(s *Store) []event.AllocationEvent {
		return s.QueryByTimeRange(0, ^uint64(0)).Allocations
	}
	if !reflect.DeepEqual(all(dst), all(src)) {
		t.Errorf("events differ after round trip:\n got %+v\nwant %+v", all(dst), all(src))
	}
	if !reflect.DeepEqual(dst.liveSet(), src.liveSet()) {
		t.Errorf("liveness differs after round trip: %v vs %v", dst.liveSet(), src.liveSet())
	}
}

// TestImportMissingFile verifies a failed import reports false and
// leaves the store untouched.
func TestImportMissingFile(t *testing.T) {
	s := New()
	if s.ImportJSON(filepath.Join(t.TempDir(), "nope.json")) {
		t.Error("ImportJSON of missing file = true, want false")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after failed import, want 0", s.Len())
	}
}

// TestShutdownPersists verifies Shutdown writes the dump into the data
// directory and clears the store.
func TestShutdownPersists(t *testing.T) {
	dir := t.TempDir()
	s := New()
	if err := s.Initialize(dir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	s.Add(ev(1, 0x1, 100, "f", "f.go"))
	s.Shutdown()

	if s.Len() != 0 {
		t.Errorf("Len() = %d after Shutdown, want 0", s.Len())
	}
	reloaded := New()
	if !reloaded.ImportJSON(filepath.Join(dir, DumpFileName)) {
		t.Fatal("Shutdown did not write the dump file")
	}
	if reloaded.Len() != 1 {
		t.Errorf("reloaded Len() = %d, want 1", reloaded.Len())
	}
}

// TestClear verifies Clear resets the log and all lookup structures.
func TestClear(t *testing.T) {
	s := New()
	s.Add(ev(1, 0x1, 100, "f", "f.go"))
	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
	if res := s.QueryByFunction("f"); res.TotalCount != 0 {
		t.Error("function index survived Clear")
	}
	if s.MarkFreed(0x1) {
		t.Error("liveness survived Clear")
	}
}
