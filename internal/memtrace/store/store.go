// Package store is the canonical repository of allocation events.
//
// The log is an ordered sequence of events with positions assigned on
// insert. Secondary indices (by function, by file, by time) and a
// liveness map (address → position of the most recent unfreed
// allocation) provide the query paths; a capacity bound evicts the
// oldest entry when exceeded.
//
// Positions are generation-stable sequence numbers rather than slice
// offsets: the log keeps a base sequence that advances on eviction, so
// evicting the head implicitly invalidates every index entry referring
// to it without rewriting the indices. Index lookups treat any sequence
// below the base as stale and skip it.
//
// All state is protected by one coarse mutex; critical sections are an
// append plus a handful of map updates. Symbolication never happens
// here.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/kolkov/memtracer/internal/memtrace/event"
	"github.com/kolkov/memtracer/internal/memtrace/logger"
)

const (
	// DefaultMaxAllocations is the default capacity bound of the log.
	DefaultMaxAllocations = 1_000_000

	// evictionWarnInterval rate-limits the capacity warning: at most
	// one log line per this many evictions.
	evictionWarnInterval = 10_000

	// DumpFileName is the file written into the data directory on
	// Shutdown.
	DumpFileName = "allocations.json"
)

// QueryResult is the answer to a store query.
//
// PeakUsage is the largest single allocation size within the result
// set, not a residency high-water mark. This matches the historical
// contract of the format; callers wanting residency must replay the
// timeline.
type QueryResult struct {
	Allocations []event.AllocationEvent
	TotalCount  int
	TotalSize   uint64
	PeakUsage   uint64
}

// TimelinePoint is one bin of the allocation timeline.
type TimelinePoint struct {
	Timestamp   uint64 `json:"timestamp"`
	MemoryUsage uint64 `json:"memory_usage"`
}

// SummaryFunction is the per-function entry of a Summary.
type SummaryFunction struct {
	Count     uint64 `json:"count"`
	TotalSize uint64 `json:"total_size"`
}

// Summary is the store overview exposed to the persistence layer.
type Summary struct {
	TotalAllocations int                        `json:"total_allocations"`
	UniqueFunctions  int                        `json:"unique_functions"`
	DataDir          string                     `json:"data_dir"`
	ByFunction       map[string]SummaryFunction `json:"by_function"`
}

// timePos is one entry of the time index.
type timePos struct {
	ts  uint64
	pos uint64
}

// Store holds the event log, its indices, and the liveness map.
type Store struct {
	mu      sync.Mutex
	dataDir string

	// entries[i] has sequence number base+i. base advances on
	// eviction; sequences below base are stale.
	entries []event.AllocationEvent
	base    uint64

	functionIndex map[string][]uint64
	fileIndex     map[string][]uint64

	// timeIndex is kept in nondecreasing timestamp order, ties in
	// insertion order. Stale positions are skipped on read and pruned
	// when the index outgrows the log.
	timeIndex []timePos

	liveness map[uint64]uint64 // address → sequence

	maxAllocations int
	evictions      uint64
}

// New returns an empty Store with the default capacity bound.
func New() *Store {
	return &Store{
		functionIndex:  make(map[string][]uint64),
		fileIndex:      make(map[string][]uint64),
		liveness:       make(map[uint64]uint64),
		maxAllocations: DefaultMaxAllocations,
	}
}

// Initialize creates the data directory used by Shutdown's persistence.
func (s *Store) Initialize(dataDir string) error {
	s.mu.Lock()
	s.dataDir = dataDir
	s.mu.Unlock()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", dataDir, err)
	}
	logger.Infof("storage module initialized, data directory: %s", dataDir)
	return nil
}

// Shutdown persists the log to <dataDir>/allocations.json and clears
// all state.
func (s *Store) Shutdown() {
	s.mu.Lock()
	dir := s.dataDir
	s.mu.Unlock()
	if dir != "" {
		s.ExportJSON(filepath.Join(dir, DumpFileName))
	}
	s.Clear()
	logger.Infof("storage module shutdown")
}

// Add appends one event, updating all indices and the liveness map and
// enforcing the capacity bound.
func (s *Store) Add(ev event.AllocationEvent) {
	s.mu.Lock()
	s.add(ev)
	s.mu.Unlock()
}

// AddBatch is the semantic equivalent of repeated Add.
func (s *Store) AddBatch(events []event.AllocationEvent) {
	s.mu.Lock()
	for _, ev := range events {
		s.add(ev)
	}
	s.mu.Unlock()
}

// add appends under the caller-held lock.
func (s *Store) add(ev event.AllocationEvent) {
	for len(s.entries) >= s.maxAllocations && len(s.entries) > 0 {
		s.evictOldest()
	}

	seq := s.base + uint64(len(s.entries))
	s.entries = append(s.entries, ev)
	s.functionIndex[ev.Function] = append(s.functionIndex[ev.Function], seq)
	s.fileIndex[ev.File] = append(s.fileIndex[ev.File], seq)
	s.insertTimeIndex(timePos{ts: ev.Timestamp, pos: seq})
	if ev.Address != event.FreedAddress {
		// Last-writer-wins: a reused address repoints at the newest
		// live allocation.
		s.liveness[ev.Address] = seq
	}
}

// evictOldest drops the log head and advances the base sequence.
// Index slices are oldest-first, so the evicted sequence sits at the
// front of its function and file lists; the time index is pruned lazily.
func (s *Store) evictOldest() {
	head := s.entries[0]
	seq := s.base
	s.entries = s.entries[1:]
	s.base++

	if idx := s.functionIndex[head.Function]; len(idx) > 0 && idx[0] == seq {
		if len(idx) == 1 {
			delete(s.functionIndex, head.Function)
		} else {
			s.functionIndex[head.Function] = idx[1:]
		}
	}
	if idx := s.fileIndex[head.File]; len(idx) > 0 && idx[0] == seq {
		if len(idx) == 1 {
			delete(s.fileIndex, head.File)
		} else {
			s.fileIndex[head.File] = idx[1:]
		}
	}
	if head.Address != event.FreedAddress {
		if live, ok := s.liveness[head.Address]; ok && live == seq {
			delete(s.liveness, head.Address)
		}
	}
	if len(s.timeIndex) > 2*len(s.entries)+16 {
		s.pruneTimeIndex()
	}

	s.evictions++
	if s.evictions%evictionWarnInterval == 1 {
		logger.Warnf("allocation log at capacity (%d), evicting oldest entries (%d evicted so far)",
			s.maxAllocations, s.evictions)
	}
}

// insertTimeIndex places tp in sorted position. Events arrive nearly in
// order, so a bounded bubble from the tail suffices; ties keep
// insertion order.
func (s *Store) insertTimeIndex(tp timePos) {
	s.timeIndex = append(s.timeIndex, tp)
	for i := len(s.timeIndex) - 1; i > 0; i-- {
		if s.timeIndex[i-1].ts <= s.timeIndex[i].ts {
			break
		}
		s.timeIndex[i-1], s.timeIndex[i] = s.timeIndex[i], s.timeIndex[i-1]
	}
}

// pruneTimeIndex rebuilds the time index without stale positions.
func (s *Store) pruneTimeIndex() {
	kept := s.timeIndex[:0]
	for _, tp := range s.timeIndex {
		if tp.pos >= s.base {
			kept = append(kept, tp)
		}
	}
	s.timeIndex = kept
}

// at returns the log entry with the given sequence, or nil when stale.
// Caller holds mu.
func (s *Store) at(seq uint64) *event.AllocationEvent {
	if seq < s.base {
		return nil
	}
	i := seq - s.base
	if i >= uint64(len(s.entries)) {
		return nil
	}
	return &s.entries[i]
}

// MarkFreed pairs addr with its most recent live allocation, marks that
// entry freed, and removes the liveness mapping. It reports whether a
// live allocation was found; unknown addresses are a no-op.
func (s *Store) MarkFreed(addr uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.liveness[addr]
	if !ok {
		return false
	}
	if e := s.at(seq); e != nil {
		e.Address = event.FreedAddress
	}
	delete(s.liveness, addr)
	return true
}

// QueryByFunction returns the live allocations recorded for the given
// resolved symbol name, oldest first.
func (s *Store) QueryByFunction(name string) QueryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res QueryResult
	for _, seq := range s.functionIndex[name] {
		e := s.at(seq)
		if e == nil || !e.Live() {
			continue
		}
		res.Allocations = append(res.Allocations, *e)
		res.TotalCount++
		res.TotalSize += e.Size
	}
	res.PeakUsage = peakOf(res.Allocations)
	return res
}

// QueryByFile returns the live allocations attributed to the given
// source file, oldest first.
func (s *Store) QueryByFile(path string) QueryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res QueryResult
	for _, seq := range s.fileIndex[path] {
		e := s.at(seq)
		if e == nil || !e.Live() {
			continue
		}
		res.Allocations = append(res.Allocations, *e)
		res.TotalCount++
		res.TotalSize += e.Size
	}
	res.PeakUsage = peakOf(res.Allocations)
	return res
}

// QueryBySizeRange returns live allocations with min ≤ size ≤ max.
func (s *Store) QueryBySizeRange(min, max uint64) QueryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res QueryResult
	for i := range s.entries {
		e := &s.entries[i]
		if !e.Live() || e.Size < min || e.Size > max {
			continue
		}
		res.Allocations = append(res.Allocations, *e)
		res.TotalCount++
		res.TotalSize += e.Size
	}
	res.PeakUsage = peakOf(res.Allocations)
	return res
}

// QueryByTimeRange returns all events with start ≤ timestamp ≤ end,
// in timestamp order (ties in insertion order). Freed allocations
// contribute to the count but not to TotalSize.
//
// The time index is sorted, so the start bound is found by binary
// search and only the matching window is walked; positions evicted
// since insertion are skipped.
func (s *Store) QueryByTimeRange(start, end uint64) QueryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res QueryResult
	i := sort.Search(len(s.timeIndex), func(i int) bool {
		return s.timeIndex[i].ts >= start
	})
	for ; i < len(s.timeIndex) && s.timeIndex[i].ts <= end; i++ {
		e := s.at(s.timeIndex[i].pos)
		if e == nil {
			continue
		}
		res.Allocations = append(res.Allocations, *e)
		res.TotalCount++
		if e.Live() {
			res.TotalSize += e.Size
		}
	}
	res.PeakUsage = peakOf(res.Allocations)
	return res
}

// GetLeaks returns a snapshot of all live allocations in log order.
func (s *Store) GetLeaks() []event.AllocationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var leaks []event.AllocationEvent
	for i := range s.entries {
		if s.entries[i].Live() {
			leaks = append(leaks, s.entries[i])
		}
	}
	return leaks
}

// GetAllocationTimeline bins live allocations into bucketNs-wide bins
// keyed at minTs + ⌊(ts−minTs)/bucket⌋·bucket and returns the bins in
// ascending timestamp order.
func (s *Store) GetAllocationTimeline(bucketNs uint64) []TimelinePoint {
	if bucketNs == 0 {
		bucketNs = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return nil
	}

	minTs := s.entries[0].Timestamp
	for i := range s.entries {
		if s.entries[i].Timestamp < minTs {
			minTs = s.entries[i].Timestamp
		}
	}

	bins := make(map[uint64]uint64)
	for i := range s.entries {
		e := &s.entries[i]
		if !e.Live() {
			continue
		}
		key := minTs + (e.Timestamp-minTs)/bucketNs*bucketNs
		bins[key] += e.Size
	}

	points := make([]TimelinePoint, 0, len(bins))
	for ts, usage := range bins {
		points = append(points, TimelinePoint{Timestamp: ts, MemoryUsage: usage})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
	return points
}

// GetSummary returns the store overview: totals plus per-function
// count and size across all retained events (freed included).
func (s *Store) GetSummary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{
		TotalAllocations: len(s.entries),
		UniqueFunctions:  len(s.functionIndex),
		DataDir:          s.dataDir,
		ByFunction:       make(map[string]SummaryFunction, len(s.functionIndex)),
	}
	for fn, idx := range s.functionIndex {
		var sf SummaryFunction
		for _, seq := range idx {
			if e := s.at(seq); e != nil {
				sf.Count++
				sf.TotalSize += e.Size
			}
		}
		sum.ByFunction[fn] = sf
	}
	return sum
}

// SetMaxAllocations sets the capacity bound, retroactively evicting the
// oldest entries if the log already exceeds it. Bounds below 1 are
// clamped to 1.
func (s *Store) SetMaxAllocations(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	s.maxAllocations = n
	for len(s.entries) > n {
		s.evictOldest()
	}
	s.mu.Unlock()
}

// Len returns the number of retained log entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear drops the log, all indices, and the liveness map.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.base = 0
	s.functionIndex = make(map[string][]uint64)
	s.fileIndex = make(map[string][]uint64)
	s.timeIndex = nil
	s.liveness = make(map[uint64]uint64)
	s.evictions = 0
	s.mu.Unlock()
}

// liveSet returns a copy of the liveness map. Test helper.
func (s *Store) liveSet() map[uint64]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint64]uint64, len(s.liveness))
	for k, v := range s.liveness {
		out[k] = v
	}
	return out
}

// peakOf returns the largest single allocation size in events.
func peakOf(events []event.AllocationEvent) uint64 {
	var peak uint64
	for i := range events {
		if events[i].Size > peak {
			peak = events[i].Size
		}
	}
	return peak
}
