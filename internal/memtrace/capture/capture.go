// Package capture implements allocator interposition and event recording.
//
// It provides the allocation entry points (Malloc, Free, Realloc) that
// masquerade as the process allocator for code routed through the
// tracer. Every call delegates to a backing Allocator published once at
// Initialize; while capture is active, the recorder assembles a fully
// populated AllocationEvent (timestamp, thread id, symbolized stack)
// for each call and appends it to the capture buffer.
//
// Three hazards shape this package:
//
//   - Bootstrap: calls arriving before Initialize publishes the backing
//     chain fall through to a known-safe raw allocator and emit nothing.
//   - Reentrancy: recording itself allocates (symbolication, maps). A
//     per-goroutine busy flag makes any allocation performed inside the
//     recorder pass through untracked instead of recursing.
//   - Failure isolation: nothing in the record path may propagate to
//     the caller. The backing allocator's result is always returned.
//
// Lifecycle: Initialize → Start → … workload … → Stop →
// GetAllocations → Shutdown. Between Stop and a later Start the entry
// points are pure pass-through.
package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kolkov/memtracer/internal/memtrace/event"
	"github.com/kolkov/memtracer/internal/memtrace/logger"
	"github.com/kolkov/memtracer/internal/memtrace/symbol"
)

// AllocationCallback is invoked after each recorded allocation,
// best-effort. It runs under the calling goroutine's reentrancy guard,
// so allocations it performs are not traced.
type AllocationCallback func(event.AllocationEvent)

// DeallocationCallback is invoked after each recorded deallocation with
// the freed address, best-effort, under the reentrancy guard.
type DeallocationCallback func(addr uint64)

// holder wraps the backing allocator for write-once atomic publication.
type holder struct {
	a Allocator
}

var (
	// backing is the published allocation chain. Nil until Initialize
	// succeeds; entry points fall through to bootstrapAlloc while nil.
	backing atomic.Pointer[holder]

	// capturing gates event recording. Flipped by Start/Stop.
	capturing atomic.Bool

	// bootstrapAlloc services calls that arrive before the chain is
	// published. Those calls are never recorded.
	bootstrapAlloc = newRuntimeAllocator()

	// guards holds the per-goroutine reentrancy flags.
	// Key: int64 (goroutine ID). Presence means "inside tracer".
	guards sync.Map

	// startTime anchors the monotonic event clock.
	startTime = time.Now()

	// mu protects the capture buffer, the liveness view, and the
	// callbacks.
	mu          sync.Mutex
	allocations []event.AllocationEvent
	active      map[uint64]int // address → index into allocations
	allocCB     AllocationCallback
	freeCB      DeallocationCallback

	// override, when set before Initialize, replaces the default
	// backing allocator. overrideSet with a nil override simulates
	// resolution failure.
	override    Allocator
	overrideSet bool
	overrideMu  sync.Mutex
)

// ErrNoAllocator is returned by Initialize when no backing allocator
// can be resolved. Capture stays disabled; entry points pass through.
var ErrNoAllocator = errors.New("capture: no backing allocator available")

func init() {
	active = make(map[uint64]int)
}

// Initialize resolves and publishes the backing allocation chain.
//
// Until this succeeds the entry points forward to the bootstrap
// allocator without recording, mirroring an interposer whose
// next-in-chain lookup has not completed yet. On resolution failure the
// error is logged once and capture remains a pure pass-through; the
// host program is unaffected.
//
// Thread Safety: not safe for concurrent calls; call during startup.
func Initialize() error {
	if backing.Load() != nil {
		return nil
	}
	a, err := resolveAllocator()
	if err != nil {
		logger.Errorf("failed to resolve backing allocator: %v", err)
		return err
	}
	backing.Store(&holder{a: a})
	logger.Infof("memory capture module initialized")
	return nil
}

// resolveAllocator picks the backing allocator: an explicit override if
// one was published, otherwise a fresh runtime-backed allocator.
func resolveAllocator() (Allocator, error) {
	overrideMu.Lock()
	defer overrideMu.Unlock()
	if overrideSet {
		if override == nil {
			return nil, ErrNoAllocator
		}
		return override, nil
	}
	return newRuntimeAllocator(), nil
}

// SetBackingAllocator publishes a to be used as the backing chain by
// the next Initialize. Passing nil marks resolution as failed, which
// Initialize reports as ErrNoAllocator.
//
// Must be called before Initialize.
func SetBackingAllocator(a Allocator) {
	overrideMu.Lock()
	override = a
	overrideSet = true
	overrideMu.Unlock()
}

// Shutdown stops capture and drops all buffered state. The published
// allocation chain stays in place so outstanding blocks remain valid.
func Shutdown() {
	Stop()
	mu.Lock()
	allocations = nil
	active = make(map[uint64]int)
	mu.Unlock()
	logger.Infof("memory capture module shutdown")
}

// Start begins recording events. Entry points invoked before Start (or
// after Stop) delegate without recording.
func Start() {
	capturing.Store(true)
	logger.Infof("memory capture started")
}

// Stop ends recording. In-flight recordings on other goroutines
// complete; subsequent calls pass through.
func Stop() {
	capturing.Store(false)
	logger.Infof("memory capture stopped")
}

// IsCapturing reports whether events are currently being recorded.
func IsCapturing() bool {
	return capturing.Load()
}

// === Interposed entry points ===

// Malloc allocates size bytes through the backing chain and records the
// allocation. The event's function field resolves from the caller's
// innermost stack frame.
func Malloc(size uintptr) uintptr {
	h := backing.Load()
	if h == nil {
		// Bootstrap window: the chain is not resolved yet.
		return bootstrapAlloc.Allocate(size)
	}
	addr := h.a.Allocate(size)
	recordAllocation(uint64(addr), uint64(size), "", "", 0, 1)
	return addr
}

// MallocTagged is Malloc with caller-supplied attribution. The hinted
// function takes precedence over stack resolution; hinted file and line
// replace the resolved source position.
func MallocTagged(size uintptr, function, file string, line int) uintptr {
	h := backing.Load()
	if h == nil {
		return bootstrapAlloc.Allocate(size)
	}
	addr := h.a.Allocate(size)
	recordAllocation(uint64(addr), uint64(size), function, file, line, 1)
	return addr
}

// Free releases addr through the backing chain and records the
// deallocation. Free of 0 is a no-op and emits no event.
func Free(addr uintptr) {
	if addr == 0 {
		return
	}
	h := backing.Load()
	if h == nil {
		bootstrapAlloc.Free(addr)
		return
	}
	recordDeallocation(uint64(addr))
	h.a.Free(addr)
}

// Realloc resizes addr through the backing chain. It is recorded as a
// deallocation of the old address (if nonzero) paired with an
// allocation at the new address (if nonzero).
func Realloc(addr, size uintptr) uintptr {
	h := backing.Load()
	if h == nil {
		return bootstrapAlloc.Reallocate(addr, size)
	}
	if addr != 0 {
		recordDeallocation(uint64(addr))
	}
	newAddr := h.a.Reallocate(addr, size)
	if newAddr != 0 {
		recordAllocation(uint64(newAddr), uint64(size), "", "", 0, 1)
	}
	return newAddr
}

// === Recorder ===

// RecordAllocation records an externally performed allocation. It is
// the hook for embedders that allocate through their own machinery but
// still want events in the tracer.
func RecordAllocation(addr, size uint64, function, file string, line int) {
	recordAllocation(addr, size, function, file, line, 1)
}

// RecordDeallocation records an externally performed deallocation.
// Addresses never seen alive are ignored.
func RecordDeallocation(addr uint64) {
	recordDeallocation(addr)
}

// recordAllocation assembles and buffers one allocation event.
//
// Flow:
//  1. Bail if capture is inactive or this goroutine is already inside
//     the tracer.
//  2. Set the reentrancy flag for the remainder of the call.
//  3. Sample the monotonic clock and hash the thread id.
//  4. Capture and symbolize the call stack (≤32 frames, empties
//     elided); hints take precedence over resolution.
//  5. Append to the buffer and update the liveness view under mu.
//  6. Fire the allocation callback, best-effort.
//
// wrappers is the number of tracer frames between the user call site
// and this function, so the captured stack starts at user code.
func recordAllocation(addr, size uint64, function, file string, line int, wrappers int) {
	if !capturing.Load() {
		return
	}
	gid := getGoroutineID()
	if !enterGuard(gid) {
		return
	}
	defer exitGuard(gid)
	// A panic below this point must not reach the allocator's caller.
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("recorder panic suppressed: %v", r)
		}
	}()

	ts := timestamp()
	tid := threadID()
	st := symbol.Capture(wrappers + 1)

	if function == "" {
		function = st.Innermost()
	}
	if file == "" {
		file = st.File
		line = st.Line
	}

	ev := event.AllocationEvent{
		Timestamp:  ts,
		Address:    addr,
		Size:       size,
		Function:   function,
		File:       file,
		Line:       line,
		ThreadID:   tid,
		StackTrace: st.Frames,
	}

	mu.Lock()
	allocations = append(allocations, ev)
	active[addr] = len(allocations) - 1
	cb := allocCB
	mu.Unlock()

	if cb != nil {
		cb(ev)
	}
}

// recordDeallocation pairs addr with its most recent live allocation
// and marks that event freed. Double frees and foreign frees find no
// live entry and are silently ignored.
func recordDeallocation(addr uint64) {
	if !capturing.Load() {
		return
	}
	gid := getGoroutineID()
	if !enterGuard(gid) {
		return
	}
	defer exitGuard(gid)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("recorder panic suppressed: %v", r)
		}
	}()

	mu.Lock()
	idx, ok := active[addr]
	if ok {
		allocations[idx].Address = event.FreedAddress
		delete(active, addr)
	}
	cb := freeCB
	mu.Unlock()

	if ok && cb != nil {
		cb(addr)
	}
}

// enterGuard sets the per-goroutine reentrancy flag. It returns false
// when the flag was already set, meaning the current call originates
// from inside the tracer and must pass through untracked.
func enterGuard(gid int64) bool {
	_, loaded := guards.LoadOrStore(gid, struct{}{})
	return !loaded
}

// exitGuard clears the flag on every exit path of the record functions.
func exitGuard(gid int64) {
	guards.Delete(gid)
}

// timestamp returns monotonic nanoseconds since process start.
func timestamp() uint64 {
	return uint64(time.Since(startTime))
}

// === Buffer access ===

// GetAllocations returns a snapshot of all buffered events in
// observation order. Freed allocations appear with Address 0.
func GetAllocations() []event.AllocationEvent {
	mu.Lock()
	defer mu.Unlock()
	out := make([]event.AllocationEvent, len(allocations))
	copy(out, allocations)
	return out
}

// LiveCount returns the number of buffered allocations not yet freed.
func LiveCount() int {
	mu.Lock()
	defer mu.Unlock()
	return len(active)
}

// Clear drops all buffered events and the liveness view.
func Clear() {
	mu.Lock()
	allocations = nil
	active = make(map[uint64]int)
	mu.Unlock()
}

// SetAllocationCallback registers cb to run after each recorded
// allocation. Pass nil to remove.
func SetAllocationCallback(cb AllocationCallback) {
	mu.Lock()
	allocCB = cb
	mu.Unlock()
}

// SetDeallocationCallback registers cb to run after each recorded
// deallocation. Pass nil to remove.
func SetDeallocationCallback(cb DeallocationCallback) {
	mu.Lock()
	freeCB = cb
	mu.Unlock()
}

// resetForTest restores pristine package state. Test helper; not safe
// concurrently with the entry points.
func resetForTest() {
	capturing.Store(false)
	backing.Store(nil)
	overrideMu.Lock()
	override = nil
	overrideSet = false
	overrideMu.Unlock()
	mu.Lock()
	allocations = nil
	active = make(map[uint64]int)
	allocCB = nil
	freeCB = nil
	mu.Unlock()
	guards = sync.Map{}
}
