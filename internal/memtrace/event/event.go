// Package event defines the allocation record shared by the capture,
// store, and stats layers.
package event

// Allocation record constants.
const (
	// FreedAddress is the sentinel stored in Address once the matching
	// deallocation has been observed. It doubles as the JSON encoding of
	// a freed allocation (address 0).
	FreedAddress uint64 = 0

	// Unknown is used for the function and file fields when symbol
	// resolution produces nothing.
	Unknown = "unknown"

	// MaxStackFrames bounds the captured call stack per event.
	MaxStackFrames = 32

	// StackKeyFrames is the number of innermost frames folded into the
	// call-stack grouping key.
	StackKeyFrames = 5

	// StackKeySeparator joins frames in the call-stack grouping key,
	// innermost first.
	StackKeySeparator = " <- "
)

// AllocationEvent is the atomic record of one observed heap allocation.
//
// Events are value types: they are copied into the capture buffer, the
// store log, and query results. The JSON field names are the wire format
// of the persistence layer and must not change.
type AllocationEvent struct {
	// Timestamp is monotonic nanoseconds since process start.
	// Strictly nondecreasing for events recorded by the same goroutine.
	Timestamp uint64 `json:"timestamp"`

	// Address is the allocation address, or FreedAddress once the
	// matching deallocation has been recorded.
	Address uint64 `json:"address"`

	// Size is the byte count requested. Zero is valid: zero-sized
	// allocations are recorded with a unique address and size 0.
	Size uint64 `json:"size"`

	// Function is the resolved symbol of the allocating call site,
	// or Unknown.
	Function string `json:"function"`

	// File is the source file of the allocating call site if the
	// runtime resolves it, else Unknown.
	File string `json:"file"`

	// Line is the source line, or 0 if unresolved.
	Line int `json:"line"`

	// ThreadID is a stable 32-bit hash of the OS thread (or, off
	// Linux, the goroutine) that performed the allocation.
	ThreadID uint32 `json:"thread_id"`

	// StackTrace holds resolved symbol names, innermost frame first,
	// at most MaxStackFrames entries. Frames that resolved to an empty
	// name are elided.
	StackTrace []string `json:"stack_trace"`
}

// Live reports whether the allocation has not yet been paired with a
// deallocation.
func (e *AllocationEvent) Live() bool {
	return e.Address != FreedAddress
}

// StackKey returns the call-stack grouping key: the innermost
// StackKeyFrames frames joined by StackKeySeparator, or Unknown when
// the event carries no stack.
func (e *AllocationEvent) StackKey() string {
	n := len(e.StackTrace)
	if n == 0 {
		return Unknown
	}
	if n > StackKeyFrames {
		n = StackKeyFrames
	}
	key := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			key += StackKeySeparator
		}
		key += e.StackTrace[i]
	}
	return key
}
