// Package symbol captures call stacks and resolves program counters to
// symbol names for allocation events.
//
// Resolution is the slow part of recording an allocation (tens of
// microseconds through runtime.CallersFrames), and allocation sites
// repeat heavily, so resolved stacks are deduplicated in a global depot
// keyed by an FNV-1a hash of the raw program counters. A hot call site
// pays for symbolication once and then only for the hash.
//
// The depot grows with the number of unique call sites, which is small
// in practice (it is bounded by the program's static call graph, not by
// the allocation count).
package symbol

import (
	"hash/fnv"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/kolkov/memtracer/internal/memtrace/event"
)

// Stack is a resolved call stack: symbol names innermost first, plus the
// source position of the innermost resolvable frame.
type Stack struct {
	// Frames holds resolved symbol names, innermost first, empty
	// resolutions elided, at most event.MaxStackFrames entries.
	Frames []string

	// File and Line locate the innermost resolvable frame, or
	// event.Unknown / 0 when the runtime has no answer.
	File string
	Line int
}

// depot deduplicates resolved stacks.
//
// Key: uint64 (FNV-1a hash of the raw program counters)
// Value: *Stack
var depot sync.Map

// Capture walks the current call stack, skipping skip frames above the
// caller, and returns the resolved form. Results are served from the
// depot when the same program-counter sequence has been seen before.
//
// Thread Safety: safe for concurrent calls.
func Capture(skip int) *Stack {
	var pcs [event.MaxStackFrames]uintptr
	// +2 skips runtime.Callers and Capture itself.
	n := runtime.Callers(skip+2, pcs[:])
	if n == 0 {
		return &Stack{File: event.Unknown}
	}

	h := hashPCs(pcs[:n])
	if val, ok := depot.Load(h); ok {
		return val.(*Stack)
	}

	st := resolve(pcs[:n])
	depot.Store(h, st)
	return st
}

// resolve symbolizes a program-counter sequence. Runtime scheduler
// frames carry no attribution value and are elided along with frames
// the runtime cannot name; the caller's skip count has already removed
// the frames belonging to the tracer itself.
func resolve(pcs []uintptr) *Stack {
	st := &Stack{File: event.Unknown}
	frames := runtime.CallersFrames(pcs)
	for {
		frame, more := frames.Next()
		if frame.PC == 0 {
			break
		}
		name := frame.Function
		if name != "" && !strings.HasPrefix(name, "runtime.") {
			st.Frames = append(st.Frames, name)
			if st.File == event.Unknown && frame.File != "" {
				st.File = frame.File
				st.Line = frame.Line
			}
		}
		if !more {
			break
		}
	}
	return st
}

// hashPCs computes the FNV-1a hash of the raw program counters.
func hashPCs(pcs []uintptr) uint64 {
	h := fnv.New64a()
	for _, pc := range pcs {
		b := (*[8]byte)(unsafe.Pointer(&pc))[:]
		h.Write(b)
	}
	return h.Sum64()
}

// Innermost returns the innermost resolved frame name, or event.Unknown
// when the stack is empty.
func (st *Stack) Innermost() string {
	if st == nil || len(st.Frames) == 0 {
		return event.Unknown
	}
	return st.Frames[0]
}

// Reset clears the depot. Test helper; not safe concurrently with
// Capture.
func Reset() {
	depot = sync.Map{}
}

// Stats returns the number of unique stacks currently in the depot.
func Stats() (uniqueStacks int) {
	depot.Range(func(_, _ any) bool {
		uniqueStacks++
		return true
	})
	return uniqueStacks
}
