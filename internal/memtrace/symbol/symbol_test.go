package symbol

import (
	"strings"
	"testing"

	"github.com/kolkov/memtracer/internal/memtrace/event"
)

// TestCaptureResolvesCaller verifies the innermost frame is the calling
// function with its real source position.
func TestCaptureResolvesCaller(t *testing.T) {
	Reset()
	st := Capture(0)
	if st == nil || len(st.Frames) == 0 {
		t.Fatal("Capture returned an empty stack")
	}
	if !strings.HasSuffix(st.Frames[0], "TestCaptureResolvesCaller") {
		t.Errorf("Frames[0] = %q, want the calling test function", st.Frames[0])
	}
	if !strings.HasSuffix(st.File, "symbol_test.go") {
		t.Errorf("File = %q, want symbol_test.go", st.File)
	}
	if st.Line == 0 {
		t.Error("Line = 0, want the call site line")
	}
}

// TestCaptureSkip verifies skip removes wrapper frames.
func TestCaptureSkip(t *testing.T) {
	Reset()
	st := captureThroughWrapper()
	if !strings.HasSuffix(st.Innermost(), "TestCaptureSkip") {
		t.Errorf("Innermost() = %q, want the test function (wrapper skipped)", st.Innermost())
	}
}

// captureThroughWrapper captures with skip 1 so its own frame is not
// part of the result.
func captureThroughWrapper() *Stack {
	return Capture(1)
}

// TestDepotDeduplicates verifies repeated captures from the same call
// site share one resolved stack.
func TestDepotDeduplicates(t *testing.T) {
	Reset()
	var first, second *Stack
	for i := 0; i < 2; i++ {
		st := Capture(0) // same call site both iterations
		if i == 0 {
			first = st
		} else {
			second = st
		}
	}
	if first != second {
		t.Error("same call site resolved twice, want depot hit")
	}
	if got := Stats(); got != 1 {
		t.Errorf("depot holds %d stacks, want 1", got)
	}
}

// TestRuntimeFramesElided verifies scheduler frames do not leak into
// resolved stacks.
func TestRuntimeFramesElided(t *testing.T) {
	Reset()
	st := Capture(0)
	for _, f := range st.Frames {
		if strings.HasPrefix(f, "runtime.") {
			t.Errorf("runtime frame %q not elided", f)
		}
	}
}

// TestFrameCap verifies deep recursion is capped at the frame limit.
func TestFrameCap(t *testing.T) {
	Reset()
	st := deepCapture(event.MaxStackFrames * 2)
	if len(st.Frames) > event.MaxStackFrames {
		t.Errorf("captured %d frames, cap is %d", len(st.Frames), event.MaxStackFrames)
	}
}

func deepCapture(depth int) *Stack {
	if depth == 0 {
		return Capture(0)
	}
	return deepCapture(depth - 1)
}

// TestInnermostEmpty verifies the unknown fallback for empty stacks.
func TestInnermostEmpty(t *testing.T) {
	var st *Stack
	if got := st.Innermost(); got != event.Unknown {
		t.Errorf("nil stack Innermost() = %q, want %q", got, event.Unknown)
	}
	if got := (&Stack{}).Innermost(); got != event.Unknown {
		t.Errorf("empty stack Innermost() = %q, want %q", got, event.Unknown)
	}
}
