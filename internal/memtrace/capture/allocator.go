package capture

import (
	"sync"
	"unsafe"
)

// Allocator is the backing allocation chain the interposer delegates to.
//
// This is the Go rendition of next-in-chain allocator lookup: the
// tracer owns the allocation entry points and forwards every call to a
// published Allocator, exactly as a dlsym(RTLD_NEXT) hook forwards to
// the libc routines it shadowed. Custom arenas or pool allocators can
// be traced by publishing them as the backing allocator before
// Initialize.
//
// Address semantics follow malloc: Allocate never returns 0 (a
// zero-sized request yields a unique nonzero address), Free of an
// unknown address is a no-op, and Reallocate preserves the prefix of
// the old block.
type Allocator interface {
	Allocate(size uintptr) uintptr
	Free(addr uintptr)
	Reallocate(addr, size uintptr) uintptr
}

// runtimeAllocator services requests from the Go heap.
//
// Every block is pinned in the blocks registry so the address stays
// valid until Free; without the registry the runtime would collect the
// backing slice as soon as it went out of scope, and the recorded
// addresses would dangle.
type runtimeAllocator struct {
	mu     sync.Mutex
	blocks map[uintptr][]byte
}

func newRuntimeAllocator() *runtimeAllocator {
	return &runtimeAllocator{blocks: make(map[uintptr][]byte)}
}

func (r *runtimeAllocator) Allocate(size uintptr) uintptr {
	n := size
	if n == 0 {
		// Zero-sized allocations still get a unique address, the
		// way glibc malloc(0) does.
		n = 1
	}
	b := make([]byte, n)
	addr := uintptr(unsafe.Pointer(&b[0]))
	r.mu.Lock()
	r.blocks[addr] = b
	r.mu.Unlock()
	return addr
}

func (r *runtimeAllocator) Free(addr uintptr) {
	if addr == 0 {
		return
	}
	r.mu.Lock()
	delete(r.blocks, addr)
	r.mu.Unlock()
}

func (r *runtimeAllocator) Reallocate(addr, size uintptr) uintptr {
	if addr == 0 {
		return r.Allocate(size)
	}
	r.mu.Lock()
	old, ok := r.blocks[addr]
	r.mu.Unlock()

	newAddr := r.Allocate(size)
	if ok {
		r.mu.Lock()
		copy(r.blocks[newAddr], old)
		delete(r.blocks, addr)
		r.mu.Unlock()
	}
	return newAddr
}

// Bytes returns the live block at addr, or nil. Test helper.
func (r *runtimeAllocator) Bytes(addr uintptr) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blocks[addr]
}

// LiveBlocks returns the number of blocks not yet freed.
func (r *runtimeAllocator) LiveBlocks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blocks)
}
