//go:build linux

package capture

import (
	"hash/fnv"

	"golang.org/x/sys/unix"
)

// threadID returns a stable 32-bit hash of the OS thread running the
// current goroutine.
//
// Gettid is a raw syscall (~100ns) and the goroutine may migrate to a
// different thread between allocations; both are acceptable. The event
// field identifies which thread performed a given allocation, it is
// not a goroutine identity.
func threadID() uint32 {
	return hashTID(uint64(unix.Gettid()))
}

// hashTID folds an OS thread id into the 32-bit event field.
func hashTID(tid uint64) uint32 {
	h := fnv.New32a()
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(tid >> (8 * i))
	}
	h.Write(b[:])
	return h.Sum32()
}
