//go:build !linux

package capture

import "hash/fnv"

// threadID returns a stable 32-bit hash identifying the execution
// context of the current goroutine.
//
// Platforms without a cheap thread-id syscall hash the goroutine ID
// instead. The per-thread timestamp monotonicity contract is unaffected:
// timestamps come from a single monotonic clock, so they are
// nondecreasing per goroutine regardless of which identity is hashed.
func threadID() uint32 {
	return hashTID(uint64(getGoroutineID()))
}

// hashTID folds an identifier into the 32-bit event field.
func hashTID(tid uint64) uint32 {
	h := fnv.New32a()
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(tid >> (8 * i))
	}
	h.Write(b[:])
	return h.Sum32()
}
