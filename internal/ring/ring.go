// Package ring implements the lock-free single-producer/single-consumer
// byte ring buffer shared between a virtual endpoint's output-write and
// input-read callbacks.
package ring

import "sync/atomic"

// Buffer is a fixed-capacity byte ring. Write must only be called from the
// producer thread, Read only from the consumer thread — both run on
// real-time audio callbacks and must never block or allocate on the hot
// path. Capacity is rounded up to the next power of two so that position
// wraparound is a mask instead of a modulo.
type Buffer struct {
	data     []byte
	mask     uint64
	writePos atomic.Uint64 // published with release, by the producer
	readPos  atomic.Uint64 // published with release, by the consumer
	underrun atomic.Uint64 // count of reads that returned 0 real bytes while n>0 was requested
}

// New returns a Buffer with capacity at least minBytes, rounded up to the
// next power of two.
func New(minBytes int) *Buffer {
	cap := nextPowerOf2(uint64(minBytes))
	return &Buffer{
		data: make([]byte, cap),
		mask: cap - 1,
	}
}

// Cap returns the buffer's capacity in bytes.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Write copies up to len(src) bytes into the ring. Bytes that don't fit are
// dropped silently — the contiguous tail of src that didn't fit. Returns
// the number of bytes actually written. Non-blocking, wait-free, allocates
// nothing; safe to call only from the single producer.
func (b *Buffer) Write(src []byte) int {
	writePos := b.writePos.Load()
	readPos := b.readPos.Load()

	used := writePos - readPos
	if used > uint64(len(b.data)) {
		// Prior bug or out-of-order publication: treat this call's available
		// space as zero rather than touching readPos, which only the
		// consumer thread may mutate. The next Read advances readPos and
		// the invariant recovers on its own.
		used = uint64(len(b.data))
	}

	available := uint64(len(b.data)) - used
	n := uint64(len(src))
	if n > available {
		n = available
	}
	if n == 0 {
		return 0
	}

	start := writePos & b.mask
	first := uint64(len(b.data)) - start
	if first > n {
		first = n
	}
	copy(b.data[start:start+first], src[:first])
	if n > first {
		copy(b.data[0:n-first], src[first:n])
	}

	// release: the consumer must see the copied bytes before it sees the
	// advanced write position.
	b.writePos.Store(writePos + n)
	return int(n)
}

// Read fills dst with up to len(dst) real bytes from the ring, zero-filling
// any remainder. Returns the number of real bytes delivered. Non-blocking,
// wait-free; safe to call only from the single consumer.
func (b *Buffer) Read(dst []byte) int {
	// acquire: must observe all bytes the producer published before this
	// write position.
	writePos := b.writePos.Load()
	readPos := b.readPos.Load()

	used := writePos - readPos
	if used > uint64(len(b.data)) {
		used = 0
	}

	n := uint64(len(dst))
	if n > used {
		n = used
	}

	if n > 0 {
		start := readPos & b.mask
		first := uint64(len(b.data)) - start
		if first > n {
			first = n
		}
		copy(dst[:first], b.data[start:start+first])
		if n > first {
			copy(dst[first:n], b.data[0:n-first])
		}
		b.readPos.Store(readPos + n)
	}

	if n < uint64(len(dst)) {
		for i := n; i < uint64(len(dst)); i++ {
			dst[i] = 0
		}
	}
	if n == 0 && len(dst) > 0 {
		b.underrun.Add(1)
	}

	return int(n)
}

// Reset zeroes the buffer and its positions. Called on IO start/stop so a
// new session never replays stale audio from a prior one.
func (b *Buffer) Reset() {
	for i := range b.data {
		b.data[i] = 0
	}
	b.writePos.Store(0)
	b.readPos.Store(0)
}

// Underruns returns the monotonically non-decreasing count of reads that
// returned zero real bytes while more than zero were requested.
func (b *Buffer) Underruns() uint64 {
	return b.underrun.Load()
}

// Used returns the current occupancy in bytes, as observed by either thread.
func (b *Buffer) Used() int {
	writePos := b.writePos.Load()
	readPos := b.readPos.Load()
	used := writePos - readPos
	if used > uint64(len(b.data)) {
		return 0
	}
	return int(used)
}

func nextPowerOf2(n uint64) uint64 {
	if n < 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
