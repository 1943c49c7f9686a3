// File: pool/bufferpool.go
// Package pool implements size-classed byte array recycling for session FIFOs.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"
	"sync/atomic"
)

// Predefined (power-of-two) buffer size classes (bytes).
// Every default FIFO size and every growth step lands on one of them.
var sizeClasses = [...]int{
	2 * 1024,    // 2K  read FIFO default
	4 * 1024,    // 4K
	8 * 1024,    // 8K
	16 * 1024,   // 16K write FIFO default
	32 * 1024,   // 32K
	64 * 1024,   // 64K
	128 * 1024,  // 128K
	256 * 1024,  // 256K peer link FIFO
	512 * 1024,  // 512K
	1024 * 1024, // 1M  client write queue ceiling
}

// classIndex returns the index of the smallest class >= size, or -1.
func classIndex(size int) int {
	for i, c := range sizeClasses {
		if size <= c {
			return i
		}
	}
	return -1
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Alloc int64 // arrays created from scratch
	Reuse int64 // arrays served from a class free list
	Free  int64 // arrays handed back
}

// BytePool recycles FIFO backing arrays by size class. Arrays that do not
// fit a class are allocated directly and left to the GC on release.
type BytePool struct {
	classes [len(sizeClasses)]sync.Pool

	alloc atomic.Int64
	reuse atomic.Int64
	free  atomic.Int64
}

// NewBytePool creates an empty pool.
func NewBytePool() *BytePool {
	return &BytePool{}
}

// Get returns a slice of exactly size bytes. Contents are unspecified.
func (p *BytePool) Get(size int) []byte {
	if size <= 0 {
		return nil
	}
	i := classIndex(size)
	if i < 0 {
		p.alloc.Add(1)
		return make([]byte, size)
	}
	if v := p.classes[i].Get(); v != nil {
		p.reuse.Add(1)
		b := *(v.(*[]byte))
		return b[:size]
	}
	p.alloc.Add(1)
	return make([]byte, size, sizeClasses[i])
}

// Put hands b back. Slices whose capacity is not a class size are dropped.
func (p *BytePool) Put(b []byte) {
	if b == nil {
		return
	}
	c := cap(b)
	i := classIndex(c)
	if i < 0 || sizeClasses[i] != c {
		return
	}
	p.free.Add(1)
	b = b[:c]
	p.classes[i].Put(&b)
}

// Stats returns allocation counters.
func (p *BytePool) Stats() Stats {
	return Stats{
		Alloc: p.alloc.Load(),
		Reuse: p.reuse.Load(),
		Free:  p.free.Load(),
	}
}
