// Package shortlist
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Set of handles needing attention at the next flush: pending writes or a
// freshly raised eof. Membership is a bitset; order is a FIFO.

package shortlist

import (
	"github.com/eapache/queue"

	"github.com/momentics/sockcore/api"
)

// Set holds each handle at most once. Not safe for concurrent use.
type Set struct {
	q    *queue.Queue
	bits []uint64
}

// New builds an empty set sized for handles below hint.
func New(hint int) *Set {
	if hint < 64 {
		hint = 64
	}
	return &Set{q: queue.New(), bits: make([]uint64, (hint+63)/64)}
}

func (s *Set) has(h api.Handle) bool {
	w := int(h) >> 6
	return w < len(s.bits) && s.bits[w]&(1<<(uint(h)&63)) != 0
}

// Add enqueues h unless it is already present. Handles <= 0 are ignored.
func (s *Set) Add(h api.Handle) bool {
	if !h.Valid() || s.has(h) {
		return false
	}
	w := int(h) >> 6
	if w >= len(s.bits) {
		grown := make([]uint64, max(w+1, 2*len(s.bits)))
		copy(grown, s.bits)
		s.bits = grown
	}
	s.bits[w] |= 1 << (uint(h) & 63)
	s.q.Add(h)
	return true
}

// Contains reports membership.
func (s *Set) Contains(h api.Handle) bool { return h.Valid() && s.has(h) }

// Len returns the number of queued handles.
func (s *Set) Len() int { return s.q.Length() }

// Drain removes the handles present at the time of the call, in insertion
// order, and hands each to fn. Handles fn re-adds are kept for the next
// drain rather than revisited in this one.
func (s *Set) Drain(fn func(api.Handle)) int {
	n := s.q.Length()
	for i := 0; i < n; i++ {
		h := s.q.Remove().(api.Handle)
		s.bits[int(h)>>6] &^= 1 << (uint(h) & 63)
		fn(h)
	}
	return n
}

// Reset empties the set.
func (s *Set) Reset() {
	for s.q.Length() > 0 {
		s.q.Remove()
	}
	clear(s.bits)
}
