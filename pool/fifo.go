// File: pool/fifo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Read and write FIFOs backing every session.

package pool

import (
	"github.com/samber/oops"

	"github.com/momentics/sockcore/api"
)

const (
	// ReadSize is the default read FIFO capacity.
	ReadSize = 2 * 1024
	// WriteSize is the default write FIFO capacity and its growth step.
	WriteSize = 16 * 1024
	// PeerLinkSize is the FIFO capacity and write floor of peer links.
	PeerLinkSize = 256 * 1024
	// MaxClientQueue caps queued-unsent bytes for non-peer sessions.
	MaxClientQueue = 1024 * 1024
	// MaxPacketLen is the widest length a 16-bit size field can carry.
	MaxPacketLen = 0xFFFF
	// MaxReserve is the largest single reservation a caller may request.
	MaxReserve = PeerLinkSize
	// DefaultMaxClientPacket bounds one outbound client packet.
	DefaultMaxClientPacket = 24576
)

// ReadFIFO holds received bytes. Invariant: pos <= size <= len(data).
type ReadFIFO struct {
	data []byte
	size int
	pos  int
	pool *BytePool
}

// Init allocates the backing array.
func (r *ReadFIFO) Init(p *BytePool, capacity int) {
	r.pool = p
	r.data = r.get(capacity)
	r.size, r.pos = 0, 0
}

func (r *ReadFIFO) get(n int) []byte {
	if r.pool == nil {
		return make([]byte, n)
	}
	return r.pool.Get(n)
}

// Cap returns the capacity.
func (r *ReadFIFO) Cap() int { return len(r.data) }

// Len returns the filled length, consumed bytes included.
func (r *ReadFIFO) Len() int { return r.size }

// Pos returns the consumed cursor.
func (r *ReadFIFO) Pos() int { return r.pos }

// Rest returns the number of unread bytes.
func (r *ReadFIFO) Rest() int { return r.size - r.pos }

// Bytes returns the unread region. It aliases the FIFO until the next
// Compact or Resize.
func (r *ReadFIFO) Bytes() []byte { return r.data[r.pos:r.size] }

// Space returns the free tail a receive may fill.
func (r *ReadFIFO) Space() []byte { return r.data[r.size:] }

// Full reports whether no free tail is left.
func (r *ReadFIFO) Full() bool { return r.size == len(r.data) }

// Fill marks n bytes of Space as received.
func (r *ReadFIFO) Fill(n int) {
	if n < 0 || r.size+n > len(r.data) {
		panic(oops.In("fifo").With("size", r.size).With("cap", len(r.data)).With("len", n).
			Errorf("read fill of %d bytes overruns capacity", n))
	}
	r.size += n
}

// Write copies p into the free tail and returns the number of bytes taken.
func (r *ReadFIFO) Write(p []byte) int {
	n := copy(r.data[r.size:], p)
	r.size += n
	return n
}

// Skip advances the cursor by n, clamped to the unread length. It returns
// the distance moved and whether clamping happened.
func (r *ReadFIFO) Skip(n int) (int, bool) {
	if n < 0 {
		return 0, true
	}
	clamped := false
	if rest := r.size - r.pos; n > rest {
		n, clamped = rest, true
	}
	r.pos += n
	return n, clamped
}

// Compact moves the unread tail to the front.
func (r *ReadFIFO) Compact() {
	if r.pos == 0 {
		return
	}
	if r.size == r.pos {
		r.size, r.pos = 0, 0
		return
	}
	r.size = copy(r.data, r.data[r.pos:r.size])
	r.pos = 0
}

// Resize changes the capacity, keeping content. Shrinking below the filled
// length is refused.
func (r *ReadFIFO) Resize(capacity int) bool {
	if capacity == len(r.data) || capacity < r.size || capacity <= 0 {
		return false
	}
	nd := r.get(capacity)
	copy(nd, r.data[:r.size])
	r.put()
	r.data = nd
	return true
}

// Release returns the backing array to the pool.
func (r *ReadFIFO) Release() {
	r.put()
	r.data = nil
	r.size, r.pos = 0, 0
}

func (r *ReadFIFO) put() {
	if r.pool != nil && r.data != nil {
		r.pool.Put(r.data)
	}
}

// Policy carries the role-dependent limits of a write FIFO.
type Policy struct {
	PeerLink  bool
	Floor     int // capacity never shrinks below this
	Reserve   int // free bytes kept after every commit
	MaxPacket int // single client packet bound, 0 disables
	MaxQueue  int // queued-unsent ceiling for non-peer sessions
}

// ClientPolicy returns the limits of end-user connections.
func ClientPolicy(maxPacket int) Policy {
	return Policy{
		Floor:     WriteSize,
		Reserve:   WriteSize,
		MaxPacket: maxPacket,
		MaxQueue:  MaxClientQueue,
	}
}

// PeerLinkPolicy returns the limits of trusted links between processes.
func PeerLinkPolicy() Policy {
	return Policy{
		PeerLink: true,
		Floor:    PeerLinkSize,
		Reserve:  PeerLinkSize / 4,
	}
}

// WriteFIFO holds outbound bytes. Invariant: size <= len(data).
type WriteFIFO struct {
	data []byte
	size int
	pool *BytePool
}

// Init allocates the backing array.
func (w *WriteFIFO) Init(p *BytePool, capacity int) {
	w.pool = p
	w.data = w.get(capacity)
	w.size = 0
}

func (w *WriteFIFO) get(n int) []byte {
	if w.pool == nil {
		return make([]byte, n)
	}
	return w.pool.Get(n)
}

// Cap returns the capacity.
func (w *WriteFIFO) Cap() int { return len(w.data) }

// Len returns the pending length.
func (w *WriteFIFO) Len() int { return w.size }

// Bytes returns the pending region.
func (w *WriteFIFO) Bytes() []byte { return w.data[:w.size] }

// Reserve guarantees n free bytes past the pending region and returns them.
// Growth happens in WriteSize steps; the array halves when the pending data
// plus n would use under a quarter of it and the result stays >= floor.
func (w *WriteFIFO) Reserve(n, floor int) []byte {
	if n < 0 || n > MaxReserve {
		panic(oops.In("fifo").With("len", n).With("max", MaxReserve).
			Errorf("write reservation of %d bytes exceeds the %d byte ceiling", n, MaxReserve))
	}
	need := w.size + n
	newsize := len(w.data)
	switch {
	case need > len(w.data):
		newsize = WriteSize
		for need > newsize {
			newsize += WriteSize
		}
	case len(w.data) >= 2*floor && need*4 < len(w.data):
		newsize = len(w.data) / 2
	}
	if newsize != len(w.data) {
		w.realloc(newsize)
	}
	return w.data[w.size:need]
}

// Commit marks n freshly placed bytes as pending. Exceeding capacity or the
// length field width panics; a dropped client packet returns
// api.ErrPacketDropped and a client queue over the ceiling returns
// api.ErrBackpressure, both leaving the pending region untouched.
func (w *WriteFIFO) Commit(n int, pol Policy) error {
	if n < 0 || w.size+n > len(w.data) {
		panic(oops.In("fifo").With("pending", w.size).With("cap", len(w.data)).With("len", n).
			Errorf("write commit of %d bytes overflows the buffer", n))
	}
	if n > MaxPacketLen {
		panic(oops.In("fifo").With("len", n).With("max", MaxPacketLen).
			Errorf("packet of %d bytes exceeds the %d byte length field", n, MaxPacketLen))
	}
	if n == 0 {
		return nil
	}
	if !pol.PeerLink {
		if pol.MaxPacket > 0 && n > pol.MaxPacket {
			return api.ErrPacketDropped
		}
		if pol.MaxQueue > 0 && w.size+n > pol.MaxQueue {
			return api.ErrBackpressure
		}
	}
	w.size += n
	w.Reserve(pol.Reserve, pol.Floor)
	return nil
}

// Drain removes n sent bytes from the front, keeping byte order.
func (w *WriteFIFO) Drain(n int) {
	if n <= 0 {
		return
	}
	if n >= w.size {
		w.size = 0
		return
	}
	w.size = copy(w.data, w.data[n:w.size])
}

// Discard drops all pending bytes.
func (w *WriteFIFO) Discard() { w.size = 0 }

// Resize changes the capacity, keeping pending bytes. Shrinking below the
// pending length is refused.
func (w *WriteFIFO) Resize(capacity int) bool {
	if capacity == len(w.data) || capacity <= w.size || capacity <= 0 {
		return false
	}
	w.realloc(capacity)
	return true
}

func (w *WriteFIFO) realloc(capacity int) {
	nd := w.get(capacity)
	copy(nd, w.data[:w.size])
	w.put()
	w.data = nd
}

// Release returns the backing array to the pool.
func (w *WriteFIFO) Release() {
	w.put()
	w.data = nil
	w.size = 0
}

func (w *WriteFIFO) put() {
	if w.pool != nil && w.data != nil {
		w.pool.Put(w.data)
	}
}
