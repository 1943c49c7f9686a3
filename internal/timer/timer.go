// Package timer
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Cooperative timer heap driven from the reactor thread. Callbacks run
// inside Run; nothing here starts goroutines.

package timer

import (
	"container/heap"
	"time"
)

// Bounds on the wait Run hands back to the poll step.
const (
	MinWait = 50 * time.Millisecond
	MaxWait = time.Second
)

// ID identifies a scheduled timer.
type ID uint64

// Func is invoked with the id and the time Run was called with.
type Func func(id ID, now time.Time)

type entry struct {
	id       ID
	when     time.Time
	interval time.Duration
	fn       Func
	index    int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].id < h[j].id
	}
	return h[i].when.Before(h[j].when)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Heap orders timers by due time.
type Heap struct {
	h    entryHeap
	byID map[ID]*entry
	seq  ID
}

// New returns an empty heap.
func New() *Heap {
	return &Heap{byID: make(map[ID]*entry)}
}

// Add schedules fn once at when.
func (t *Heap) Add(when time.Time, fn Func) ID {
	return t.push(when, 0, fn)
}

// AddInterval schedules fn at first and then every interval after.
func (t *Heap) AddInterval(first time.Time, interval time.Duration, fn Func) ID {
	if interval <= 0 {
		interval = MinWait
	}
	return t.push(first, interval, fn)
}

func (t *Heap) push(when time.Time, every time.Duration, fn Func) ID {
	t.seq++
	e := &entry{id: t.seq, when: when, interval: every, fn: fn}
	heap.Push(&t.h, e)
	t.byID[e.id] = e
	return e.id
}

// Cancel removes a pending timer. It reports whether one was found.
func (t *Heap) Cancel(id ID) bool {
	e, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	if e.index >= 0 {
		heap.Remove(&t.h, e.index)
	}
	return true
}

// Len returns the number of pending timers.
func (t *Heap) Len() int { return len(t.h) }

// Run fires every timer due at now and returns how long the caller may
// wait before the next one, clamped to [MinWait, MaxWait].
func (t *Heap) Run(now time.Time) time.Duration {
	for len(t.h) > 0 && !t.h[0].when.After(now) {
		e := t.h[0]
		if e.interval > 0 {
			e.when = e.when.Add(e.interval)
			if !e.when.After(now) {
				e.when = now.Add(e.interval)
			}
			heap.Fix(&t.h, 0)
		} else {
			heap.Pop(&t.h)
			delete(t.byID, e.id)
		}
		e.fn(e.id, now)
	}
	if len(t.h) == 0 {
		return MaxWait
	}
	return min(max(t.h[0].when.Sub(now), MinWait), MaxWait)
}
