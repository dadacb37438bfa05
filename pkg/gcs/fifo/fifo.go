// Package fifo implements a fixed-capacity, mallocless ring buffer of
// in-flight entries (spec §3 "FIFO primitive"). The replication core's
// local-send FIFO (§4.4) is a plain slice in package core and does not
// use this package.
//
// Grounded on original_source/gcs/src/gcs_fifo_lite.hpp: a fixed-size ring
// of interface{} slots behind one mutex and two condition variables, with
// protected (blocking) and unprotected (pre-locked) access pairs.
package fifo

import (
	"sync"

	"github.com/groupcomm/gcs-core/pkg/gcs/gcserrors"
)

// FIFO is a fixed-capacity ring buffer of in-flight entries. Capacity is
// rounded up to the next power of two, as in the original.
type FIFO struct {
	mu       sync.Mutex
	putCond  *sync.Cond
	getCond  *sync.Cond
	queue    []interface{}
	mask     uint64
	head     uint64
	tail     uint64
	used     int
	closed   bool
	putWait  int
	getWait  int
}

func nextPowerOfTwo(n int) uint64 {
	if n <= 1 {
		return 1
	}
	p := uint64(1)
	for p < uint64(n) {
		p <<= 1
	}
	return p
}

// New creates a FIFO able to hold at least length concurrently-scheduled
// entries.
func New(length int) *FIFO {
	capacity := nextPowerOfTwo(length)
	f := &FIFO{
		queue: make([]interface{}, capacity),
		mask:  capacity - 1,
	}
	f.putCond = sync.NewCond(&f.mu)
	f.getCond = sync.NewCond(&f.mu)
	return f
}

// Push reserves the tail slot, blocking while the FIFO is full. It returns
// gcserrors.ErrBadFd if the FIFO is closed while waiting. On success the
// value is installed at the tail and the tail is advanced; insertion order
// is thus observation order for subsequent Pop calls.
func (f *FIFO) Push(value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for !f.closed && f.used >= len(f.queue) {
		f.putWait++
		f.putCond.Wait()
	}
	if f.closed {
		return gcserrors.ErrBadFd
	}

	f.queue[f.tail] = value
	f.tail = (f.tail + 1) & f.mask
	f.used++

	if f.getWait > 0 {
		f.getWait--
		f.getCond.Signal()
	}
	return nil
}

// TryPush is the non-blocking form: it returns gcserrors.ErrAgain
// immediately instead of waiting when the FIFO is full, matching the
// bounded "FIFO of capacity 2 rejects a 3rd concurrent schedule() with
// AGAIN" boundary behavior (spec §8).
func (f *FIFO) TryPush(value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return gcserrors.ErrBadFd
	}
	if f.used >= len(f.queue) {
		return gcserrors.ErrAgain
	}

	f.queue[f.tail] = value
	f.tail = (f.tail + 1) & f.mask
	f.used++

	if f.getWait > 0 {
		f.getWait--
		f.getCond.Signal()
	}
	return nil
}

// Head returns the value at the head of the FIFO without removing it, and
// whether the FIFO was non-empty. It never blocks: the receive thread must
// never block on an empty FIFO.
func (f *FIFO) Head() (interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.used == 0 {
		return nil, false
	}
	return f.queue[f.head], true
}

// Pop removes the head entry, waking one waiting pusher.
func (f *FIFO) Pop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.used == 0 {
		return
	}
	f.queue[f.head] = nil
	f.head = (f.head + 1) & f.mask
	f.used--
	if f.putWait > 0 {
		f.putWait--
		f.putCond.Signal()
	}
}

// Remove drops the most recently pushed item (LIFO cancel), used when a
// scheduled send is abandoned before it completes (spec §3 "remove" entry
// in FIFO primitive).
func (f *FIFO) Remove() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.used == 0 {
		return false
	}
	f.tail = (f.tail - 1) & f.mask
	f.queue[f.tail] = nil
	f.used--
	if f.putWait > 0 {
		f.putWait--
		f.putCond.Signal()
	}
	return true
}

// Len reports the number of entries currently queued.
func (f *FIFO) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.used
}

// Close marks the FIFO closed: blocked Push callers return ErrBadFd, and
// any still-queued entries are left for the owner to drain via Head/Pop.
func (f *FIFO) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.putCond.Broadcast()
	f.getCond.Broadcast()
}
