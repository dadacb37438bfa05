// Package sendmonitor implements the fair, FIFO-ordered send gate that
// bounds how many local sends may be concurrently in flight to the
// transport, grounded on original_source/gcs/src/gcs_sm.{hpp,cpp}
// (spec §3 "FIFO send-monitor", §4.6).
package sendmonitor

import (
	"context"
	"sync"

	"github.com/groupcomm/gcs-core/pkg/gcs/gcserrors"
)

// Stats is a snapshot of send-monitor throughput counters (spec §5
// supplemented features: "stats snapshot"), mirroring gcs_sm_stats_t.
type Stats struct {
	EnteredCount uint64
	WaitedCount  uint64
}

type waiter struct {
	ready     chan struct{}
	woken     bool
	interrupt bool
}

// Monitor is a FIFO gate: callers queue in arrival order, block in
// Enter until it is their turn and a slot is free, and Leave to release
// the slot to the next waiter. Pause/Continue let the owner stop (resp.
// resume) admitting new entrants without disturbing those already
// admitted; the lifecycle controller drives them from flow control.
type Monitor struct {
	mu          sync.Mutex
	concurrency int
	entered     int
	ring        []*waiter
	head, tail  int
	count       int
	paused      bool
	closed      bool

	enteredCount uint64
	waitedCount  uint64
}

// New creates a Monitor admitting up to concurrency callers into the
// critical section simultaneously.
func New(concurrency int) *Monitor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Monitor{
		concurrency: concurrency,
		ring:        make([]*waiter, 8),
	}
}

func (m *Monitor) pushWaiter(w *waiter) {
	if m.count == len(m.ring) {
		grown := make([]*waiter, len(m.ring)*2)
		n := copy(grown, m.ring[m.head:])
		copy(grown[n:], m.ring[:m.head])
		m.ring = grown
		m.head = 0
		m.tail = m.count
	}
	m.ring[m.tail] = w
	m.tail = (m.tail + 1) % len(m.ring)
	m.count++
}

func (m *Monitor) popWaiter() *waiter {
	if m.count == 0 {
		return nil
	}
	w := m.ring[m.head]
	m.ring[m.head] = nil
	m.head = (m.head + 1) % len(m.ring)
	m.count--
	return w
}

func (m *Monitor) peekWaiter() *waiter {
	if m.count == 0 {
		return nil
	}
	return m.ring[m.head]
}

// admitLocked wakes FIFO-eligible waiters while the monitor is open, not
// paused, and has a free slot. Must be called with mu held.
func (m *Monitor) admitLocked() {
	for !m.paused && !m.closed && m.entered < m.concurrency {
		w := m.peekWaiter()
		if w == nil {
			return
		}
		m.popWaiter()
		m.entered++
		w.woken = true
		close(w.ready)
	}
}

// Enter blocks until it is this caller's FIFO turn and a concurrency slot
// is available (GCS_SM_HAS_TO_WAIT in the original), or until ctx is
// canceled. A canceled wait returns gcserrors.ErrInterrupted without
// disturbing the FIFO order of waiters behind it; a closed monitor
// returns gcserrors.ErrBadFd.
func (m *Monitor) Enter(ctx context.Context) (*Ticket, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, gcserrors.ErrBadFd
	}

	w := &waiter{ready: make(chan struct{})}
	mustWait := m.paused || m.entered >= m.concurrency || m.count > 0
	m.pushWaiter(w)
	if mustWait {
		m.waitedCount++
	}
	m.admitLocked()
	m.mu.Unlock()

	select {
	case <-w.ready:
	case <-ctx.Done():
		m.interrupt(w)
		<-w.ready
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if w.interrupt {
		if m.closed {
			return nil, gcserrors.ErrBadFd
		}
		// Drop the canceled waiter from the queue; it never held a slot.
		kept := make([]*waiter, len(m.ring))
		n := 0
		for i := 0; i < m.count; i++ {
			if q := m.ring[(m.head+i)%len(m.ring)]; q != w {
				kept[n] = q
				n++
			}
		}
		m.ring, m.head, m.tail, m.count = kept, 0, n%len(kept), n
		return nil, gcserrors.ErrInterrupted
	}
	m.enteredCount++
	return &Ticket{m: m}, nil
}

// Ticket represents one admitted slot; it must be released exactly once
// via Leave.
type Ticket struct {
	m        *Monitor
	released bool
}

// Leave releases the slot held by t, admitting the next eligible FIFO
// waiter if the monitor is not paused.
func (t *Ticket) Leave() {
	if t.released {
		return
	}
	t.released = true
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entered--
	m.admitLocked()
}

// Pause stops admitting new waiters; already-entered callers are
// unaffected. Used when a group-wide flow-control STOP has been issued.
func (m *Monitor) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
}

// Continue resumes admitting waiters after a Pause.
func (m *Monitor) Continue() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	m.admitLocked()
}

// interrupt cancels a single waiter that has not yet been admitted. It is
// a no-op once the waiter has already been admitted.
func (m *Monitor) interrupt(w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.woken {
		return
	}
	w.interrupt = true
	w.woken = true
	close(w.ready)
}

// Close permanently stops the monitor: all still-queued waiters are
// woken with gcserrors.ErrBadFd and no further Enter call succeeds.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for {
		w := m.popWaiter()
		if w == nil {
			break
		}
		w.interrupt = true
		w.woken = true
		close(w.ready)
	}
}

// SetConcurrency adjusts how many callers may be admitted simultaneously,
// admitting more waiters immediately if the limit increased.
func (m *Monitor) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.concurrency = n
	m.admitLocked()
}

// StatsSnapshot returns a point-in-time copy of the monitor's throughput
// counters.
func (m *Monitor) StatsSnapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{EnteredCount: m.enteredCount, WaitedCount: m.waitedCount}
}

// ResetStats zeroes the cumulative counters (gcs_sm_stats_flush), leaving
// in-flight admission state untouched.
func (m *Monitor) ResetStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enteredCount = 0
	m.waitedCount = 0
}
