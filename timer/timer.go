// Package timer implements the reactor's ordered timer facility: a
// min-heap of scheduled callbacks with one-shot and repeated firing,
// and lazy, callback-safe cancellation.
package timer

import (
	"container/heap"
	"math"
	"sync"
	"time"
)

// Forever, passed as the repeat count to Schedule/ScheduleAt, makes a
// timer fire until it is cancelled.
const Forever = -1

// ID identifies a scheduled timer for its whole lifetime, including
// across periodic reschedules, and is safe to use as a map key.
type ID uint64

type entry struct {
	id       ID
	at       time.Time
	period   time.Duration
	count    int // Forever, 0 (cancelled/dead), or remaining fire count
	callback func()
	index    int // heap index, maintained by container/heap
}

func (e *entry) alive() bool { return e.count != 0 }

// heapSlice is a min-heap ordered by trigger time, then by id to give
// timers scheduled at the same instant FIFO firing order (ids are
// handed out in monotonically increasing creation order).
type heapSlice []*entry

func (h heapSlice) Len() int { return len(h) }
func (h heapSlice) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].id < h[j].id
	}
	return h[i].at.Before(h[j].at)
}
func (h heapSlice) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *heapSlice) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *heapSlice) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Manager is an ordered multimap of timers keyed by trigger time. It
// is safe for concurrent use; Update is expected to be called from a
// single reactor goroutine but Schedule/Cancel may be called from
// anywhere.
type Manager struct {
	mu     sync.Mutex
	heap   heapSlice
	nextID ID
	byID   map[ID]*entry
}

// NewManager returns an empty timer Manager.
func NewManager() *Manager {
	return &Manager{byID: make(map[ID]*entry)}
}

// ScheduleAt schedules f to run at trigger and then every period,
// firing repeat times in all (Forever for unbounded, 1 for a one-shot). The
// returned ID stays valid for the timer's whole lifetime, including
// across periodic reschedules.
func (m *Manager) ScheduleAt(trigger time.Time, period time.Duration, repeat int, f func()) ID {
	if repeat == 0 {
		panic("timer: repeat count must not be zero")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	e := &entry{id: id, at: trigger, period: period, count: repeat, callback: f}
	heap.Push(&m.heap, e)
	m.byID[id] = e
	return id
}

// ScheduleAfter schedules f to run after d and then every d, firing
// repeat times in all.
func (m *Manager) ScheduleAfter(d time.Duration, repeat int, f func()) ID {
	return m.ScheduleAt(time.Now().Add(d), d, repeat, f)
}

// Cancel marks id dead. Calling this from inside a callback that
// Update is currently running — on itself or a sibling — is always
// safe: the entry is simply never re-inserted. Returns false if id is
// unknown or already cancelled.
func (m *Manager) Cancel(id ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok || !e.alive() {
		return false
	}
	e.count = 0
	delete(m.byID, id)
	return true
}

// Update walks every entry due at or before now, removes it from the
// heap, invokes its callback with the manager's lock released (so the
// callback may itself Schedule or Cancel without deadlocking), and —
// if the timer is still alive and has remaining repeats once the
// callback returns — reinserts it at trigger+period under the same
// ID. A timer stays visible to Cancel for the whole duration of its
// own callback, which is what makes self-cancellation
// ("cancel me, the timer currently firing") safe and race-free.
func (m *Manager) Update(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.heap.Len() > 0 {
		e := m.heap[0]
		if e.at.After(now) {
			break
		}
		heap.Pop(&m.heap)

		if !e.alive() {
			delete(m.byID, e.id)
			continue
		}

		if e.count > 0 {
			e.count--
		}

		cb := e.callback
		m.mu.Unlock()
		cb()
		m.mu.Lock()

		if e.alive() {
			e.at = e.at.Add(e.period)
			heap.Push(&m.heap, e)
		} else {
			delete(m.byID, e.id)
		}
	}
}

// Nearest returns the duration until the first timer will fire, or
// the maximum representable duration if no timer is scheduled.
func (m *Manager) Nearest() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.heap.Len() == 0 {
		return time.Duration(math.MaxInt64)
	}
	d := time.Until(m.heap[0].at)
	if d < 0 {
		return 0
	}
	return d
}

// Len reports how many live timers are currently scheduled.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}
