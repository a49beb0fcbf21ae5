package aioq

import (
	"sync"
	"time"
)

// Slot table growth and shrink policy.
const (
	// Minimum capacity after the first expansion.
	minTableCapacity = 4

	// Shrink hysteresis: the table halves only when the in-use prefix plus
	// this slack fits in half the capacity. Keeps release/acquire churn from
	// thrashing the backing array.
	shrinkSlack = 5
)

type requestKind uint8

const (
	kindOpen requestKind = iota + 1
	kindRead
)

// openOp is the payload of an open request. The table owns path until the
// slot is released.
type openOp struct {
	path  string
	flags int
}

// readOp is the payload of a read request. buf and offset advance during
// chunked execution; buf is borrowed from the caller until Wait returns.
type readOp struct {
	fd     int
	buf    []byte
	offset int64
}

// slot is one request record. Slots live in Queue.slots; the backing array
// may relocate on expansion, so no *slot may be dereferenced after the
// table mutex is released. done is a pointer and survives relocation: it is
// created when the slot's memory first exists and persists until the slot
// is dropped by a shrink.
type slot struct {
	id          RequestID
	inUse       bool
	complete    bool
	canceled    bool
	hasDeadline bool
	deadline    time.Time

	kind requestKind
	open openOp // kind == kindOpen
	read readOp // kind == kindRead

	result int64
	err    error

	done *sync.Cond
	next int // pending list link, -1 if unlinked or last
}

// lookupLocked validates id and returns the slot index.
func (q *Queue) lookupLocked(id RequestID) (int, bool) {
	if id == 0 || uint64(id) > uint64(len(q.slots)) {
		return 0, false
	}

	idx := int(id) - 1
	if !q.slots[idx].inUse {
		return 0, false
	}

	return idx, true
}

// acquireLocked finds the first free slot, growing the table if necessary,
// and initializes its control fields. The caller fills in kind-specific
// payload before releasing the mutex.
func (q *Queue) acquireLocked(hasDeadline bool, deadline time.Time) int {
	if q.hooks.forceMove && len(q.slots) > 0 {
		// Relocate the backing array on every acquire so dangling slot
		// pointers surface immediately in tests.
		q.resizeLocked(len(q.slots))
	}

	idx := -1

	for i := range q.slots {
		if !q.slots[i].inUse {
			idx = i

			break
		}
	}

	if idx < 0 {
		idx = len(q.slots)

		newCap := len(q.slots) * 2
		if newCap < minTableCapacity {
			newCap = minTableCapacity
		}

		q.resizeLocked(newCap)
	}

	s := &q.slots[idx]
	s.id = RequestID(idx + 1)
	s.inUse = true
	s.complete = false
	s.canceled = false
	s.hasDeadline = hasDeadline
	s.deadline = deadline
	s.result = 0
	s.err = nil
	s.next = -1

	return idx
}

// releaseLocked returns a slot to the free pool and shrinks the backing
// array when the in-use prefix has collapsed below the hysteresis bound.
func (q *Queue) releaseLocked(idx int) {
	s := &q.slots[idx]
	s.inUse = false
	s.id = 0
	s.open = openOp{}
	s.read = readOp{}
	s.err = nil

	used := 0

	for i := len(q.slots) - 1; i >= 0; i-- {
		if q.slots[i].inUse {
			used = i + 1

			break
		}
	}

	if used+shrinkSlack <= len(q.slots)/2 {
		q.resizeLocked(len(q.slots) / 2)
	}
}

// resizeLocked replaces the backing array with one of newCap slots.
//
// Shrinking past a live slot releases its resources: a completed,
// not-canceled open still holds a descriptor that nobody will ever Wait
// for, so the table closes it. Expansion creates the completion signal for
// each new slot.
func (q *Queue) resizeLocked(newCap int) {
	for i := newCap; i < len(q.slots); i++ {
		s := &q.slots[i]
		if s.inUse && s.complete && s.kind == kindOpen && s.err == nil && s.result >= 0 {
			_ = q.platform.Close(int(s.result))
		}
	}

	next := make([]slot, newCap)

	n := copy(next, q.slots)
	for i := n; i < newCap; i++ {
		next[i].done = sync.NewCond(&q.mu)
		next[i].next = -1
	}

	q.slots = next
}

// --- Pending list ---
//
// A singly linked list threaded through slot.next by index. head/tail are
// -1 when empty. Links use indices, not pointers, so relocation of the
// backing array cannot invalidate them.

func (q *Queue) enqueueTailLocked(idx int) {
	q.slots[idx].next = -1

	if q.pendTail < 0 {
		q.pendHead = idx
	} else {
		q.slots[q.pendTail].next = idx
	}

	q.pendTail = idx
}

func (q *Queue) pushHeadLocked(idx int) {
	q.slots[idx].next = q.pendHead
	q.pendHead = idx

	if q.pendTail < 0 {
		q.pendTail = idx
	}
}

// unlinkLocked removes idx from the pending list. prev is the preceding
// index or -1 when idx is the head.
func (q *Queue) unlinkLocked(idx, prev int) {
	if prev < 0 {
		q.pendHead = q.slots[idx].next
	} else {
		q.slots[prev].next = q.slots[idx].next
	}

	if q.pendTail == idx {
		q.pendTail = prev
	}

	q.slots[idx].next = -1
}
