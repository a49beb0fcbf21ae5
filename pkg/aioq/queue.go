package aioq

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/aioq/pkg/sysio"
)

// DefaultChunkLimit is the default maximum byte count of a single worker
// read iteration. See [Queue.SetChunkLimit].
const DefaultChunkLimit int64 = 1 << 20 // 1 MiB

// RequestID is the opaque handle of a submitted request.
//
// Zero is never a valid id. An id stays valid from submission until the
// [Queue.Wait] that consumes it; after that the id may be reused for a
// later request.
type RequestID uint64

// Options configure a [Queue].
//
// The zero value is valid: it uses the real operating system, the system
// clock, and [DefaultChunkLimit].
type Options struct {
	// Platform supplies open/pread/close. Defaults to [sysio.NewReal].
	Platform sysio.Platform

	// Clock supplies monotonic time for deadline scheduling.
	// Defaults to [sysio.SystemClock].
	Clock sysio.Clock

	// ChunkLimit is the initial chunk limit in bytes. Zero means
	// [DefaultChunkLimit]; negative is invalid.
	ChunkLimit int64
}

// Queue is an asynchronous I/O request queue.
//
// All methods except [Queue.Close] are safe for concurrent use. See the
// package documentation for the scheduling and ownership rules.
type Queue struct {
	platform sysio.Platform
	clock    sysio.Clock

	// spawn starts the background worker. Injectable so tests can force
	// the synchronous-fallback submission path.
	spawn func(fn func()) error

	mu      sync.Mutex
	enqueue *sync.Cond // signaled on submission and on stop

	slots    []slot
	pendHead int // -1 when empty
	pendTail int

	chunkLimit    int64
	workerRunning bool
	workerDone    chan struct{}
	stopping      bool
	closed        bool

	hooks testHooks
}

// New creates a queue. The background worker is not started until the
// first submission.
func New(opts Options) (*Queue, error) {
	if opts.ChunkLimit < 0 {
		return nil, ErrInvalidInput
	}

	q := &Queue{
		platform:   opts.Platform,
		clock:      opts.Clock,
		pendHead:   -1,
		pendTail:   -1,
		chunkLimit: opts.ChunkLimit,
	}

	if q.platform == nil {
		q.platform = sysio.NewReal()
	}

	if q.clock == nil {
		q.clock = sysio.SystemClock{}
	}

	if q.chunkLimit == 0 {
		q.chunkLimit = DefaultChunkLimit
	}

	q.spawn = func(fn func()) error {
		go fn()

		return nil
	}

	q.enqueue = sync.NewCond(&q.mu)

	return q, nil
}

// Close shuts the queue down: it stops and joins the worker, releases
// every slot (closing descriptors owned by completed, never-waited open
// requests), and resets configuration to defaults.
//
// Close must not run concurrently with any other Queue call. Outstanding
// results are abandoned; Close does not cancel per request.
func (q *Queue) Close() {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()

		return
	}

	q.stopping = true
	q.enqueue.Broadcast()

	running := q.workerRunning
	done := q.workerDone

	q.mu.Unlock()

	if running {
		<-done
	}

	q.mu.Lock()

	q.resizeLocked(0)
	q.pendHead = -1
	q.pendTail = -1
	q.chunkLimit = DefaultChunkLimit
	q.workerRunning = false
	q.workerDone = nil
	q.closed = true

	q.mu.Unlock()
}

// SetChunkLimit sets the maximum byte count of a single worker read
// iteration. It takes effect for subsequent iterations; an in-flight read
// keeps its original budget for the current iteration.
func (q *Queue) SetChunkLimit(n int64) error {
	if n <= 0 {
		return ErrInvalidInput
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	q.chunkLimit = n

	return nil
}

// ChunkLimit returns the current maximum byte count of a single worker
// read iteration.
func (q *Queue) ChunkLimit() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.chunkLimit
}

// SubmitOpen enqueues an open request for path. flags must request
// read-only access. deadline is in seconds, relative to now; negative
// means no deadline.
//
// On success the returned id must eventually be passed to [Queue.Wait],
// which yields the descriptor via [HandleFromResult] and transfers its
// ownership to the caller.
func (q *Queue) SubmitOpen(path string, flags int, deadline float64) (RequestID, error) {
	if path == "" {
		return 0, ErrInvalidInput
	}

	if flags&unix.O_ACCMODE != unix.O_RDONLY {
		return 0, ErrInvalidInput
	}

	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()

		return 0, ErrClosed
	}

	hasDeadline, abs := q.absDeadlineLocked(deadline)
	idx := q.acquireLocked(hasDeadline, abs)

	s := &q.slots[idx]
	s.kind = kindOpen
	s.open = openOp{path: path, flags: flags}

	return q.commitLocked(idx)
}

// SubmitRead enqueues a positional read of len(buf) bytes from fd at
// offset. buf is borrowed until the matching [Queue.Wait] returns; the
// caller must not mutate it or close fd in that window. deadline is in
// seconds, relative to now; negative means no deadline.
func (q *Queue) SubmitRead(fd int, buf []byte, offset int64, deadline float64) (RequestID, error) {
	if fd < 0 || buf == nil || offset < 0 {
		return 0, ErrInvalidInput
	}

	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()

		return 0, ErrClosed
	}

	if err := q.hooks.takeSubmitFailureLocked(); err != nil {
		q.mu.Unlock()

		return 0, err
	}

	hasDeadline, abs := q.absDeadlineLocked(deadline)
	idx := q.acquireLocked(hasDeadline, abs)

	s := &q.slots[idx]
	s.kind = kindRead
	s.read = readOp{fd: fd, buf: buf, offset: offset}

	return q.commitLocked(idx)
}

// absDeadlineLocked translates a relative deadline in seconds to an
// absolute monotonic instant. deadline < 0 means none.
func (q *Queue) absDeadlineLocked(deadline float64) (bool, time.Time) {
	if deadline < 0 {
		return false, time.Time{}
	}

	return true, q.clock.Now().Add(time.Duration(deadline * float64(time.Second)))
}

// commitLocked links the acquired slot into the pending list, wakes the
// worker (starting it lazily on the first submission), and returns the id.
// If the worker cannot be started, the request executes synchronously
// before the submission returns. Called with the mutex held; releases it.
func (q *Queue) commitLocked(idx int) (RequestID, error) {
	id := q.slots[idx].id

	q.enqueueTailLocked(idx)
	q.enqueue.Signal()

	if !q.workerRunning && !q.hooks.manualWorker && !q.startWorkerLocked() {
		// Synchronous fallback: drain pending in priority order until this
		// request completes. The result is signaled before we return, so a
		// Wait that races with the tail of this submission is fine.
		for !q.slots[idx].complete {
			next := q.pickLocked()
			if next < 0 {
				// Another synchronous submitter is executing our request.
				q.slots[idx].done.Wait()

				continue
			}

			q.runLocked(next)
		}
	}

	q.mu.Unlock()

	return id, nil
}

// Poll reports whether id is complete. A stale or invalid id reports true.
// Poll never modifies request state; only [Queue.Wait] releases a slot.
func (q *Queue) Poll(id RequestID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx, ok := q.lookupLocked(id)
	if !ok {
		return true
	}

	return q.slots[idx].complete
}

// Wait blocks until the request identified by id completes, then releases
// its slot and returns the result.
//
// The two failure axes stay separate:
//   - invalid id: (-1, [ErrNoSuchRequest])
//   - canceled request: (-1, [ErrCanceled])
//   - failed I/O: the accumulated result with the platform error verbatim
//     (-1 if nothing was transferred)
//   - success: (bytes read or descriptor, nil)
func (q *Queue) Wait(id RequestID) (int64, error) {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()

		return -1, ErrClosed
	}

	idx, ok := q.lookupLocked(id)
	if !ok {
		q.mu.Unlock()

		return -1, ErrNoSuchRequest
	}

	unblocked := false
	if q.hooks.unblockOnWait && q.hooks.blockWorker && !q.slots[idx].complete {
		q.hooks.unblockTarget = id
		unblocked = true
	}

	// Re-index on every iteration: the backing array may have been
	// relocated while we slept.
	for !q.slots[idx].complete {
		q.slots[idx].done.Wait()
	}

	if unblocked {
		q.hooks.unblockTarget = 0
	}

	result := q.slots[idx].result
	err := q.slots[idx].err

	q.releaseLocked(idx)
	q.mu.Unlock()

	return result, err
}

// Cancel marks the request identified by id as canceled.
//
// The caller must still Wait for id; that Wait returns (-1, [ErrCanceled])
// whether or not the I/O had already finished. Cancel never blocks on the
// request and never aborts a platform call already in flight. If the
// request was a completed, successful open, the table closes the
// descriptor.
func (q *Queue) Cancel(id RequestID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	idx, ok := q.lookupLocked(id)
	if !ok {
		return ErrNoSuchRequest
	}

	q.cancelSlotLocked(idx)

	return nil
}

// CancelFD cancels every in-flight read request on fd. Higher layers call
// this before closing a descriptor that may still have pending reads.
// Open requests are not walked, even if their result names fd.
func (q *Queue) CancelFD(fd int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	for i := range q.slots {
		if q.slots[i].inUse && q.slots[i].kind == kindRead && q.slots[i].read.fd == fd {
			q.cancelSlotLocked(i)
		}
	}
}

// cancelSlotLocked forces the observable result of one request to
// canceled. If the request already completed as a successful open, the
// descriptor belongs to the table again and is closed.
func (q *Queue) cancelSlotLocked(idx int) {
	s := &q.slots[idx]

	if s.complete && s.kind == kindOpen && s.err == nil && s.result >= 0 {
		_ = q.platform.Close(int(s.result))
	}

	s.result = -1
	s.err = ErrCanceled

	if !s.complete {
		s.canceled = true
	}
}

// HandleFromResult converts a successful [Queue.SubmitOpen] result into a
// file descriptor.
func HandleFromResult(result int64) int {
	return int(result)
}
