package aioq

import (
	"time"

	"golang.org/x/sys/unix"
)

// How long a blocked worker sleeps between flag checks.
const blockedPollInterval = time.Millisecond

// startWorkerLocked spawns the background worker. Reports false when the
// spawn function fails, in which case the submission path falls back to
// synchronous execution.
func (q *Queue) startWorkerLocked() bool {
	if q.hooks.failSpawn {
		return false
	}

	done := make(chan struct{})

	if err := q.spawn(func() { q.workerLoop(done) }); err != nil {
		return false
	}

	q.workerRunning = true
	q.workerDone = done

	return true
}

// workerLoop is the single background worker. It owns no state: everything
// it touches sits behind q.mu, and the platform call runs on a snapshot
// with the mutex released.
func (q *Queue) workerLoop(done chan struct{}) {
	q.mu.Lock()

	for {
		if q.stopping {
			break
		}

		if q.workerBlockedLocked() {
			q.mu.Unlock()
			q.clock.Sleep(blockedPollInterval)
			q.mu.Lock()

			continue
		}

		idx := q.pickLocked()
		if idx < 0 {
			q.enqueue.Wait()

			continue
		}

		q.runLocked(idx)
	}

	q.mu.Unlock()
	close(done)
}

// pickLocked dequeues the next request per the priority policy: among
// deadline-carrying requests the smallest deadline wins (a passed deadline
// is simply the smallest); deadline-free requests run FIFO and only when
// no deadline-carrying request is pending. A linear scan is fine here
// because I/O dominates runtime.
func (q *Queue) pickLocked() int {
	best := -1
	bestPrev := -1
	prev := -1

	for i := q.pendHead; i >= 0; i = q.slots[i].next {
		if q.slots[i].hasDeadline {
			if best < 0 || q.slots[i].deadline.Before(q.slots[best].deadline) {
				best = i
				bestPrev = prev
			}
		}

		prev = i
	}

	if best >= 0 {
		q.unlinkLocked(best, bestPrev)

		return best
	}

	if q.pendHead >= 0 {
		head := q.pendHead
		q.unlinkLocked(head, -1)

		return head
	}

	return -1
}

// runLocked executes one dequeued request. Called with the mutex held;
// returns with it held. The platform call runs on a local snapshot of the
// slot so the backing array is free to relocate in the meantime.
func (q *Queue) runLocked(idx int) {
	s := &q.slots[idx]

	if s.canceled {
		// Result and error were forced at cancel time; skip execution.
		s.complete = true
		s.done.Broadcast()

		return
	}

	kind := s.kind
	op := s.open
	rd := s.read
	result := s.result
	chunk := q.chunkLimit
	injectReadErr := q.takeReadErrorLocked()

	q.mu.Unlock()

	var (
		incomplete bool
		err        error
	)

	switch kind {
	case kindOpen:
		fd, openErr := q.platform.Open(op.path, op.flags)
		if openErr != nil {
			result = -1
			err = openErr
		} else {
			result = int64(fd)
		}
	case kindRead:
		incomplete, result, err = q.readChunk(&rd, result, chunk, injectReadErr)
	}

	q.mu.Lock()

	// The array may have moved while the mutex was released.
	s = &q.slots[idx]

	if s.canceled {
		// Canceled mid-flight: the forced result/error stand. A descriptor
		// we just opened belongs to nobody, so close it.
		if kind == kindOpen && err == nil && result >= 0 {
			_ = q.platform.Close(int(result))
		}

		s.complete = true
		s.done.Broadcast()

		return
	}

	s.read = rd
	s.result = result
	s.err = err

	if incomplete {
		q.pushHeadLocked(idx)

		return
	}

	s.complete = true
	s.done.Broadcast()
}

// readChunk performs one read iteration of at most chunk bytes on the
// snapshot rd, accumulating into acc.
//
// Returns incomplete=true when a full chunk was read and more bytes
// remain; rd is advanced so the next iteration continues where this one
// stopped. End of file is success: a short or zero-length read completes
// the request with the accumulated count. A failure after some bytes were
// already transferred keeps the accumulated count and carries the error; a
// failure with nothing transferred forces the result to -1.
func (q *Queue) readChunk(rd *readOp, acc int64, chunk int64, injectErr error) (bool, int64, error) {
	n := len(rd.buf)
	if int64(n) > chunk {
		n = int(chunk)
	}

	var (
		k       int
		readErr error
	)

	if injectErr != nil {
		readErr = injectErr
	} else {
		k, readErr = q.platform.Pread(rd.fd, rd.buf[:n], rd.offset)
	}

	if readErr != nil {
		if acc == 0 {
			return false, -1, readErr
		}

		return false, acc, readErr
	}

	acc += int64(k)

	if k == n && k < len(rd.buf) {
		rd.buf = rd.buf[k:]
		rd.offset += int64(k)

		return true, acc, nil
	}

	return false, acc, nil
}

// workerBlockedLocked reports whether the test-control block flag holds
// the worker. While a Wait has registered an unblock target, the worker
// keeps running until that specific request completes.
func (q *Queue) workerBlockedLocked() bool {
	if !q.hooks.blockWorker {
		return false
	}

	if q.hooks.unblockTarget != 0 {
		if idx, ok := q.lookupLocked(q.hooks.unblockTarget); ok && !q.slots[idx].complete {
			return false
		}
	}

	return true
}

// stepWorker executes exactly one worker iteration on the calling
// goroutine. If nothing is pending it first blocks until a request is
// submitted. Test-control surface; see export_test.go.
func (q *Queue) stepWorker() {
	q.mu.Lock()

	for q.pendHead < 0 && !q.stopping {
		q.enqueue.Wait()
	}

	if !q.stopping {
		if idx := q.pickLocked(); idx >= 0 {
			q.runLocked(idx)
		}
	}

	q.mu.Unlock()
}

// errIO is the errno injected by the fail-next-read io mode.
var errIO error = unix.EIO
