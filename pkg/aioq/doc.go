// Package aioq provides an asynchronous file I/O request queue.
//
// aioq multiplexes blocking open and positional-read calls from many
// goroutines onto a single background worker. Callers submit requests and
// get back an opaque [RequestID]; they observe progress with [Queue.Poll]
// and join with [Queue.Wait], which returns the result and releases the
// request slot.
//
// # Basic Usage
//
//	q, err := aioq.New(aioq.Options{})
//	if err != nil {
//	    return err
//	}
//	defer q.Close()
//
//	id, err := q.SubmitOpen("data.bin", unix.O_RDONLY, -1)
//	if err != nil {
//	    return err
//	}
//
//	res, err := q.Wait(id)
//	if err != nil {
//	    return err
//	}
//	fd := aioq.HandleFromResult(res)
//
//	buf := make([]byte, 4096)
//	id, _ = q.SubmitRead(fd, buf, 0, -1)
//	n, err := q.Wait(id)
//
// # Scheduling
//
// Requests may carry a soft deadline (seconds, relative; negative means
// none). Among pending requests the worker always prefers the one whose
// deadline is nearest (an already-passed deadline beats any future one);
// requests without a deadline run FIFO and only when no deadline-carrying
// request is pending. Deadlines are best effort: they order dispatch, they
// do not abort I/O.
//
// Large reads execute in chunks of at most the configured chunk limit
// (default 1 MiB, see [Queue.SetChunkLimit]) so a deadline-carrying request
// can preempt a long background read between chunks.
//
// # Concurrency
//
// All Queue methods except [Queue.Close] are safe for concurrent use.
// Close requires that no other call is in flight. The caller's read buffer
// and file descriptor are borrowed from submission until the matching Wait
// returns; the caller must not mutate the buffer or close the descriptor
// in that window. Duplicate concurrent Waits on the same RequestID are
// undefined.
//
// # Error Handling
//
// Wait keeps two failure axes apart: a bad RequestID returns
// [ErrNoSuchRequest], while a failed request returns the platform error
// verbatim alongside the result. A canceled request always reports
// (-1, [ErrCanceled]), regardless of whether the underlying I/O finished.
package aioq
