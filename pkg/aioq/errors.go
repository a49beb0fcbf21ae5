package aioq

import "errors"

// Sentinel errors returned by aioq operations.
//
// Callers should use [errors.Is] to check error types. Platform I/O
// failures are NOT wrapped in these sentinels: the worker passes the
// platform error through verbatim, so errno checks like
// errors.Is(err, unix.ENOENT) keep working.
var (
	// ErrNoSuchRequest indicates the RequestID does not name a live request.
	//
	// Returned for zero ids, out-of-range ids, and ids already consumed by
	// a successful [Queue.Wait].
	ErrNoSuchRequest = errors.New("aioq: no such request")

	// ErrInvalidInput indicates invalid arguments were provided.
	//
	// Common causes: empty path, non-read-only open flags, nil buffer,
	// negative descriptor or offset, non-positive chunk limit.
	//
	// This is a programming error.
	ErrInvalidInput = errors.New("aioq: invalid input")

	// ErrOutOfMemory indicates the request table could not be grown.
	//
	// No slot is allocated; the submission had no effect.
	ErrOutOfMemory = errors.New("aioq: out of memory")

	// ErrTransient indicates a temporary submission failure.
	//
	// Recovery: retry the submission.
	ErrTransient = errors.New("aioq: transient failure")

	// ErrCanceled indicates the request was canceled.
	//
	// The underlying I/O may still have completed on disk; only the
	// observable result is forced to canceled.
	ErrCanceled = errors.New("aioq: canceled")

	// ErrClosed indicates the [Queue] has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("aioq: closed")
)
