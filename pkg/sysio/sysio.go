// Package sysio provides the platform primitives consumed by the aioq
// request queue: read-only open, positional read, close, and a monotonic
// clock.
//
// The main types are:
//   - [Platform]: interface for descriptor-level file I/O
//   - [Real]: production implementation using [golang.org/x/sys/unix]
//   - [Faulty]: testing implementation that injects deterministic failures
//   - [Clock]: interface for monotonic time and sleep
//
// All operations work on raw file descriptors rather than [os.File] so a
// descriptor can travel through a queue as a plain integer without tying
// its lifetime to a Go object.
package sysio

import (
	"time"

	"golang.org/x/sys/unix"
)

// Platform is the set of OS primitives the queue needs.
//
// Implementations must be safe for concurrent use: the queue calls Pread
// from its worker while callers open and close descriptors on their own
// goroutines.
type Platform interface {
	// Open opens path with the given flags and returns a file descriptor.
	// Callers pass read-only flags; implementations must not require more
	// access than the flags request.
	Open(path string, flags int) (int, error)

	// Pread reads up to len(p) bytes from fd at offset off without moving
	// the descriptor's file position. A return of (0, nil) means end of
	// file.
	Pread(fd int, p []byte, off int64) (int, error)

	// Close closes the descriptor.
	Close(fd int) error
}

// Clock supplies monotonic time to deadline scheduling.
type Clock interface {
	// Now returns the current time. The monotonic reading must be intact
	// (no Round/Truncate) so deadline comparisons are wrap-safe.
	Now() time.Time

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Real implements [Platform] using the real operating system.
//
// All methods are thin passthroughs to [golang.org/x/sys/unix]. Open adds
// O_CLOEXEC so descriptors do not leak across exec.
type Real struct{}

// NewReal returns a new [Real] platform.
func NewReal() *Real {
	return &Real{}
}

func (r *Real) Open(path string, flags int) (int, error) {
	return unix.Open(path, flags|unix.O_CLOEXEC, 0)
}

func (r *Real) Pread(fd int, p []byte, off int64) (int, error) {
	return unix.Pread(fd, p, off)
}

func (r *Real) Close(fd int) error {
	return unix.Close(fd)
}

// SystemClock implements [Clock] using the time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Compile-time interface checks.
var (
	_ Platform = (*Real)(nil)
	_ Clock    = SystemClock{}
)
