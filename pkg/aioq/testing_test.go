package aioq_test

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/aioq/pkg/aioq"
)

// newQueue creates a queue with production defaults and closes it when the
// test finishes.
func newQueue(t *testing.T) *aioq.Queue {
	t.Helper()

	q, err := aioq.New(aioq.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Cleanup(q.Close)

	return q
}

// mustWriteFile writes data to a fresh temp file and returns its path.
func mustWriteFile(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile(%q): %v", path, err)
	}

	return path
}

// openRaw opens path read-only without going through the queue. Useful for
// tests that drive the worker manually and must not block on an open
// request of their own.
func openRaw(t *testing.T, path string) int {
	t.Helper()

	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("open %q: %v", path, err)
	}

	t.Cleanup(func() { _ = unix.Close(fd) })

	return fd
}

// openViaQueue submits an open and waits for the descriptor.
func openViaQueue(t *testing.T, q *aioq.Queue, path string) int {
	t.Helper()

	id, err := q.SubmitOpen(path, unix.O_RDONLY, -1)
	if err != nil {
		t.Fatalf("SubmitOpen(%q): %v", path, err)
	}

	res, err := q.Wait(id)
	if err != nil {
		t.Fatalf("Wait(open %q): res=%d err=%v", path, res, err)
	}

	fd := aioq.HandleFromResult(res)

	t.Cleanup(func() { _ = unix.Close(fd) })

	return fd
}
