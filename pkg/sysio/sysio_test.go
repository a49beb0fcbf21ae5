package sysio_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/aioq/pkg/sysio"
)

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data")

	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	return path
}

func Test_Real_Pread_Reads_At_Offset(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, []byte("abcdefgh"))
	p := sysio.NewReal()

	fd, err := p.Open(path, unix.O_RDONLY)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	defer func() { _ = p.Close(fd) }()

	buf := make([]byte, 3)

	n, err := p.Pread(fd, buf, 2)
	if err != nil || n != 3 {
		t.Fatalf("Pread: n=%d err=%v, want 3, nil", n, err)
	}
	if !bytes.Equal(buf, []byte("cde")) {
		t.Fatalf("buf=%q, want %q", buf, "cde")
	}

	// Pread does not move the file position: a second read at offset 0
	// still sees the start of the file.
	n, err = p.Pread(fd, buf, 0)
	if err != nil || n != 3 {
		t.Fatalf("second Pread: n=%d err=%v, want 3, nil", n, err)
	}
	if !bytes.Equal(buf, []byte("abc")) {
		t.Fatalf("buf=%q, want %q", buf, "abc")
	}
}

func Test_Real_Pread_Returns_Zero_At_End_Of_File(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, []byte("xy"))
	p := sysio.NewReal()

	fd, err := p.Open(path, unix.O_RDONLY)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	defer func() { _ = p.Close(fd) }()

	n, err := p.Pread(fd, make([]byte, 4), 2)
	if err != nil || n != 0 {
		t.Fatalf("Pread at EOF: n=%d err=%v, want 0, nil", n, err)
	}
}

func Test_Real_Open_Returns_ENOENT_For_Missing_File(t *testing.T) {
	t.Parallel()

	p := sysio.NewReal()

	fd, err := p.Open(filepath.Join(t.TempDir(), "missing"), unix.O_RDONLY)
	if !errors.Is(err, unix.ENOENT) {
		t.Fatalf("Open: fd=%d err=%v, want ENOENT", fd, err)
	}
}

func Test_Real_Open_Sets_Cloexec(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, []byte("z"))
	p := sysio.NewReal()

	fd, err := p.Open(path, unix.O_RDONLY)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	defer func() { _ = p.Close(fd) }()

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		t.Fatalf("F_GETFD: %v", err)
	}

	if flags&unix.FD_CLOEXEC == 0 {
		t.Fatal("descriptor is missing FD_CLOEXEC")
	}
}
