package aioq_test

import (
	"bytes"
	"errors"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/aioq/pkg/aioq"
)

func Test_Deadline_Read_Preempts_DeadlineFree_Read(t *testing.T) {
	t.Parallel()

	path := mustWriteFile(t, "f", []byte("hello"))
	q := newQueue(t)
	fd := openRaw(t, path)

	q.SetBlockWorkerForTesting(true)

	bufA := make([]byte, 5)

	idA, err := q.SubmitRead(fd, bufA, 0, -1)
	if err != nil {
		t.Fatalf("SubmitRead(A): %v", err)
	}

	bufB := make([]byte, 5)

	// Deadline 0 is already expired at submission.
	idB, err := q.SubmitRead(fd, bufB, 0, 0)
	if err != nil {
		t.Fatalf("SubmitRead(B): %v", err)
	}

	q.SetUnblockWorkerOnWaitForTesting(true)

	n, err := q.Wait(idB)
	if err != nil || n != 5 {
		t.Fatalf("Wait(B): n=%d err=%v, want 5, nil", n, err)
	}
	if !bytes.Equal(bufB, []byte("hello")) {
		t.Fatalf("bufB=%q, want %q", bufB, "hello")
	}

	// B finished while A, submitted first, is still pending.
	if q.Poll(idA) {
		t.Fatal("Poll(A) = true, want false while worker is blocked")
	}

	n, err = q.Wait(idA)
	if err != nil || n != 5 {
		t.Fatalf("Wait(A): n=%d err=%v, want 5, nil", n, err)
	}
}

func Test_Earliest_Deadline_Runs_First_Among_Deadlined_Requests(t *testing.T) {
	t.Parallel()

	path := mustWriteFile(t, "f", []byte("xy"))
	q := newQueue(t)
	q.SetManualWorkerForTesting(true)
	fd := openRaw(t, path)

	idFar, err := q.SubmitRead(fd, make([]byte, 1), 0, 10.0)
	if err != nil {
		t.Fatalf("SubmitRead(far): %v", err)
	}

	idNear, err := q.SubmitRead(fd, make([]byte, 1), 1, 0)
	if err != nil {
		t.Fatalf("SubmitRead(near): %v", err)
	}

	q.StepWorkerForTesting()

	if !q.Poll(idNear) {
		t.Fatal("Poll(near) = false, want earliest deadline to run first")
	}
	if q.Poll(idFar) {
		t.Fatal("Poll(far) = true, want it still pending")
	}

	q.StepWorkerForTesting()

	if _, err := q.Wait(idNear); err != nil {
		t.Fatalf("Wait(near): %v", err)
	}
	if _, err := q.Wait(idFar); err != nil {
		t.Fatalf("Wait(far): %v", err)
	}
}

func Test_DeadlineFree_Requests_Run_In_Submission_Order(t *testing.T) {
	t.Parallel()

	path := mustWriteFile(t, "f", []byte("xy"))
	q := newQueue(t)
	q.SetManualWorkerForTesting(true)
	fd := openRaw(t, path)

	id1, err := q.SubmitRead(fd, make([]byte, 1), 0, -1)
	if err != nil {
		t.Fatalf("SubmitRead(1): %v", err)
	}

	id2, err := q.SubmitRead(fd, make([]byte, 1), 1, -1)
	if err != nil {
		t.Fatalf("SubmitRead(2): %v", err)
	}

	q.StepWorkerForTesting()

	if !q.Poll(id1) || q.Poll(id2) {
		t.Fatalf("after one step: Poll(id1)=%v Poll(id2)=%v, want true, false", q.Poll(id1), q.Poll(id2))
	}

	q.StepWorkerForTesting()

	if _, err := q.Wait(id1); err != nil {
		t.Fatalf("Wait(1): %v", err)
	}
	if _, err := q.Wait(id2); err != nil {
		t.Fatalf("Wait(2): %v", err)
	}
}

func Test_Chunked_Read_Completes_Across_Iterations(t *testing.T) {
	t.Parallel()

	path := mustWriteFile(t, "f", []byte("hello"))
	q := newQueue(t)
	q.SetManualWorkerForTesting(true)

	if err := q.SetChunkLimit(2); err != nil {
		t.Fatalf("SetChunkLimit: %v", err)
	}

	fd := openRaw(t, path)
	buf := make([]byte, 5)

	id, err := q.SubmitRead(fd, buf, 0, -1)
	if err != nil {
		t.Fatalf("SubmitRead: %v", err)
	}

	// 5 bytes at 2 bytes per iteration: he / ll / o.
	q.StepWorkerForTesting()

	if q.Poll(id) {
		t.Fatal("Poll = true after first chunk, want incomplete")
	}
	if !bytes.Equal(buf[:2], []byte("he")) {
		t.Fatalf("buf[:2]=%q after first chunk, want %q", buf[:2], "he")
	}

	q.StepWorkerForTesting()

	if q.Poll(id) {
		t.Fatal("Poll = true after second chunk, want incomplete")
	}

	q.StepWorkerForTesting()

	if !q.Poll(id) {
		t.Fatal("Poll = false after third chunk, want complete")
	}

	n, err := q.Wait(id)
	if err != nil || n != 5 {
		t.Fatalf("Wait: n=%d err=%v, want 5, nil", n, err)
	}
	if !bytes.Equal(buf, []byte("hello")) {
		t.Fatalf("buf=%q, want %q", buf, "hello")
	}
}

func Test_Chunked_Read_Keeps_Prefix_When_Iteration_Fails(t *testing.T) {
	t.Parallel()

	path := mustWriteFile(t, "f", []byte("hello"))
	q := newQueue(t)
	q.SetManualWorkerForTesting(true)

	if err := q.SetChunkLimit(2); err != nil {
		t.Fatalf("SetChunkLimit: %v", err)
	}

	fd := openRaw(t, path)
	buf := make([]byte, 5)

	id, err := q.SubmitRead(fd, buf, 0, -1)
	if err != nil {
		t.Fatalf("SubmitRead: %v", err)
	}

	q.StepWorkerForTesting()

	if !bytes.Equal(buf[:2], []byte("he")) {
		t.Fatalf("buf[:2]=%q after first chunk, want %q", buf[:2], "he")
	}

	q.FailNextReadForTesting(aioq.FailIO)
	q.StepWorkerForTesting()

	n, err := q.Wait(id)
	if n != 2 {
		t.Fatalf("Wait: n=%d, want accumulated prefix 2", n)
	}
	if !errors.Is(err, unix.EIO) {
		t.Fatalf("Wait: err=%v, want EIO", err)
	}
}

func Test_Read_Fails_With_Minus_One_When_First_Iteration_Fails(t *testing.T) {
	t.Parallel()

	path := mustWriteFile(t, "f", []byte("hello"))
	q := newQueue(t)
	q.SetManualWorkerForTesting(true)
	fd := openRaw(t, path)

	id, err := q.SubmitRead(fd, make([]byte, 5), 0, -1)
	if err != nil {
		t.Fatalf("SubmitRead: %v", err)
	}

	q.FailNextReadForTesting(aioq.FailIO)
	q.StepWorkerForTesting()

	n, err := q.Wait(id)
	if n != -1 {
		t.Fatalf("Wait: n=%d, want -1 when nothing was transferred", n)
	}
	if !errors.Is(err, unix.EIO) {
		t.Fatalf("Wait: err=%v, want EIO", err)
	}
}

func Test_SubmitRead_Fails_Exactly_Once_When_Failure_Is_Armed(t *testing.T) {
	t.Parallel()

	path := mustWriteFile(t, "f", []byte("ok"))
	q := newQueue(t)
	fd := openRaw(t, path)
	buf := make([]byte, 2)

	for _, tc := range []struct {
		name string
		mode aioq.FailMode
		want error
	}{
		{"permanent", aioq.FailPermanent, aioq.ErrOutOfMemory},
		{"transient", aioq.FailTransient, aioq.ErrTransient},
	} {
		q.FailNextReadForTesting(tc.mode)

		id, err := q.SubmitRead(fd, buf, 0, -1)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v, want %v", tc.name, err, tc.want)
		}
		if id != 0 {
			t.Fatalf("%s: id=%d, want 0", tc.name, id)
		}

		// No slot was allocated for the failed submission.
		if got := q.InUseForTesting(); got != 0 {
			t.Fatalf("%s: in-use slots=%d, want 0", tc.name, got)
		}

		// The failure is one-shot: the retry succeeds.
		id, err = q.SubmitRead(fd, buf, 0, -1)
		if err != nil {
			t.Fatalf("%s: retry: %v", tc.name, err)
		}

		if n, err := q.Wait(id); err != nil || n != 2 {
			t.Fatalf("%s: Wait: n=%d err=%v, want 2, nil", tc.name, n, err)
		}
	}
}

func Test_Empty_Read_Completes_With_Zero(t *testing.T) {
	t.Parallel()

	path := mustWriteFile(t, "f", []byte("data"))
	q := newQueue(t)
	fd := openRaw(t, path)

	id, err := q.SubmitRead(fd, []byte{}, 0, -1)
	if err != nil {
		t.Fatalf("SubmitRead: %v", err)
	}

	n, err := q.Wait(id)
	if err != nil || n != 0 {
		t.Fatalf("Wait: n=%d err=%v, want 0, nil", n, err)
	}
}
