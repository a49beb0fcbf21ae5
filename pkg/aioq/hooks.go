package aioq

// failMode selects which failure FailNextReadForTesting injects.
type failMode uint8

const (
	failNone failMode = iota

	// failPermanent makes the next SubmitRead return ErrOutOfMemory.
	failPermanent

	// failTransient makes the next SubmitRead return ErrTransient.
	failTransient

	// failIO makes the next read iteration fail with EIO.
	failIO
)

// testHooks is the deterministic test-control state consulted by the
// submission path and the worker. All fields are guarded by Queue.mu.
// Setters live in export_test.go, so the surface exists only in test
// builds; production code never mutates these.
type testHooks struct {
	// manualWorker suppresses lazy worker startup; tests drive the loop
	// one iteration at a time via stepWorker.
	manualWorker bool

	// blockWorker parks the worker in a sleep loop instead of dequeuing.
	blockWorker bool

	// unblockOnWait lets a Wait on a pending request lift blockWorker
	// until that specific request completes.
	unblockOnWait bool

	// unblockTarget is the request a Wait has registered; zero when none.
	unblockTarget RequestID

	// forceMove relocates the slot array on every acquire.
	forceMove bool

	// failSpawn forces worker startup to fail, exercising the
	// synchronous-fallback submission path.
	failSpawn bool

	submitFail failMode
	readFail   bool
}

// takeSubmitFailureLocked consumes an armed submission failure.
func (h *testHooks) takeSubmitFailureLocked() error {
	switch h.submitFail {
	case failPermanent:
		h.submitFail = failNone

		return ErrOutOfMemory
	case failTransient:
		h.submitFail = failNone

		return ErrTransient
	default:
		return nil
	}
}

// takeReadErrorLocked consumes an armed read-iteration failure.
func (q *Queue) takeReadErrorLocked() error {
	if !q.hooks.readFail {
		return nil
	}

	q.hooks.readFail = false

	return errIO
}
