package aioq

// Export the test-control surface. This file is only compiled during
// tests; the production build carries no way to flip these switches.

// FailMode selects the failure injected by FailNextReadForTesting.
type FailMode = failMode

// Exported fail modes for tests.
const (
	FailPermanent = failPermanent
	FailTransient = failTransient
	FailIO        = failIO
)

// SetManualWorkerForTesting suppresses lazy worker startup so a test can
// drive the loop deterministically with StepWorkerForTesting.
func (q *Queue) SetManualWorkerForTesting(on bool) {
	q.mu.Lock()
	q.hooks.manualWorker = on
	q.mu.Unlock()
}

// StepWorkerForTesting executes exactly one worker iteration and returns.
// If nothing is pending it first blocks until a request is submitted.
func (q *Queue) StepWorkerForTesting() {
	q.stepWorker()
}

// SetBlockWorkerForTesting parks the background worker in a sleep loop
// instead of dequeuing.
func (q *Queue) SetBlockWorkerForTesting(on bool) {
	q.mu.Lock()
	q.hooks.blockWorker = on
	q.mu.Unlock()
}

// SetUnblockWorkerOnWaitForTesting makes a Wait on a pending request
// temporarily clear the block flag until that specific request finishes.
func (q *Queue) SetUnblockWorkerOnWaitForTesting(on bool) {
	q.mu.Lock()
	q.hooks.unblockOnWait = on
	q.mu.Unlock()
}

// SetForceMoveOnReallocForTesting relocates the slot array on every
// acquire, so any pointer held across a mutex release dangles immediately.
func (q *Queue) SetForceMoveOnReallocForTesting(on bool) {
	q.mu.Lock()
	q.hooks.forceMove = on
	q.mu.Unlock()
}

// SetFailWorkerStartForTesting forces worker startup to fail, so
// submissions fall back to synchronous inline execution.
func (q *Queue) SetFailWorkerStartForTesting(on bool) {
	q.mu.Lock()
	q.hooks.failSpawn = on
	q.mu.Unlock()
}

// FailNextReadForTesting arms a one-shot failure: FailPermanent and
// FailTransient fail the next SubmitRead; FailIO fails the next read
// iteration with EIO.
func (q *Queue) FailNextReadForTesting(mode FailMode) {
	q.mu.Lock()

	switch mode {
	case failIO:
		q.hooks.readFail = true
	default:
		q.hooks.submitFail = mode
	}

	q.mu.Unlock()
}

// CapacityForTesting returns the current slot table capacity.
func (q *Queue) CapacityForTesting() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.slots)
}

// InUseForTesting returns the number of live slots.
func (q *Queue) InUseForTesting() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0

	for i := range q.slots {
		if q.slots[i].inUse {
			n++
		}
	}

	return n
}
