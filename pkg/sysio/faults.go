package sysio

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// FaultOp identifies a platform operation that can be fault-injected.
//
// These values are used by [FaultConfig.Ops].
type FaultOp string

// Valid FaultOp values for failpoint configuration.
const (
	FaultOpen  FaultOp = "open"
	FaultPread FaultOp = "pread"
	FaultClose FaultOp = "close"
)

// FaultConfig configures fault injection for [Faulty].
//
// Fault injection is optional. The zero value injects nothing.
//
// A fault triggers on the Nth eligible operation (After, 1-indexed), with
// a seeded probability per eligible operation (Rate), or both; when both
// are set, either condition matching triggers.
type FaultConfig struct {
	// After triggers a fault on the Nth eligible operation (1-indexed).
	//
	// If After is 0 and Rate is 0 but Ops is set, After defaults to 1
	// (fail the first eligible operation).
	After uint64

	// Rate is the probability in [0,1] that an eligible operation fails.
	Rate float64

	// Seed seeds the pseudo-random generator used by Rate.
	Seed int64

	// Ops restrict which operations are eligible. If empty, all
	// operations are eligible.
	Ops []FaultOp

	// Err is the error injected. If nil, unix.EIO is used.
	Err error
}

// Faulty wraps a [Platform] and injects failures for testing.
//
// Injected errors are plain errno values (default unix.EIO) so they behave
// identically to real platform errors; code using errors.Is works the same
// either way.
//
// Use [Faulty.Stats] to inspect how many faults were injected.
type Faulty struct {
	platform Platform

	mu    sync.Mutex
	armed bool
	count uint64
	after uint64
	rate  float64
	rng   *rand.Rand
	opSet map[FaultOp]struct{}
	err   error

	openFails  atomic.Int64
	preadFails atomic.Int64
	closeFails atomic.Int64
}

// NewFaulty creates a fault-injecting platform wrapping p.
//
// Returns an error if cfg.Rate is outside [0,1].
func NewFaulty(p Platform, cfg FaultConfig) (*Faulty, error) {
	if cfg.Rate < 0 || cfg.Rate > 1 {
		return nil, fmt.Errorf("sysio: invalid fault config: rate %f", cfg.Rate)
	}

	f := &Faulty{
		platform: p,
		after:    cfg.After,
		rate:     cfg.Rate,
		err:      cfg.Err,
	}

	if f.err == nil {
		f.err = unix.EIO
	}

	hasFilters := len(cfg.Ops) > 0
	if cfg.After == 0 && cfg.Rate == 0 && !hasFilters {
		return f, nil
	}

	// Filters without a trigger mean: fail the first eligible op.
	if f.after == 0 && f.rate == 0 {
		f.after = 1
	}

	f.armed = true

	if len(cfg.Ops) > 0 {
		f.opSet = make(map[FaultOp]struct{}, len(cfg.Ops))
		for _, op := range cfg.Ops {
			f.opSet[op] = struct{}{}
		}
	}

	if f.rate > 0 {
		f.rng = rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)))
	}

	return f, nil
}

// Stats returns the number of injected failures per operation.
func (f *Faulty) Stats() (opens, preads, closes int64) {
	return f.openFails.Load(), f.preadFails.Load(), f.closeFails.Load()
}

// IsInjected reports whether err is an error [Faulty] injects.
//
// Because injected errors are plain errnos, this only distinguishes the
// configured injection error, not its origin.
func (f *Faulty) IsInjected(err error) bool {
	return err != nil && errors.Is(err, f.err)
}

func (f *Faulty) Open(path string, flags int) (int, error) {
	if f.shouldFail(FaultOpen) {
		f.openFails.Add(1)

		return -1, f.err
	}

	return f.platform.Open(path, flags)
}

func (f *Faulty) Pread(fd int, p []byte, off int64) (int, error) {
	if f.shouldFail(FaultPread) {
		f.preadFails.Add(1)

		return 0, f.err
	}

	return f.platform.Pread(fd, p, off)
}

func (f *Faulty) Close(fd int) error {
	if f.shouldFail(FaultClose) {
		f.closeFails.Add(1)

		return f.err
	}

	return f.platform.Close(fd)
}

// shouldFail applies op filters and trigger counters.
func (f *Faulty) shouldFail(op FaultOp) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.armed {
		return false
	}

	if len(f.opSet) > 0 {
		if _, ok := f.opSet[op]; !ok {
			return false
		}
	}

	f.count++

	if f.after > 0 && f.count == f.after {
		return true
	}

	if f.rate > 0 {
		return f.rng.Float64() < f.rate
	}

	return false
}

// Compile-time interface check.
var _ Platform = (*Faulty)(nil)
