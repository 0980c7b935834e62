// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sixafter/lrng/x/crypto/callback"
)

// drngInstance is one seedable, generate-capable DRNG state together with
// its reseed bookkeeping. The instance lock guards the generator state and
// the callback pair; a reseed or switch observes both entirely old or
// entirely new, never a mix.
type drngInstance struct {
	r    *RNG
	log  logrus.FieldLogger
	node int

	// atomicCtx marks the instance serving contexts that may not block: it
	// never pulls from the entropy sources on the generate path and stays
	// on the default callback set permanently.
	atomicCtx bool

	mu    sync.Mutex
	state callback.DRNGState
	cb    callback.DRNG
	hash  callback.Hash

	requests    atomic.Int32
	lastSeeded  atomic.Int64 // unix nanoseconds
	fullySeeded atomic.Bool
	forceReseed atomic.Bool
}

func newDRNGInstance(r *RNG, node int, atomicCtx bool, cb callback.DRNG, hcb callback.Hash) (*drngInstance, error) {
	state, err := cb.Alloc(SecurityStrengthBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: DRNG allocation: %v", ErrInternal, err)
	}

	kind := "node"
	if atomicCtx {
		kind = "atomic"
	}

	d := &drngInstance{
		r:         r,
		log:       r.log.WithFields(logrus.Fields{"drng": kind, "node": node}),
		node:      node,
		atomicCtx: atomicCtx,
		state:     state,
		cb:        cb,
		hash:      hcb,
	}
	d.reset()
	return d, nil
}

// reset restores the reseed bookkeeping to the unseeded defaults.
func (d *drngInstance) reset() {
	d.requests.Store(ReseedThreshold)
	d.lastSeeded.Store(timeNow().UnixNano())
	d.fullySeeded.Store(false)
	d.forceReseed.Store(true)
	d.log.Debug("reset DRNG")
}

// callbacks returns a consistent snapshot of the instance's callback pair.
func (d *drngInstance) callbacks() (callback.Hash, callback.DRNG) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hash, d.cb
}

// hashCB returns the hash callback set of the instance's locality domain.
func (d *drngInstance) hashCB() callback.Hash {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hash
}

// seedAge returns the time since the last successful seed.
func (d *drngInstance) seedAge() time.Duration {
	return time.Duration(timeNow().UnixNano() - d.lastSeeded.Load())
}

// needsReseed evaluates the reseed triggers: exhausted request budget,
// forced reseed, or seed age beyond the configured maximum.
func (d *drngInstance) needsReseed() bool {
	if d.requests.Add(-1) <= 0 || d.forceReseed.Load() {
		return true
	}
	maxAge := time.Duration(d.r.reseedMaxSec.Load()) * time.Second
	return d.seedAge() > maxAge
}

// inject seeds the instance with a data buffer. On success the request
// budget and seed age restart and a pending forced reseed is satisfied; on
// failure the next generate retries, and a pending forced reseed stays
// pending.
func (d *drngInstance) inject(seed []byte, creditedBits uint32) error {
	d.mu.Lock()
	err := d.state.Seed(seed)
	d.mu.Unlock()

	if err != nil {
		d.log.WithError(err).Warn("seeding of DRNG failed")
		d.requests.Store(1)
		return fmt.Errorf("%w: DRNG seed: %v", ErrInternal, err)
	}

	d.log.WithFields(logrus.Fields{
		"bytes": len(seed),
		"bits":  creditedBits,
		"age":   d.seedAge().Round(time.Second).String(),
		"calls": ReseedThreshold - d.requests.Load(),
	}).Debug("seeded DRNG")

	d.lastSeeded.Store(timeNow().UnixNano())
	d.requests.Store(ReseedThreshold)
	d.forceReseed.Store(false)
	return nil
}

// seedFromSources drains the entropy sources into this instance. The caller
// must hold the reseed lock; it is released here so that waiters observe the
// stage transition and the pools reopen together.
func (d *drngInstance) seedFromSources() {
	var (
		eb  entropyBuffer
		buf [entropyBufferSize]byte
	)

	bits := d.r.fillSeedBuffer(&eb, SecurityStrengthBits, d.fullySeeded.Load())
	d.r.releaseReseed()
	d.r.st.initOps(bits)

	// The DRNG state is updated even when zero entropy was credited; the
	// uncredited data still stirs the state.
	err := d.inject(eb.bytes(buf[:0]), bits)
	eb.zeroize()
	zeroize(buf[:])

	if err == nil && bits >= FullSeedEntropyBits {
		d.fullySeeded.Store(true)
	}

	d.r.seedAtomicFrom(d)
}

// generate produces random bytes from the instance in chunks, checking the
// reseed triggers before each chunk. All but the atomic instance pull from
// the entropy sources when a trigger fires; if a reseed is already running,
// the next call retries.
func (d *drngInstance) generate(out []byte) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}

	processed := 0
	for len(out) > 0 {
		todo := len(out)
		if todo > MaxRequestSize {
			todo = MaxRequestSize
		}

		if d.needsReseed() && !d.atomicCtx {
			if !d.r.tryReseedLock() {
				d.requests.Store(1)
			} else {
				d.seedFromSources()
			}
		}

		d.mu.Lock()
		n, err := d.state.Generate(out[:todo])
		d.mu.Unlock()
		if err != nil || n <= 0 {
			d.log.WithError(err).Warn("getting random data from DRNG failed")
			return processed, fmt.Errorf("%w: DRNG generate: %v", ErrInternal, err)
		}

		processed += n
		out = out[n:]
	}

	return processed, nil
}

// seedAtomicFrom opportunistically reseeds the atomic instance from a node
// instance's output whenever the atomic instance is due. The node DRNG's
// lock type is usable by the current caller, the atomic instance's output
// parity follows the node instance.
func (r *RNG) seedAtomicFrom(d *drngInstance) {
	a := r.drngAtomic
	if d == a || !d.fullySeeded.Load() {
		return
	}

	// One feeder at a time; also breaks the generate/seed recursion when a
	// persistently failing primitive keeps the atomic instance due.
	if !r.atomicSeedInProgress.CompareAndSwap(false, true) {
		return
	}
	defer r.atomicSeedInProgress.Store(false)

	due := a.forceReseed.Load() || a.requests.Load() <= 0
	if !due {
		maxAge := time.Duration(r.reseedMaxSec.Load()) * time.Second
		due = a.seedAge() > maxAge
	}
	if !due {
		return
	}

	var seed [SecurityStrengthBytes]byte
	if _, err := d.generate(seed[:]); err != nil {
		r.log.WithError(err).Warn("error generating random numbers for atomic DRNG")
		return
	}
	_ = a.inject(seed[:], 0)
	a.fullySeeded.Store(d.fullySeeded.Load())
	zeroize(seed[:])
}

// forceReseedAll marks every instance, the atomic one included, for a
// reseed before its next generate.
func (r *RNG) forceReseedAll() {
	if nodes := r.nodes.Load(); nodes != nil {
		for _, d := range *nodes {
			if d != nil {
				d.forceReseed.Store(true)
				d.log.Debug("force reseed of DRNG")
			}
		}
	} else {
		r.drngInit.forceReseed.Store(true)
	}
	r.drngAtomic.forceReseed.Store(true)
}
