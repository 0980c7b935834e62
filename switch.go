// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/sixafter/lrng/x/crypto/callback"
)

// Runtime replacement of the cryptographic primitives. At most one
// alternative set may be installed at a time: transitions are allowed only
// between the default set and an alternative, so installing a second
// alternative requires deregistering the first (switching back to the
// default). All accumulated entropy is carried across a switch.

// SetDRNGCallbacks replaces the DRNG callback set of every node instance.
// Passing nil installs the default set. The atomic-context instance is left
// on the default set permanently.
//
// On failure the affected instances remain on their prior set; a
// half-installed pair is never published.
func (r *RNG) SetDRNGCallbacks(cb callback.DRNG) error {
	if !r.cfg.SwitchingEnabled {
		return ErrNotSupported
	}
	if cb == nil {
		cb = r.cfg.DRNG
	}

	r.cbMu.Lock()
	defer r.cbMu.Unlock()

	_, current := r.drngInit.callbacks()
	if cb.Name() != r.cfg.DRNG.Name() && current.Name() != r.cfg.DRNG.Name() {
		r.log.Warn("disallow setting new DRNG callbacks, deregister the old callbacks first")
		return ErrInvalidArgument
	}

	var errs *multierror.Error
	for _, d := range r.allNodeInstances() {
		if err := r.drngSwitch(d, cb); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// SetHashCallbacks replaces the hash callback set of every node instance
// and migrates all per-CPU pools on that node to it. Passing nil installs
// the default set.
func (r *RNG) SetHashCallbacks(cb callback.Hash) error {
	if !r.cfg.SwitchingEnabled {
		return ErrNotSupported
	}
	if cb == nil {
		cb = r.cfg.Hash
	}

	r.cbMu.Lock()
	defer r.cbMu.Unlock()

	current, _ := r.drngInit.callbacks()
	if cb.Name() != r.cfg.Hash.Name() && current.Name() != r.cfg.Hash.Name() {
		r.log.Warn("disallow setting new hash callbacks, deregister the old callbacks first")
		return ErrInvalidArgument
	}

	var errs *multierror.Error
	for _, d := range r.allNodeInstances() {
		if err := r.hashSwitch(d, cb); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		for _, c := range []*collector{r.irq, r.sched} {
			if err := c.switchHash(d.node, cb); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	return errs.ErrorOrNil()
}

// allNodeInstances returns the published node instances, or the initial
// instance alone before publication.
func (r *RNG) allNodeInstances() []*drngInstance {
	if nodes := r.nodes.Load(); nodes != nil {
		return *nodes
	}
	return []*drngInstance{r.drngInit}
}

// drngSwitch replaces one instance's generator. The new state is seeded
// from the old instance's output so it carries the parity of the existing
// state; the entropy bookkeeping is left unchanged, so the new state is
// reseeded from the sources when deemed necessary.
func (r *RNG) drngSwitch(d *drngInstance, cb callback.DRNG) error {
	newState, err := cb.Alloc(SecurityStrengthBytes)
	if err != nil {
		r.log.WithError(err).WithField("node", d.node).
			Warn("could not allocate new DRNG for node")
		return fmt.Errorf("%w: DRNG allocation: %v", ErrInternal, err)
	}

	var seed [SecurityStrengthBytes]byte
	defer zeroize(seed[:])

	d.mu.Lock()
	_, genErr := d.state.Generate(seed[:])
	d.mu.Unlock()
	if genErr != nil {
		r.log.WithError(genErr).WithField("node", d.node).
			Warn("getting random data from DRNG failed during switch")
		newState.Zero()
		return fmt.Errorf("%w: DRNG generate: %v", ErrInternal, genErr)
	}

	if err := newState.Seed(seed[:]); err != nil {
		r.log.WithError(err).WithField("node", d.node).
			Warn("seeding of new DRNG failed during switch")
		newState.Zero()
		return fmt.Errorf("%w: DRNG seed: %v", ErrInternal, err)
	}

	d.mu.Lock()
	old := d.state
	d.state = newState
	d.cb = cb
	d.mu.Unlock()

	old.Zero()

	r.log.WithFields(logrus.Fields{
		"node": d.node,
		"drng": cb.Name(),
	}).Info("DRNG of node switched")
	return nil
}

// hashSwitch installs the new hash set on one instance.
func (r *RNG) hashSwitch(d *drngInstance, cb callback.Hash) error {
	d.mu.Lock()
	d.hash = cb
	d.mu.Unlock()
	return nil
}

// switchHash migrates the per-CPU pools of one node: under each lane's
// lock, the old hash finalizes into a digest, the new hash initializes and
// absorbs the digest, carrying the accumulated entropy forward. The events
// estimator is re-capped against the new digest width.
func (c *collector) switchHash(node int, cb callback.Hash) error {
	var digest [maxDigestSize]byte
	defer zeroize(digest[:])

	for cpu, ln := range c.lanes {
		if c.rng.nodeOf(cpu) != node || !ln.online.Load() {
			continue
		}

		ln.mu.Lock()
		n, err := ln.hash.Final(digest[:ln.hash.DigestSize()])
		if err == nil {
			var hs callback.HashState
			if hs, err = cb.Alloc(); err == nil {
				if err = hs.Update(digest[:n]); err == nil {
					ln.hash.Zero()
					ln.hash = hs
				}
			}
		}
		if err == nil {
			if cap := c.laneEventCap(cb.DigestSize()); ln.events.Load() > cap {
				ln.events.Store(cap)
			}
		}
		ln.mu.Unlock()

		if err != nil {
			c.log.WithError(err).WithField("cpu", cpu).
				Warn("re-initializing per-CPU entropy pool failed")
			return fmt.Errorf("%w: pool hash switch: %v", ErrInternal, err)
		}

		c.log.WithFields(logrus.Fields{
			"cpu":  cpu,
			"node": node,
			"hash": cb.Name(),
		}).Debug("re-initialized per-CPU entropy pool")
	}

	return nil
}
