// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import "github.com/sixafter/lrng/x/crypto/callback"

// NUMA support: one DRNG instance per locality domain, provisioned lazily by
// an allocation worker and published once with an atomic pointer swap.
// Before publication, and for any unpopulated node after it, lookups fall
// back to the initial instance.

// nodeOf maps a CPU id to its locality domain.
func (r *RNG) nodeOf(cpu int) int {
	return cpu % r.cfg.NUMANodes
}

// nodeDRNG returns the DRNG instance serving the given node.
func (r *RNG) nodeDRNG(node int) *drngInstance {
	if nodes := r.nodes.Load(); nodes != nil {
		if node < len(*nodes) && (*nodes)[node] != nil {
			return (*nodes)[node]
		}
	}
	return r.drngInit
}

// nodeDRNGOf returns the DRNG instance serving the given CPU's node. Only a
// fully seeded node instance is preferred over the initial one.
func (r *RNG) nodeDRNGOf(cpu int) *drngInstance {
	d := r.nodeDRNG(r.nodeOf(cpu))
	if d != r.drngInit && !d.fullySeeded.Load() {
		return r.drngInit
	}
	return d
}

// nodeHashOf returns the hash callback set of the given CPU's node.
func (r *RNG) nodeHashOf(cpu int) callback.Hash {
	return r.nodeDRNG(r.nodeOf(cpu)).hashCB()
}

// numaAlloc provisions the per-node DRNG array. Node zero keeps the
// pre-existing initial instance; every other node receives an instance on
// the same callback set, seeded from the initial instance's current output
// so the new state carries the parity of the existing one, not fresh
// entropy. The array is published with a single compare-and-swap; a lost
// race frees everything except the initial instance.
func (r *RNG) numaAlloc() {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()

	if r.nodes.Load() != nil {
		return
	}

	hcb, dcb := r.drngInit.callbacks()

	nodes := make([]*drngInstance, r.cfg.NUMANodes)
	nodes[0] = r.drngInit

	var seed [SecurityStrengthBytes]byte
	for node := 1; node < r.cfg.NUMANodes; node++ {
		d, err := newDRNGInstance(r, node, false, dcb, hcb)
		if err != nil {
			r.log.WithError(err).WithField("node", node).
				Warn("could not allocate DRNG for node")
			r.freeNodes(nodes)
			return
		}

		if _, err := r.drngInit.generate(seed[:]); err == nil {
			_ = d.inject(seed[:], 0)
		}
		d.reset()
		nodes[node] = d
		r.log.WithField("node", node).Info("DRNG for NUMA node allocated")
	}
	zeroize(seed[:])

	if !r.nodes.CompareAndSwap(nil, &nodes) {
		r.freeNodes(nodes)
	}
}

// freeNodes zeroizes provisional instances after a failed or lost
// publication. The initial instance is owned elsewhere and left untouched.
func (r *RNG) freeNodes(nodes []*drngInstance) {
	for _, d := range nodes {
		if d == nil || d == r.drngInit {
			continue
		}
		d.mu.Lock()
		d.state.Zero()
		d.mu.Unlock()
	}
}
