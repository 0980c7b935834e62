// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.
//
// Tests for the per-CPU entropy pools and the auxiliary pool.

package lrng

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test_Pool_LazyInit brings a lane online on its first absorb.
func Test_Pool_LazyInit(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	r := newTestRNG(t, WithCPUs(2))
	r.irq.health.disable()

	is.False(r.irq.laneOnline(0))
	is.False(r.irq.laneOnline(1))

	// Word mode absorbs every 32 slots; eight events fill them.
	for i := 0; i < 8; i++ {
		r.irq.addSample(0, r.cfg.TimeSource())
	}

	is.True(r.irq.laneOnline(0))
	is.False(r.irq.laneOnline(1), "other lanes stay untouched")
}

// Test_Pool_DrainCarriesStateForward drains a lane twice: the fresh state
// depends on the old one, so consecutive digests differ even without new
// samples, and the drained events are seized exactly once.
func Test_Pool_DrainCarriesStateForward(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	r := newTestRNG(t, WithCPUs(1))
	r.irq.health.disable()
	primeLane(t, r.irq, 0, 12)

	digestA := make([]byte, maxDigestSize)
	nA, events, err := r.irq.drain(0, digestA)
	require.NoError(t, err)
	is.Equal(uint32(12), events)
	is.Equal(r.cfg.Hash.DigestSize(), nA)

	digestB := make([]byte, maxDigestSize)
	nB, events, err := r.irq.drain(0, digestB)
	require.NoError(t, err)
	is.Zero(events)
	is.NotEqual(digestA[:nA], digestB[:nB],
		"the re-initialized state chains the previous digest")
}

// Test_Pool_DrainOfflineLane yields nothing for a lane that never saw an
// event.
func Test_Pool_DrainOfflineLane(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	r := newTestRNG(t, WithCPUs(2))
	digest := make([]byte, maxDigestSize)
	n, events, err := r.irq.drain(1, digest)
	is.NoError(err)
	is.Zero(n)
	is.Zero(events)
}

// Test_Pool_DropVerdictDiscardsSample keeps dropped samples out of both
// the array and the estimator.
func Test_Pool_DropVerdictDiscardsSample(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	r := newTestRNG(t, WithCPUs(1))

	// Drive the repetition count test beyond the permanent cutoff.
	for i := 0; i < rctCutoffPermanent+10; i++ {
		r.irq.addSample(0, 99)
	}

	// Passing events: the first sample and the repetitions below the
	// intermittent cutoff; none of the unusable or dropped tail.
	is.Less(r.irq.lanes[0].events.Load(), uint32(rctCutoffPermanent))
}

// Test_Pool_AuxInsertChains evolves the auxiliary pool state on every
// insert.
func Test_Pool_AuxInsertChains(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	r := newTestRNG(t)

	before := r.aux.snapshot(nil)
	is.NoError(r.aux.insert([]byte("device data"), 0))
	after := r.aux.snapshot(nil)

	is.NotEqual(before, after)
	is.Zero(r.aux.entropyBits.Load())
}

// Test_Pool_Reset clears estimators but keeps pool data.
func Test_Pool_Reset(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	r := newTestRNG(t, WithCPUs(1))
	r.irq.health.disable()
	primeLane(t, r.irq, 0, 5)

	r.irq.reset()
	is.Zero(r.irq.lanes[0].events.Load())
	is.True(r.irq.laneOnline(0), "pool stays online across a reset")
}
