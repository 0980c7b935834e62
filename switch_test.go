// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.
//
// Tests for the crypto-callback switcher: transition policy, entropy
// carry-over and pool migration.

package lrng

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sixafter/lrng/x/crypto/ctrdrbg"
	"github.com/sixafter/lrng/x/crypto/poolhash"
)

// Test_Switch_DRNGRoundTrip installs the alternative DRNG set and returns
// to the default; output generation stays intact across both transitions.
func Test_Switch_DRNGRoundTrip(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	r := newTestRNG(t)
	var buf [64]byte

	is.NoError(r.SetDRNGCallbacks(ctrdrbg.New()))
	_, cb := r.drngInit.callbacks()
	is.Equal("aes256-ctr-drbg", cb.Name())

	n, err := r.GetRandomBytes(buf[:])
	is.NoError(err)
	is.Equal(len(buf), n)

	is.NoError(r.SetDRNGCallbacks(nil))
	_, cb = r.drngInit.callbacks()
	is.Equal(r.cfg.DRNG.Name(), cb.Name())

	n, err = r.GetRandomBytes(buf[:])
	is.NoError(err)
	is.Equal(len(buf), n)
}

// Test_Switch_RejectsSecondAlternative requires deregistering an installed
// alternative before another one can be set.
func Test_Switch_RejectsSecondAlternative(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	r := newTestRNG(t)

	is.NoError(r.SetDRNGCallbacks(ctrdrbg.New()))
	is.ErrorIs(r.SetDRNGCallbacks(newStubDRNG("other")), ErrInvalidArgument)

	// Back to the default, then the other alternative is acceptable.
	is.NoError(r.SetDRNGCallbacks(nil))
	is.NoError(r.SetDRNGCallbacks(newStubDRNG("other")))
}

// Test_Switch_DisabledByConfiguration reports ErrNotSupported when
// switching is configured off.
func Test_Switch_DisabledByConfiguration(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	r := newTestRNG(t, WithSwitchingEnabled(false))

	is.ErrorIs(r.SetDRNGCallbacks(ctrdrbg.New()), ErrNotSupported)
	is.ErrorIs(r.SetHashCallbacks(poolhash.BLAKE2b()), ErrNotSupported)
}

// Test_Switch_AtomicInstanceUntouched keeps the atomic-context instance on
// the default set across a DRNG switch.
func Test_Switch_AtomicInstanceUntouched(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	r := newTestRNG(t)
	_, before := r.drngAtomic.callbacks()

	is.NoError(r.SetDRNGCallbacks(ctrdrbg.New()))

	_, after := r.drngAtomic.callbacks()
	is.Equal(before.Name(), after.Name())
}

// Test_Switch_HashMigratesPools switches the hash set: online lanes keep
// collecting and their event estimators are re-capped against the new
// digest width.
func Test_Switch_HashMigratesPools(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	r := newTestRNG(t, WithCPUs(2))
	r.irq.health.disable()

	primeLane(t, r.irq, 0, 50)
	primeLane(t, r.irq, 1, 7)

	is.NoError(r.SetHashCallbacks(poolhash.BLAKE2b()))

	hcb, _ := r.drngInit.callbacks()
	is.Equal("blake2b-256", hcb.Name())

	// Entropy survived the migration: a drain still credits the events.
	var out [SecurityStrengthBytes]byte
	bits := r.poolHash(r.irq, out[:], SecurityStrengthBits, false, false)
	is.Equal(uint32(57-ConditioningEntropyLoss), bits)

	is.NoError(r.SetHashCallbacks(nil))
}

// Test_Switch_HashRecapsEvents clamps lane event estimators that exceed
// the new digest equivalent.
func Test_Switch_HashRecapsEvents(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	r := newTestRNG(t, WithCPUs(1))
	r.irq.health.disable()
	primeLane(t, r.irq, 0, 100000)

	is.NoError(r.SetHashCallbacks(poolhash.BLAKE2b()))

	cap := r.irq.laneEventCap(poolhash.BLAKE2b().DigestSize())
	is.Equal(cap, r.irq.lanes[0].events.Load())
}

// Test_Switch_ConcurrentReseed runs generates against a switch storm; every
// reseed observes a consistent callback pair, entirely old or entirely new.
func Test_Switch_ConcurrentReseed(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	r := newTestRNG(t, WithCPUs(2))
	r.irq.health.disable()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		var buf [128]byte
		for i := 0; i < 50; i++ {
			for j := 0; j < 100; j++ {
				r.AddInterruptEvent(j, 0)
			}
			if _, err := r.GetRandomBytes(buf[:]); err != nil {
				is.NoError(err)
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			is.NoError(r.SetDRNGCallbacks(ctrdrbg.New()))
			is.NoError(r.SetDRNGCallbacks(nil))
		}
	}()

	wg.Wait()
}
