// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// entropyBuffer is the seed buffer filled from the entropy sources in a
// fixed order. Each source writes into its dedicated sub-buffer; the now
// field reseeds the DRNG with the current time stamp on top.
type entropyBuffer struct {
	irq   [SecurityStrengthBytes]byte
	sched [SecurityStrengthBytes]byte
	arch  [SecurityStrengthBytes]byte
	jent  [SecurityStrengthBytes]byte
	now   uint32
}

// bytes serializes the buffer for injection into a DRNG.
func (eb *entropyBuffer) bytes(out []byte) []byte {
	out = out[:0]
	out = append(out, eb.irq[:]...)
	out = append(out, eb.sched[:]...)
	out = append(out, eb.arch[:]...)
	out = append(out, eb.jent[:]...)
	out = append(out,
		byte(eb.now), byte(eb.now>>8), byte(eb.now>>16), byte(eb.now>>24))
	return out
}

// entropyBufferSize is the wire size of a serialized entropy buffer.
const entropyBufferSize = 4*SecurityStrengthBytes + 4

func (eb *entropyBuffer) zeroize() {
	zeroize(eb.irq[:])
	zeroize(eb.sched[:])
	zeroize(eb.arch[:])
	zeroize(eb.jent[:])
	eb.now = 0
}

// tryReseedLock seizes the reseed-in-progress flag. Reading the entropy
// sources is only allowed by one caller; if the flag is already taken, a
// reseed is running and the caller continues with its other work.
func (r *RNG) tryReseedLock() bool {
	return r.reseedInProgress.CompareAndSwap(false, true)
}

// releaseReseed allows the seeding operation to be called again.
func (r *RNG) releaseReseed() {
	r.reseedInProgress.Store(false)
}

// availEntropy returns the current credited entropy estimate across all
// sources in bits.
func (r *RNG) availEntropy() uint32 {
	bits := r.irq.availEntropy() + r.sched.availEntropy()
	bits += r.aux.entropyBits.Load()
	return bits
}

// fillSeedBuffer concatenates the output of the entropy sources into the
// seed buffer and returns the total credited entropy in bits, capped at
// requestedBits. The caller must hold the reseed lock.
func (r *RNG) fillSeedBuffer(eb *entropyBuffer, requestedBits uint32, fullySeeded bool) uint32 {
	// Require at least the minimum seed entropy for any reseed once fully
	// seeded; partial reseeds would only drain the pools.
	if fullySeeded && r.availEntropy() < MinSeedEntropyBits+ConditioningEntropyLoss {
		r.writerWakeup()
		return 0
	}

	total := r.poolHash(r.irq, eb.irq[:], requestedBits, fullySeeded, true)
	total += r.poolHash(r.sched, eb.sched[:], requestedBits, fullySeeded, false)
	total += r.archGetEnt(eb.arch[:], requestedBits)
	total += r.jentGetEnt(eb.jent[:], requestedBits)

	if total > requestedBits {
		total = requestedBits
	}

	eb.now = r.cfg.TimeSource()

	// Allow the external entropy providers to furnish seed again: user
	// writes may be credited once per reseed cycle, and a hardware-RNG
	// writer throttled on full pools may resume.
	r.hwSeedAllowed.Store(true)
	r.userSeedAllowed.Store(true)

	r.writerWakeup()

	return total
}

// poolHash hashes all per-CPU pools of one collector (and, for the interrupt
// source, the auxiliary pool) into out and returns the credited entropy in
// bits.
//
// Even when sufficient entropy has been collected early, every remaining
// online lane is still drained and absorbed: the mixing itself is wanted for
// forward secrecy, only the crediting stops.
func (r *RNG) poolHash(c *collector, out []byte, requestedBits uint32, fullySeeded, withAux bool) uint32 {
	hcb, _ := r.drngInit.callbacks()
	shash, err := hcb.Alloc()
	if err != nil {
		c.log.WithError(err).Warn("seed hash initialization failed")
		return 0
	}
	defer shash.Zero()

	var (
		collectedBits   uint32
		collectedEvents uint32
		digest          [maxDigestSize]byte
		auxSnap         [maxDigestSize]byte
	)

	if withAux {
		snap := r.aux.snapshot(auxSnap[:0])
		if err := shash.Update(snap); err != nil {
			c.log.WithError(err).Warn("absorbing auxiliary pool failed")
			return 0
		}

		// The LFSR conditioner holds the zero-credit hot-path mixings;
		// fold its state in alongside the auxiliary pool.
		r.lfsrMu.Lock()
		lfsrErr := shash.Update(r.lfsr.pool[:])
		r.lfsrMu.Unlock()
		if lfsrErr != nil {
			c.log.WithError(lfsrErr).Warn("absorbing conditioner state failed")
			return 0
		}

		found := r.aux.takeEntropy(shash.DigestSize())
		collectedBits += found
		if collectedBits > requestedBits {
			// Collected too much; the overflow goes back into the pool.
			unused := collectedBits - requestedBits
			r.aux.giveBack(unused)
			collectedBits = requestedBits
			c.log.WithFields(logrus.Fields{
				"used":      found - unused,
				"remaining": unused,
			}).Debug("entropy used from aux pool")
		}

		zeroize(snap)
	}

	requestedEvents := c.entropyToData(requestedBits - collectedBits)

	for cpu := range c.lanes {
		if !c.laneOnline(cpu) {
			continue
		}

		// Use the callback set of the lane's locality domain; the crypto
		// switch is atomic per node only.
		nodeHash := r.nodeHashOf(cpu)
		laneCap := c.laneEventCap(nodeHash.DigestSize())

		n, found, err := c.drain(cpu, digest[:nodeHash.DigestSize()])
		if err != nil {
			continue
		}
		if err := shash.Update(digest[:n]); err != nil {
			c.log.WithError(err).WithField("cpu", cpu).Warn("absorbing lane digest failed")
			continue
		}

		if found > laneCap {
			found = laneCap
		}

		collectedEvents += found
		if collectedEvents > requestedEvents {
			surplus := collectedEvents - requestedEvents
			c.eventsPushBack(cpu, surplus, laneCap)
			collectedEvents = requestedEvents
			c.log.WithFields(logrus.Fields{
				"cpu":    cpu,
				"used":   found - surplus,
				"unused": surplus,
			}).Debug("events used from per-CPU entropy pool")
		}
	}

	n, err := shash.Final(digest[:shash.DigestSize()])
	if err != nil {
		c.log.WithError(err).Warn("finalizing seed hash failed")
		zeroize(digest[:])
		return 0
	}

	// The digest doubles as the new auxiliary pool state: past pool reads
	// cannot be reconstructed from it.
	if withAux {
		r.aux.setState(digest[:n])
	}

	copy(out, digest[:n])
	zeroize(digest[:])

	if !c.health.sp80090bStartupComplete() {
		// Mixed in, but not credited before the startup run completes.
		collectedEvents = 0
	}

	collectedBits += c.dataToEntropy(collectedEvents)

	// Deduct the conditioning loss for the event credit that went through
	// the hash conditioner, unless that would underflow the credit. The
	// auxiliary pool repays its loss through the raised reseed thresholds.
	if collectedEvents > 0 {
		if collectedBits > ConditioningEntropyLoss {
			collectedBits -= ConditioningEntropyLoss
		} else {
			collectedBits = 0
		}
	}

	if collectedBits > requestedBits {
		collectedBits = requestedBits
	}

	c.log.WithFields(logrus.Fields{
		"bits":   collectedBits,
		"events": collectedEvents,
	}).Debug("entropy obtained from per-CPU pools")

	return collectedBits
}

// archGetEnt reads the CPU/arch random source into out. The bytes are always
// mixed; they are credited as entropy only when the configuration trusts the
// source.
func (r *RNG) archGetEnt(out []byte, requestedBits uint32) uint32 {
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		r.log.WithError(err).Debug("arch random source unavailable")
		return 0
	}
	if !r.cfg.TrustCPU {
		return 0
	}
	bits := uint32(len(out)) << 3
	if bits > requestedBits {
		bits = requestedBits
	}
	return bits
}

// jentEntropyBits is the conservative credit for one jitter block.
const jentEntropyBits = 16

// jentGetEnt collects timing-jitter bytes into out. Execution-time
// variations of a memory-touching loop provide the noise; the credit is a
// fixed conservative rate well below the collected size.
func (r *RNG) jentGetEnt(out []byte, requestedBits uint32) uint32 {
	for i := range out {
		var acc uint32
		for j := 0; j < 8; j++ {
			acc = acc<<5 | acc>>27
			acc ^= jitterSample(r.cfg.TimeSource)
		}
		out[i] = byte(acc)
	}

	bits := uint32(jentEntropyBits)
	if bits > requestedBits {
		bits = requestedBits
	}
	return bits
}

// jitterSample measures one timing delta around a small memory walk.
func jitterSample(ts func() uint32) uint32 {
	t1 := ts()
	var buf [64]byte
	for i := range buf {
		buf[i] = byte(i) ^ byte(t1)
	}
	t2 := ts()
	return (t2 - t1) ^ uint32(buf[t2&63])
}

// writerWakeup unblocks hardware-RNG writers throttled on a full pool.
func (r *RNG) writerWakeup() {
	select {
	case r.writerCh <- struct{}{}:
	default:
	}
}

// needEntropy reports whether the pools have room for more write entropy.
func (r *RNG) needEntropy() bool {
	return r.availEntropy() < writeWakeupBits
}

// writeWakeupBits is the fill level below which throttled writers resume.
const writeWakeupBits = SecurityStrengthBits * 2

// timeNow returns the wall-clock time; split out for test injection.
var timeNow = time.Now
