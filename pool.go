// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// collector is one slow entropy source (interrupt or scheduler events): a
// set of per-CPU lanes, the health tester gating its samples, and the
// event-to-entropy rate of the source.
//
// The entropy collection per lane runs in two steps: time stamps fill the
// packed slot array, and a full array (or, in word mode during boot or
// without a high-resolution timer, every 32 slots) is compressed into the
// lane's hash state. Between reseeds the entropic
// content of a lane is either still in the array or absorbed in the hash,
// never counted in both places.
type collector struct {
	name   string
	log    logrus.FieldLogger
	health *healthState
	rng    *RNG

	ts    timeslots
	lanes []*lane

	// rateBits is the number of events required for SecurityStrengthBits
	// of entropy, including the oversampling factor when no
	// high-resolution timer is present.
	rateBits atomic.Uint32
}

func newCollector(name string, rate uint32, r *RNG) *collector {
	c := &collector{
		name:   name,
		log:    r.log.WithField("es", name),
		health: newHealthState(r.log.WithField("es", name)),
		rng:    r,
		ts:     newTimeslots(r.cfg.PoolSizeLog2),
		lanes:  make([]*lane, r.cfg.CPUs),
	}
	for i := range c.lanes {
		c.lanes[i] = &lane{words: make([]uint32, c.ts.numWords)}
	}

	if !r.cfg.HighResTimer {
		rate *= r.cfg.OversamplingFactor
		c.health.disable()
	}
	c.rateBits.Store(rate)

	return c
}

// entropyToData converts an entropy statement in bits into the number of
// events carrying it at this source's rate.
func (c *collector) entropyToData(bits uint32) uint32 {
	return bits * c.rateBits.Load() / SecurityStrengthBits
}

// dataToEntropy converts an event count into an entropy statement in bits.
func (c *collector) dataToEntropy(events uint32) uint32 {
	return events * SecurityStrengthBits / c.rateBits.Load()
}

// laneEventCap bounds the events one lane may have credited, by the digest
// width of the given hash set and by the slot array capacity.
func (c *collector) laneEventCap(digestSize int) uint32 {
	cap := c.entropyToData(uint32(digestSize) << 3)
	if cap > c.ts.numValues {
		cap = c.ts.numValues
	}
	return cap
}

// laneOnline reports whether the lane has an initialized pool.
func (c *collector) laneOnline(cpu int) bool {
	return c.lanes[cpu].online.Load()
}

// availEvents returns the capped sum of uncollected events in all lanes.
func (c *collector) availEvents() uint32 {
	cap := c.laneEventCap(c.rng.nodeHashOf(0).DigestSize())
	var events uint32
	for _, ln := range c.lanes {
		if !ln.online.Load() {
			continue
		}
		n := ln.events.Load()
		if n > cap {
			n = cap
		}
		events += n
	}
	return events
}

// availEntropy returns the credited entropy of uncollected events in bits.
// Sources under an incomplete SP 800-90B startup run contribute nothing.
func (c *collector) availEntropy() uint32 {
	if !c.health.sp80090bStartupComplete() {
		return 0
	}
	return c.dataToEntropy(c.availEvents())
}

// maxEntropy returns the largest entropy statement all lanes can hold.
func (c *collector) maxEntropy() uint32 {
	cap := c.laneEventCap(c.rng.nodeHashOf(0).DigestSize())
	return c.dataToEntropy(cap * uint32(len(c.lanes)))
}

// reset clears the per-lane event estimators. Pool data that may or may not
// carry entropy is left in place.
func (c *collector) reset() {
	for _, ln := range c.lanes {
		ln.events.Store(0)
	}
	c.health.reset()
}

// laneInit brings a lane online under its lock: allocate and initialize the
// hash state with the node-local callback set.
func (c *collector) laneInit(cpu int, ln *lane) bool {
	hcb := c.rng.nodeHashOf(cpu)
	hs, err := hcb.Alloc()
	if err != nil {
		c.log.WithError(err).WithField("cpu", cpu).Warn("hash initialization failed")
		return false
	}
	ln.hash = hs
	ln.online.Store(true)
	c.log.WithFields(logrus.Fields{
		"cpu":  cpu,
		"hash": hcb.Name(),
	}).Debug("per-CPU entropy pool initialized")
	return true
}

// absorb compresses the entire slot array content, used and unused slots
// alike, into the lane's hash state. Caller holds the lane lock.
func (c *collector) absorb(cpu int, ln *lane) {
	if !ln.online.Load() && !c.laneInit(cpu, ln) {
		return
	}

	var scratch [256]byte
	buf := c.ts.bytes(ln, scratch[0:0:len(scratch)])
	if err := ln.hash.Update(buf); err != nil {
		c.log.WithError(err).WithField("cpu", cpu).Warn("hashing of entropy data failed")
	}
	zeroize(buf)
}

// addSample feeds one raw time stamp into the lane belonging to cpu. It is
// the hot path: bounded work, no allocation after lane warm-up, and only the
// lane's own lock is touched.
func (c *collector) addSample(cpu int, now uint32) {
	verdict := c.health.test(now)
	if verdict == healthFailDrop {
		return
	}

	c.rng.gcd.addValue(now, func(gcd uint32) {
		c.log.WithField("gcd", gcd).Warn("calculated GCD is larger than expected")
	})

	ln := c.lanes[cpu]
	ln.mu.Lock()

	divisor := c.rng.gcd.active()
	slotMode := c.rng.cfg.HighResTimer && divisor != 0 && c.rng.st.fullySeeded()

	if slotMode {
		idx := c.ts.addSlot(ln, now/divisor)
		if c.ts.full(idx) {
			c.absorb(cpu, ln)
		}
	} else {
		// Boot or low-resolution operation: concatenate the full word and
		// compress more frequently than on full wrap.
		end, wrapped := c.ts.addWord(ln, now, func() { c.absorb(cpu, ln) })
		if !wrapped && (end&31) == 0 {
			c.absorb(cpu, ln)
		}
	}

	ln.mu.Unlock()

	if verdict == healthPass {
		ln.events.Add(1)
		c.rng.st.poolAddEvents(1)
	}
}

// addAuxWord concatenates auxiliary event data (register contents, jiffies,
// interrupt numbers) as a full word without touching the health tests or the
// event estimator. Used when no high-resolution time stamp is available.
func (c *collector) addAuxWord(cpu int, word uint32) {
	ln := c.lanes[cpu]
	ln.mu.Lock()
	end, wrapped := c.ts.addWord(ln, word, func() { c.absorb(cpu, ln) })
	if !wrapped && (end&31) == 0 {
		c.absorb(cpu, ln)
	}
	ln.mu.Unlock()
}

// drain reads one lane out for seeding: absorb the not-yet compressed array
// content, finalize the digest, re-initialize the hash, and feed the digest
// back into the fresh state so the next cycle carries the entropy forward
// while past output stays unrecoverable. The events counter is seized with
// an atomic exchange so no event is counted twice.
func (c *collector) drain(cpu int, digest []byte) (int, uint32, error) {
	ln := c.lanes[cpu]

	ln.mu.Lock()
	defer ln.mu.Unlock()

	if !ln.online.Load() {
		return 0, 0, nil
	}

	c.absorb(cpu, ln)

	n, err := ln.hash.Final(digest)
	if err == nil {
		err = ln.hash.Init()
	}
	if err == nil {
		err = ln.hash.Update(digest[:n])
	}

	events := ln.events.Swap(0)
	if err != nil {
		c.log.WithError(err).WithField("cpu", cpu).Warn("reading per-CPU entropy pool failed")
		return 0, 0, err
	}

	return n, events, nil
}

// eventsPushBack returns surplus events to a lane, never beyond the cap.
func (c *collector) eventsPushBack(cpu int, surplus, cap uint32) {
	ln := c.lanes[cpu]
	if n := ln.events.Add(surplus); n > cap {
		ln.events.Store(cap)
	}
}

// auxPool is the shared auxiliary pool: a digest-wide hash chain absorbing
// opportunistic writes (bootloader data, hardware RNG input, device identity
// data, user writes) plus an atomic entropy counter credited only when the
// writer asserts entropy.
type auxPool struct {
	rng *RNG

	mu     sync.Mutex
	digest []byte

	entropyBits atomic.Uint32
}

func newAuxPool(r *RNG) *auxPool {
	return &auxPool{
		rng:    r,
		digest: make([]byte, r.cfg.Hash.DigestSize()),
	}
}

// insert mixes buf into the pool state and credits entropyBits, capped at
// the digest width.
func (x *auxPool) insert(buf []byte, entropyBits uint32) error {
	hcb := x.rng.nodeHashOf(0)
	hs, err := hcb.Alloc()
	if err != nil {
		return err
	}

	x.mu.Lock()
	err = hs.Update(x.digest)
	if err == nil {
		err = hs.Update(buf)
	}
	if err == nil {
		if len(x.digest) != hcb.DigestSize() {
			x.digest = make([]byte, hcb.DigestSize())
		}
		_, err = hs.Final(x.digest)
	}
	x.mu.Unlock()
	hs.Zero()

	if err != nil {
		return err
	}

	if entropyBits > 0 {
		cap := uint32(hcb.DigestSize()) << 3
		if n := x.entropyBits.Add(entropyBits); n > cap {
			x.entropyBits.Store(cap)
		}
	}
	return nil
}

// takeEntropy seizes the entropy counter, capped at the digest width.
func (x *auxPool) takeEntropy(digestSize int) uint32 {
	bits := x.entropyBits.Swap(0)
	if cap := uint32(digestSize) << 3; bits > cap {
		bits = cap
	}
	return bits
}

// giveBack returns surplus entropy to the counter.
func (x *auxPool) giveBack(bits uint32) {
	if bits > 0 {
		x.entropyBits.Add(bits)
	}
}

// setState replaces the pool state with a fresh digest; used by the seed
// buffer fill whose finalize output becomes the new pool state for
// backtracking resistance.
func (x *auxPool) setState(digest []byte) {
	x.mu.Lock()
	if len(x.digest) != len(digest) {
		x.digest = make([]byte, len(digest))
	}
	copy(x.digest, digest)
	x.mu.Unlock()
}

// snapshot copies the current pool state for absorbing into a seed hash.
func (x *auxPool) snapshot(buf []byte) []byte {
	x.mu.Lock()
	buf = append(buf[:0], x.digest...)
	x.mu.Unlock()
	return buf
}

// zeroize wipes a byte buffer.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
