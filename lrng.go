// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// RNG is one instance of the entropy-collection and DRNG subsystem. All
// methods are safe for concurrent use.
type RNG struct {
	cfg Config
	log logrus.FieldLogger

	gcd   *gcdAnalyzer
	irq   *collector
	sched *collector
	aux   *auxPool

	// lfsr is the hot-path conditioner for zero-credit randomness.
	lfsrMu sync.Mutex
	lfsr   lfsrState

	drngInit   *drngInstance
	drngAtomic *drngInstance
	nodes      atomic.Pointer[[]*drngInstance]

	// cbMu serializes callback switching and NUMA provisioning with each
	// other and with all other configuration changes.
	cbMu sync.Mutex

	st *seedState

	reseedInProgress     atomic.Bool
	atomicSeedInProgress atomic.Bool
	reseedMaxSec         atomic.Uint32

	// One-shot permissions for external entropy providers, re-armed on
	// every reseed cycle.
	hwSeedAllowed   atomic.Bool
	userSeedAllowed atomic.Bool
	bootloaderDone  atomic.Bool

	writerCh chan struct{}
}

// New constructs a subsystem instance. The returned RNG serves uncredited
// output immediately; credited output becomes available as noise events
// arrive and the seeding stages advance.
func New(opts ...Option) (*RNG, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	r := &RNG{
		cfg:      cfg,
		log:      cfg.Logger.WithField("subsys", "lrng"),
		gcd:      newGCDAnalyzer(),
		writerCh: make(chan struct{}, 1),
	}
	r.reseedMaxSec.Store(cfg.ReseedMaxSeconds)
	r.hwSeedAllowed.Store(true)
	r.userSeedAllowed.Store(true)

	var err error
	if r.drngInit, err = newDRNGInstance(r, 0, false, cfg.DRNG, cfg.Hash); err != nil {
		return nil, err
	}
	if r.drngAtomic, err = newDRNGInstance(r, 0, true, cfg.DRNG, cfg.Hash); err != nil {
		return nil, err
	}

	r.irq = newCollector("irq", cfg.IRQEntropyBits, r)
	r.sched = newCollector("sched", cfg.SchedEntropyBits, r)
	r.aux = newAuxPool(r)

	r.st = newSeedState(r)
	r.st.reset()

	r.bootstrap()

	go r.numaAlloc()

	return r, nil
}

// bootstrap stirs the initial state with boot-time data: best-effort OS
// randomness, time stamps and host identity, expanded through the hash-df
// conditioner. Nothing here is credited as entropy.
func (r *RNG) bootstrap() {
	image := make([]byte, hashDFPoolBytes(r.cfg.PoolSizeLog2))
	defer zeroize(image)

	_, _ = io.ReadFull(rand.Reader, image)

	var l lfsrState
	l.mixWord(r.cfg.TimeSource())
	l.mixWord(uint32(timeNow().UnixNano()))
	if host, err := os.Hostname(); err == nil {
		l.mix([]byte(host))
	}
	l.mixWord(uint32(os.Getpid()))
	for i := range image {
		image[i] ^= l.pool[i%lfsrStateSize]
	}
	l.zero()

	var seed [SecurityStrengthBytes]byte
	defer zeroize(seed[:])
	hashDF(image, seed[:], SecurityStrengthBits)

	if err := r.aux.insert(seed[:], 0); err != nil {
		r.log.WithError(err).Warn("bootstrap mixing into aux pool failed")
	}
	_ = r.drngInit.inject(seed[:], 0)
	_ = r.drngAtomic.inject(seed[:], 0)

	// The bootstrap data carries no credited entropy; both instances must
	// still reseed from the sources before credited output.
	r.drngInit.forceReseed.Store(true)
	r.drngAtomic.forceReseed.Store(true)
}

/**************************** Event inputs ***********************************/

// AddInterruptEvent feeds one interrupt arrival into the interrupt entropy
// source. Hot path: bounded work, no blocking.
func (r *RNG) AddInterruptEvent(irq, flags int) {
	cpu := int(uint32(irq)) % r.cfg.CPUs
	r.irq.addSample(cpu, r.cfg.TimeSource())

	if !r.cfg.HighResTimer {
		// Without a high-resolution time stamp, auxiliary interrupt data
		// compensates. The XOR does not destroy entropy; the entirety of
		// the processed values delivers it, not each value separately.
		word := uint32(irq) ^ uint32(flags)<<16 ^ uint32(timeNow().Unix())
		r.irq.addAuxWord(cpu, word)
	}
}

// AddSchedulerEvent feeds one context switch into the scheduler entropy
// source. Hot path: bounded work, no blocking.
func (r *RNG) AddSchedulerEvent(taskID uint64, cpu int) {
	if cpu < 0 {
		cpu = -cpu
	}
	cpu = cpu % r.cfg.CPUs
	r.sched.addSample(cpu, r.cfg.TimeSource())

	if !r.cfg.HighResTimer {
		r.sched.addAuxWord(cpu, uint32(taskID)^uint32(taskID>>32))
	}
}

// AddHWGeneratorBytes inserts output of a hardware RNG into the auxiliary
// pool, crediting entropyBits as asserted by the driver. With maySleep the
// call throttles while the pools are full, resuming when entropy is needed
// or the provider's once-per-reseed slot opens.
func (r *RNG) AddHWGeneratorBytes(buf []byte, entropyBits uint32, maySleep bool) error {
	if len(buf) == 0 {
		return nil
	}

	for maySleep && !r.needEntropy() && !r.hwSeedAllowed.Load() {
		<-r.writerCh
	}
	r.hwSeedAllowed.Store(false)

	if max := uint32(len(buf)) << 3; entropyBits > max {
		entropyBits = max
	}
	if err := r.aux.insert(buf, entropyBits); err != nil {
		return err
	}
	r.st.poolAddEntropy(entropyBits)
	return nil
}

// AddUserRandomness inserts caller-provided data into the auxiliary pool.
// Entropy is credited only as asserted and only within the provider's
// once-per-reseed slot, so user input can neither dominate nor starve the
// internal sources.
func (r *RNG) AddUserRandomness(buf []byte, entropyBits uint32) error {
	if len(buf) == 0 {
		return nil
	}
	if entropyBits > 0 && !r.userSeedAllowed.Swap(false) {
		entropyBits = 0
	}
	if max := uint32(len(buf)) << 3; entropyBits > max {
		entropyBits = max
	}
	if err := r.aux.insert(buf, entropyBits); err != nil {
		return err
	}
	if entropyBits > 0 {
		r.st.poolAddEntropy(entropyBits)
	}
	return nil
}

// AddDeviceRandomness mixes device-identity data into the conditioner with
// zero entropy credit. Hot path.
func (r *RNG) AddDeviceRandomness(buf []byte) {
	now := r.cfg.TimeSource()
	r.lfsrMu.Lock()
	r.lfsr.mix(buf)
	r.lfsr.mixWord(now)
	r.lfsrMu.Unlock()
}

// AddInputEvent mixes one input-subsystem event into the conditioner with
// zero entropy credit. Hot path.
func (r *RNG) AddInputEvent(typ, code, value uint32) {
	now := r.cfg.TimeSource()
	r.lfsrMu.Lock()
	r.lfsr.mixWord(typ ^ code ^ value)
	r.lfsr.mixWord(now)
	r.lfsrMu.Unlock()
}

// AddBootloaderRandomness inserts bootloader-provided seed material once.
// The bytes are credited only when both the caller and the configuration
// trust the bootloader. Subsequent calls are ignored.
func (r *RNG) AddBootloaderRandomness(buf []byte, trust bool) error {
	if r.bootloaderDone.Swap(true) {
		return nil
	}
	var bits uint32
	if trust && r.cfg.TrustBootloader {
		bits = uint32(len(buf)) << 3
	}
	if err := r.aux.insert(buf, bits); err != nil {
		return err
	}
	if bits > 0 {
		r.st.poolAddEntropy(bits)
	}
	return nil
}

/**************************** Output queries *********************************/

// GetRandomBytes fills buf from the atomic-context instance. It never
// blocks and never pulls from the entropy sources; callers needing seeding
// guarantees use GetRandomBytesMin or GetRandomBytesFull.
func (r *RNG) GetRandomBytes(buf []byte) (int, error) {
	return r.drngAtomic.generate(buf)
}

// GetRandomBytesMin fills buf once the subsystem is minimally seeded,
// blocking until then. Cancellation of ctx returns ErrInterrupted.
func (r *RNG) GetRandomBytesMin(ctx context.Context, buf []byte) (int, error) {
	if err := r.st.waitMinSeeded(ctx); err != nil {
		return 0, err
	}
	return r.nodeDRNGOf(0).generate(buf)
}

// GetRandomBytesFull fills buf once the subsystem is fully seeded and
// operational, blocking until then. Cancellation of ctx returns
// ErrInterrupted.
func (r *RNG) GetRandomBytesFull(ctx context.Context, buf []byte) (int, error) {
	if err := r.st.waitOperational(ctx); err != nil {
		return 0, err
	}
	return r.nodeDRNGOf(0).generate(buf)
}

// GetRandomBytesPR serves bytes backed by a fresh reseed from the entropy
// sources: the DRNG is reseeded first and at most as many bytes as the
// credited entropy covers are produced. It does not block on entropy;
// when the sources cannot currently satisfy any of the request, zero bytes
// are returned. A concurrently running reseed yields ErrInProgress.
func (r *RNG) GetRandomBytesPR(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if !r.tryReseedLock() {
		return 0, ErrInProgress
	}

	d := r.nodeDRNGOf(0)

	var (
		eb  entropyBuffer
		raw [entropyBufferSize]byte
	)
	bits := r.fillSeedBuffer(&eb, SecurityStrengthBits, d.fullySeeded.Load())
	r.releaseReseed()
	r.st.initOps(bits)

	err := d.inject(eb.bytes(raw[:0]), bits)
	eb.zeroize()
	zeroize(raw[:])
	if err != nil {
		return 0, err
	}

	n := int(bits >> 3)
	if n > len(buf) {
		n = len(buf)
	}
	if n == 0 {
		return 0, nil
	}
	return d.generate(buf[:n])
}

// SeedFlags modify GetSeed.
type SeedFlags uint32

const (
	// SeedNonblock converts block-until-seeded into ErrAgain.
	SeedNonblock SeedFlags = 1 << iota

	// SeedFullySeeded requests runtime-rate entropy for reseeding an
	// already fully seeded DRNG rather than initial-seeding rate.
	SeedFullySeeded

	seedFlagsMask = SeedNonblock | SeedFullySeeded
)

// GetSeed copies a seed record into out. The record layout is a 64-bit seed
// length, a 64-bit entropy statement in bits for the seed data, and the
// seed bytes, in little-endian byte order.
//
// A buffer smaller than the length field yields ErrBufferTooSmall. A buffer
// holding the length field but not the payload gets the length written and
// ErrMessageSize returned; the generator state is not perturbed. Without
// SeedNonblock the call blocks until the subsystem is seeded; with it,
// ErrAgain is returned instead.
func (r *RNG) GetSeed(ctx context.Context, out []byte, flags SeedFlags) (int, error) {
	if flags&^seedFlagsMask != 0 {
		return 0, ErrInvalidArgument
	}
	if len(out) < 8 {
		return 0, ErrBufferTooSmall
	}

	need := 16 + entropyBufferSize
	binary.LittleEndian.PutUint64(out[:8], uint64(entropyBufferSize))
	if len(out) < need {
		return 0, ErrMessageSize
	}

	if !r.st.minSeededState() {
		if flags&SeedNonblock != 0 {
			return 0, ErrAgain
		}
		if err := r.st.waitMinSeeded(ctx); err != nil {
			return 0, err
		}
	}

	for !r.tryReseedLock() {
		if flags&SeedNonblock != 0 {
			return 0, ErrAgain
		}
		select {
		case <-ctx.Done():
			return 0, ErrInterrupted
		case <-time.After(time.Millisecond):
		}
	}

	var eb entropyBuffer
	bits := r.fillSeedBuffer(&eb, SecurityStrengthBits, flags&SeedFullySeeded != 0)
	r.releaseReseed()

	binary.LittleEndian.PutUint64(out[8:16], uint64(bits))
	eb.bytes(out[16:16])
	eb.zeroize()

	return need, nil
}

// WaitForSeeded blocks until the subsystem is minimally seeded.
// Cancellation of ctx returns ErrInterrupted.
func (r *RNG) WaitForSeeded(ctx context.Context) error {
	return r.st.waitMinSeeded(ctx)
}

/**************************** State queries **********************************/

// MinSeeded reports whether at least MinSeedEntropyBits have been credited.
func (r *RNG) MinSeeded() bool { return r.st.minSeededState() }

// FullySeeded reports whether FullSeedEntropyBits have been credited.
func (r *RNG) FullySeeded() bool { return r.st.fullySeeded() }

// Operational reports whether the subsystem is fully seeded and the
// SP 800-90B startup testing has completed.
func (r *RNG) Operational() bool { return r.st.operationalState() }

// AvailEntropyBits returns the current credited entropy estimate.
func (r *RNG) AvailEntropyBits() uint32 { return r.availEntropy() }

// ForceReseedAll marks every DRNG instance, the atomic one included, for a
// reseed from fresh state before its next generate.
func (r *RNG) ForceReseedAll() {
	r.forceReseedAll()
}

// Reset discards all seeding progress: stage booleans fall back, entropy
// estimators restart, and every instance reseeds before further credited
// output. Pool data that may or may not carry entropy is left in place.
func (r *RNG) Reset() {
	r.st.reset()
	r.irq.reset()
	r.sched.reset()
	r.aux.entropyBits.Store(0)

	for _, d := range r.allNodeInstances() {
		if d != nil {
			d.reset()
		}
	}
	r.drngAtomic.reset()
	r.log.Debug("reset LRNG")
}
