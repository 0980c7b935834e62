// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// seedState tracks the seeding stages of the subsystem and drives the reseed
// work. Stage booleans transition to true exactly once; only an explicit
// reset clears them. Waiters block on channels that are closed on the
// transition and recreated on reset.
type seedState struct {
	r *RNG

	mu          sync.Mutex
	minSeeded   bool
	fullSeeded  bool
	operational bool
	allNUMA     bool
	seedBits    uint32 // cumulative credited bits until fully seeded
	minCh       chan struct{}
	opCh        chan struct{}

	// events aggregates health-passing samples across all sources, plus
	// the event equivalent of externally credited entropy, since the reseed
	// work was last scheduled; crossing threshEvents schedules the reseed
	// work.
	events       atomic.Uint32
	threshEvents atomic.Uint32
}

func newSeedState(r *RNG) *seedState {
	s := &seedState{
		r:     r,
		minCh: make(chan struct{}),
		opCh:  make(chan struct{}),
	}
	return s
}

func (s *seedState) minSeededState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minSeeded
}

func (s *seedState) fullySeeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullSeeded
}

func (s *seedState) operationalState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.operational
}

func (s *seedState) allNUMASeeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allNUMA
}

func (s *seedState) setAllNUMASeeded() {
	s.mu.Lock()
	s.allNUMA = true
	s.mu.Unlock()
}

// setEntropyThresh arms the reseed trigger at the event count equivalent to
// the given entropy target.
func (s *seedState) setEntropyThresh(bits uint32) {
	s.threshEvents.Store(s.r.irq.entropyToData(bits))
}

// poolAddEvents accounts freshly collected noise events and schedules the
// reseed work once the threshold is crossed. After every online NUMA node is
// fully seeded, event-count triggers stop scheduling work; time- and
// request-based triggers on the generate path take over.
func (s *seedState) poolAddEvents(n uint32) {
	events := s.events.Add(n)

	if s.allNUMASeeded() {
		return
	}
	if events < s.threshEvents.Load() {
		return
	}
	if !s.r.tryReseedLock() {
		return
	}
	s.events.Store(0)
	go s.r.seedWork()
}

// poolAddEntropy accounts externally credited entropy in bits.
func (s *seedState) poolAddEntropy(bits uint32) {
	s.poolAddEvents(s.r.irq.entropyToData(bits))
}

// seedWork is the reseed work handler. It walks the nodes in order and
// seeds the first instance that is not yet fully seeded; remaining nodes are
// picked up by subsequent triggers. Once every node is fully seeded the
// NUMA latch closes and the bootloader one-shot is consumed for good.
func (r *RNG) seedWork() {
	defer r.releaseReseed()

	if nodes := r.nodes.Load(); nodes != nil {
		for node, d := range *nodes {
			if d == nil || d.fullySeeded.Load() {
				continue
			}
			r.log.WithField("node", node).
				Debug("reseed triggered by noise sources")
			d.seedFromSources()
			if d.fullySeeded.Load() {
				// Stagger the next time-based reseed per node and relax
				// the reseed interval to prevent a reseed storm draining
				// the pools on idle systems.
				d.lastSeeded.Add(int64(node) * 100 * int64(time.Second))
				r.reseedMaxSec.Add(100)
			}
			return
		}
		r.st.setAllNUMASeeded()
		r.bootloaderDone.Store(true)
	} else if !r.drngInit.fullySeeded.Load() {
		r.drngInit.seedFromSources()
	}
}

// initOps advances the seeding stages for freshly credited seed entropy.
// Credited bits accumulate until the fully seeded stage; each stage
// transition rearms the event threshold for the next target and wakes the
// corresponding waiters.
func (s *seedState) initOps(seedBits uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.operational {
		return
	}

	s.seedBits += seedBits
	total := s.seedBits

	switch {
	case s.fullSeeded:
		s.operational = s.r.irq.health.sp80090bStartupComplete()
		if s.operational {
			close(s.opCh)
		}

	case total >= FullSeedEntropyBits:
		s.fullSeeded = true
		if !s.minSeeded {
			s.minSeeded = true
			close(s.minCh)
		}
		s.operational = s.r.irq.health.sp80090bStartupComplete()
		if s.operational {
			close(s.opCh)
		}
		s.setEntropyThresh(FullSeedEntropyBits + ConditioningEntropyLoss)
		s.r.log.WithField("bits", total).Info("LRNG fully seeded")

	case !s.minSeeded && total >= MinSeedEntropyBits:
		s.minSeeded = true
		close(s.minCh)
		s.setEntropyThresh(FullSeedEntropyBits + ConditioningEntropyLoss)
		s.r.log.WithField("bits", total).Info("LRNG minimally seeded")

	case !s.minSeeded && total >= InitEntropyBits:
		s.setEntropyThresh(MinSeedEntropyBits + ConditioningEntropyLoss)
		s.r.log.WithField("bits", total).Debug("LRNG initial entropy level reached")
	}
}

// reset clears all seeding state: the stage booleans fall back to false,
// the entropy estimators restart, and every DRNG instance reseeds before
// its next use.
func (s *seedState) reset() {
	s.mu.Lock()
	// Replace only closed channels; waiters parked on a still-open channel
	// keep waiting for the next genuine transition.
	if s.minSeeded {
		s.minCh = make(chan struct{})
	}
	if s.operational {
		s.opCh = make(chan struct{})
	}
	s.minSeeded = false
	s.fullSeeded = false
	s.operational = false
	s.allNUMA = false
	s.seedBits = 0
	s.mu.Unlock()

	s.events.Store(0)
	s.setEntropyThresh(InitEntropyBits + ConditioningEntropyLoss)
}

// waitMinSeeded blocks until the minimally seeded stage.
func (s *seedState) waitMinSeeded(ctx context.Context) error {
	s.mu.Lock()
	ch := s.minCh
	done := s.minSeeded
	s.mu.Unlock()
	if done {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ErrInterrupted
	}
}

// waitOperational blocks until the subsystem is fully seeded and the
// SP 800-90B startup testing has completed.
func (s *seedState) waitOperational(ctx context.Context) error {
	s.mu.Lock()
	ch := s.opCh
	done := s.operational
	s.mu.Unlock()
	if done {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ErrInterrupted
	}
}
