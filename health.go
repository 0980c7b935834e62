// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// healthVerdict classifies one raw sample.
type healthVerdict int

const (
	// healthPass: the sample is packed and counted.
	healthPass healthVerdict = iota

	// healthFailUse: the sample is packed but not credited.
	healthFailUse

	// healthFailDrop: the sample is discarded entirely.
	healthFailDrop
)

// SP 800-90B health test cutoffs. The repetition count test bounds runs of
// identical samples; the adaptive proportion test bounds the frequency of a
// reference value within a window. Each test has an intermittent cutoff
// (sample unusable for crediting) and a permanent cutoff (sample dropped).
const (
	rctCutoffIntermittent = 30
	rctCutoffPermanent    = 60

	aptWindowSize         = 512
	aptCutoffIntermittent = 325
	aptCutoffPermanent    = 410

	// startupSamples is the number of consecutive non-failing samples a
	// source must deliver before its entropy is credited.
	startupSamples = 1024
)

// healthState carries the SP 800-90B test state of one entropy source. The
// tests observe the raw time stamp stream of that source regardless of which
// CPU delivered the event.
type healthState struct {
	log logrus.FieldLogger

	mu sync.Mutex

	// Repetition count test.
	rctPrev  uint32
	rctCount uint32
	rctSeen  bool

	// Adaptive proportion test over the low slot bits.
	aptBase      uint32
	aptCount     uint32
	aptObserved  uint32
	aptBaseSet   bool

	// Startup gate.
	startupGood     uint32
	startupComplete bool

	enabled bool
}

func newHealthState(log logrus.FieldLogger) *healthState {
	return &healthState{log: log, enabled: true}
}

// disable turns all testing off; every sample passes and startup is treated
// as complete. Used when no high-resolution timer is present, where the
// tests would only measure the timer's coarseness.
func (h *healthState) disable() {
	h.mu.Lock()
	h.enabled = false
	h.startupComplete = true
	h.mu.Unlock()
}

// rct executes the repetition count test on the full time stamp.
func (h *healthState) rct(now uint32) healthVerdict {
	if h.rctSeen && h.rctPrev == now {
		h.rctCount++
		switch {
		case h.rctCount >= rctCutoffPermanent:
			return healthFailDrop
		case h.rctCount >= rctCutoffIntermittent:
			return healthFailUse
		}
		return healthPass
	}

	h.rctSeen = true
	h.rctPrev = now
	h.rctCount = 0
	return healthPass
}

// apt executes the adaptive proportion test on the low slot bits.
func (h *healthState) apt(now uint32) healthVerdict {
	masked := now & dataSlotSizeMask

	if !h.aptBaseSet {
		h.aptBase = masked
		h.aptBaseSet = true
		h.aptCount = 0
		h.aptObserved = 0
		return healthPass
	}

	h.aptObserved++
	if masked == h.aptBase {
		h.aptCount++
	}

	verdict := healthPass
	switch {
	case h.aptCount >= aptCutoffPermanent:
		verdict = healthFailDrop
	case h.aptCount >= aptCutoffIntermittent:
		verdict = healthFailUse
	}

	if h.aptObserved >= aptWindowSize {
		h.aptBaseSet = false
	}

	return verdict
}

// test classifies one sample and maintains the startup gate. When both tests
// would flag, the stronger verdict wins.
func (h *healthState) test(now uint32) healthVerdict {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.enabled {
		return healthPass
	}

	verdict := h.rct(now)
	if apt := h.apt(now); apt > verdict {
		verdict = apt
	}

	if verdict == healthPass {
		if !h.startupComplete {
			h.startupGood++
			if h.startupGood >= startupSamples {
				h.startupComplete = true
				h.log.WithField("samples", h.startupGood).
					Info("SP800-90B startup health testing complete")
			}
		}
	} else {
		// A failure during startup restarts the startup window; once
		// startup has completed, only a permanent failure restarts it.
		if !h.startupComplete || verdict == healthFailDrop {
			h.startupComplete = false
			h.startupGood = 0
		}
		h.log.WithFields(logrus.Fields{
			"verdict": int(verdict),
			"stamp":   now,
		}).Debug("health test failure")
	}

	return verdict
}

// sp80090bStartupComplete reports whether the source passed its startup run.
func (h *healthState) sp80090bStartupComplete() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startupComplete
}

// reset restarts the startup window and clears all test state.
func (h *healthState) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.enabled {
		return
	}
	h.rctSeen = false
	h.rctCount = 0
	h.aptBaseSet = false
	h.startupGood = 0
	h.startupComplete = false
}
