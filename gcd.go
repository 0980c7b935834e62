// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import (
	"sync/atomic"
)

// Some timers increment by a fixed non-1 amount each step. The GCD analyzer
// derives that static factor from a window of observed time stamps so the
// slot packing divides it out and stores bits that actually move.

// gcdWindowSize is the number of time stamps analyzed per GCD calculation.
const gcdWindowSize = 100

// gcdClamp bounds the published divisor. A larger computed GCD indicates an
// unexpected timer and is clamped rather than trusted.
const gcdClamp = 1000

type gcdAnalyzer struct {
	history [gcdWindowSize]uint32
	ptr     atomic.Int32

	// divisor is the published factor; zero until the first window has
	// been analyzed. Word-mode packing stays active while it is zero.
	divisor atomic.Uint32
}

func newGCDAnalyzer() *gcdAnalyzer {
	g := &gcdAnalyzer{}
	g.ptr.Store(-1)
	return g
}

// gcd32 is a straight forward implementation of the Euclidean algorithm.
func gcd32(a, b uint32) uint32 {
	if a < b {
		a, b = b, a
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// gcdAnalyze computes the running GCD over the window and zeroizes it.
func gcdAnalyze(history []uint32) uint32 {
	var running uint32
	for i := range history {
		running = gcd32(history[i], running)
		history[i] = 0
	}
	return running
}

// addValue feeds one time stamp into the window. When the window is full the
// GCD is computed, clamped, published as the active divisor, and the window
// pointer reset.
func (g *gcdAnalyzer) addValue(time uint32, log func(gcd uint32)) {
	ptr := g.ptr.Add(1)

	switch {
	case ptr < gcdWindowSize:
		g.history[ptr] = time
	case ptr == gcdWindowSize:
		gcd := gcdAnalyze(g.history[:])
		if gcd >= gcdClamp {
			if log != nil {
				log(gcd)
			}
			gcd = gcdClamp
		}
		g.divisor.Store(gcd)
		g.ptr.Store(0)
	}
}

// active returns the published divisor, or zero when no window has completed
// yet.
func (g *gcdAnalyzer) active() uint32 {
	return g.divisor.Load()
}
