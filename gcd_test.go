// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Test_GCD_WindowClamp feeds one window of multiples of 1024; the computed
// GCD of 1024 is clamped to 1000 when published.
func Test_GCD_WindowClamp(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	g := newGCDAnalyzer()
	is.Zero(g.active())

	var clamped uint32
	for i := uint32(1); i <= gcdWindowSize; i++ {
		g.addValue(i*1024, nil)
	}
	is.Zero(g.active(), "divisor published only after the window overflows")

	// The next stamp completes the analysis.
	g.addValue(200, func(gcd uint32) { clamped = gcd })

	is.Equal(uint32(1024), clamped)
	is.Equal(uint32(1000), g.active())
}

// Test_GCD_SmallDivisor publishes an unclamped small factor.
func Test_GCD_SmallDivisor(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	g := newGCDAnalyzer()
	for i := uint32(1); i <= gcdWindowSize+1; i++ {
		g.addValue(i*8, nil)
	}

	is.Equal(uint32(8), g.active())
}

// Test_GCD_WindowZeroized verifies the analysis wipes the history window.
func Test_GCD_WindowZeroized(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	g := newGCDAnalyzer()
	for i := uint32(1); i <= gcdWindowSize+1; i++ {
		g.addValue(i*4, nil)
	}

	is.Equal([gcdWindowSize]uint32{}, g.history)
}

// Test_GCD32 covers the Euclidean reduction including argument order and
// zero handling.
func Test_GCD32(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	is.Equal(uint32(4), gcd32(8, 12))
	is.Equal(uint32(4), gcd32(12, 8))
	is.Equal(uint32(7), gcd32(7, 0))
	is.Equal(uint32(7), gcd32(0, 7))
	is.Equal(uint32(1), gcd32(17, 13))
}
