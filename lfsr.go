// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import "math/bits"

// lfsrStateSize is the LFSR pool width. The LFSR output is never truncated,
// so the state is sized to the DRNG security strength.
const lfsrStateSize = SecurityStrengthBytes

// lfsrPolynomial holds the taps of a primitive and irreducible polynomial
// for a 32-byte state, taken from "Table of Linear Feedback Shift Registers"
// by Ward and Molteno. Tap values are smaller by one than in the
// documentation because they index an array starting at zero.
var lfsrPolynomial = [4]uint32{31, 29, 25, 24}

// lfsrState is the auxiliary-pool mixer. It is the zero-allocation hot-path
// conditioner for zero-credit randomness (device identity data, input
// events); credited entropy goes through the hash pools instead.
type lfsrState struct {
	ptr         uint32
	inputRotate uint32
	pool        [lfsrStateSize]byte
}

// mixByte folds one byte into the pool.
//
// The write pointer advances by a prime stride of 13 so that words spaced
// apart are processed rather than adjacent ones; some taps lie close
// together and adjacent mixing would correlate fresh input with the taps.
// The input rotates by 3 bits per step (6 when the pointer wraps to zero)
// to spread input bits across the pool evenly.
func (l *lfsrState) mixByte(value byte) {
	ptr := (l.ptr + 13) & lfsrPolynomial[0]
	l.ptr = ptr

	rot := uint32(3)
	if ptr == 0 {
		rot = 6
	}
	l.inputRotate = (l.inputRotate + rot) & 7
	word := bits.RotateLeft8(value, int(l.inputRotate))

	word ^= l.pool[ptr]
	word ^= l.pool[(ptr+lfsrPolynomial[0])&lfsrPolynomial[0]]
	word ^= l.pool[(ptr+lfsrPolynomial[1])&lfsrPolynomial[0]]
	word ^= l.pool[(ptr+lfsrPolynomial[2])&lfsrPolynomial[0]]
	word ^= l.pool[(ptr+lfsrPolynomial[3])&lfsrPolynomial[0]]

	l.pool[ptr] = word
}

// mix folds a byte buffer into the pool.
func (l *lfsrState) mix(buf []byte) {
	for _, b := range buf {
		l.mixByte(b)
	}
}

// mixWord folds a 32-bit value into the pool, least significant byte first.
func (l *lfsrState) mixWord(value uint32) {
	l.mixByte(byte(value))
	l.mixByte(byte(value >> 8))
	l.mixByte(byte(value >> 16))
	l.mixByte(byte(value >> 24))
}

// zero wipes the pool and resets the cursors.
func (l *lfsrState) zero() {
	*l = lfsrState{}
}
