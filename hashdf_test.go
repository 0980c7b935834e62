// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Test_HashDF_RegressionVector expands an all-zero pool image sized for
// pool_size_log2 = 2 and compares against the historical conditioner
// vector, with the counter starting at one.
func Test_HashDF_RegressionVector(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	expected := []byte{
		0x65, 0x48, 0xc4, 0xb3, 0x4d, 0x9c, 0xec, 0xd7,
		0x69, 0x72, 0xf7, 0x8b, 0x35, 0x23, 0xa8, 0x9a,
		0xb2, 0xe8, 0x83, 0xf8, 0xba, 0x32, 0x76, 0xae,
		0xed, 0xe2, 0x94, 0x6a, 0x93, 0x99, 0x6e, 0xce,
		0xd5, 0xb5, 0xc5, 0x16, 0xa7, 0x8d, 0xc8, 0xd3,
		0xe9, 0xdd, 0x4f, 0xca,
	}

	pool := make([]byte, hashDFPoolBytes(2))
	out := make([]byte, len(expected))

	generated := hashDF(pool, out, uint32(len(expected))<<3)

	is.Equal(uint32(len(expected))<<3, generated)
	is.Equal(expected, out)
}

// Test_HashDF_PoolSensitivity flips one pool bit and expects a different
// expansion.
func Test_HashDF_PoolSensitivity(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	a := make([]byte, hashDFPoolBytes(3))
	b := make([]byte, hashDFPoolBytes(3))
	b[17] ^= 0x01

	outA := make([]byte, 64)
	outB := make([]byte, 64)
	hashDF(a, outA, 512)
	hashDF(b, outB, 512)

	is.NotEqual(outA, outB)
}

// Test_HashDF_TruncatedOutput produces exactly the requested amount even
// when it is not a digest multiple.
func Test_HashDF_TruncatedOutput(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	pool := make([]byte, hashDFPoolBytes(3))
	out := make([]byte, 24)
	generated := hashDF(pool, out, 24<<3)

	is.Equal(uint32(24<<3), generated)
}
