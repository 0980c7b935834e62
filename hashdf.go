// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import "encoding/binary"

// SP 800-90A section 10.3.1 hash-df derivation function over the auxiliary
// pool image.
//
// The hashed buffer is a fixed linear layout: a one-byte counter, three
// bytes of padding, the requested bit count big-endian, the pool image, and
// a trailing zero region that rounds the buffer up to whole compression
// blocks. The compression function is the raw SHA-1 block operation without
// length padding — the buffer is always a whole number of blocks — with the
// state words serialized in little-endian order. Wire compatibility with the
// historical conditioner vectors pins both choices down.

const (
	hashDFBlockSize  = 64
	hashDFDigestSize = 20
	hashDFTrailer    = 64 - 8 // trailing state region minus header
)

// hashDFPoolBytes returns the pool image size for a slot-array exponent.
func hashDFPoolBytes(poolSizeLog2 uint32) int {
	return 16 << poolSizeLog2
}

// shaInit is the SHA-1 initial state.
var shaInit = [5]uint32{0x67452301, 0xEFCDAB89, 0x98BADCFE, 0x10325476, 0xC3D2E1F0}

// shaCompress folds one 64-byte block into the state.
func shaCompress(h *[5]uint32, blk []byte) {
	var w [80]uint32
	for i := 0; i < 16; i++ {
		w[i] = binary.BigEndian.Uint32(blk[4*i:])
	}
	for i := 16; i < 80; i++ {
		x := w[i-3] ^ w[i-8] ^ w[i-14] ^ w[i-16]
		w[i] = x<<1 | x>>31
	}

	a, b, c, d, e := h[0], h[1], h[2], h[3], h[4]
	for i := 0; i < 80; i++ {
		var f, k uint32
		switch {
		case i < 20:
			f, k = (b&c)|(^b&d), 0x5A827999
		case i < 40:
			f, k = b^c^d, 0x6ED9EBA1
		case i < 60:
			f, k = (b&c)|(b&d)|(c&d), 0x8F1BBCDC
		default:
			f, k = b^c^d, 0xCA62C1D6
		}
		t := (a<<5 | a>>27) + f + e + k + w[i]
		e, d, c, b, a = d, c, b<<30|b>>2, a, t
	}

	h[0] += a
	h[1] += b
	h[2] += c
	h[3] += d
	h[4] += e
}

// hashDF expands the pool image into requestedBits of output. The counter
// starts at one and must not wrap. Returns the number of bits generated.
func hashDF(pool []byte, out []byte, requestedBits uint32) uint32 {
	requestedBytes := requestedBits >> 3
	if int(requestedBytes) > len(out) {
		requestedBytes = uint32(len(out))
	}

	buf := make([]byte, 8+len(pool)+hashDFTrailer)
	binary.BigEndian.PutUint32(buf[4:8], requestedBytes<<3)
	copy(buf[8:], pool)

	var (
		counter   byte = 1
		generated uint32
	)
	for requestedBytes > 0 {
		// The counter must not wrap.
		if counter == 0 {
			break
		}
		buf[0] = counter

		h := shaInit
		for off := 0; off < len(buf); off += hashDFBlockSize {
			shaCompress(&h, buf[off:off+hashDFBlockSize])
		}

		var digest [hashDFDigestSize]byte
		for i, word := range h {
			binary.LittleEndian.PutUint32(digest[4*i:], word)
		}

		tocopy := requestedBytes
		if tocopy > hashDFDigestSize {
			tocopy = hashDFDigestSize
		}
		copy(out[generated:], digest[:tocopy])
		generated += tocopy
		requestedBytes -= tocopy
		counter++
	}

	zeroize(buf)
	return generated << 3
}
