// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

// Package ctrdrbg provides an AES-CTR-DRBG callback set following the
// NIST SP 800-90A construction.
//
// This is the switchable alternative to the default ChaCha20 set: the core
// can install it at runtime and the node DRNG instances migrate to it without
// losing accumulated entropy; the atomic-context instance stays on the
// default set. Each generator instance uses an
// AES block cipher in counter (CTR) mode; seeding applies the CTR_DRBG update
// function so that new key and counter depend on both the injected material
// and the prior state.
//
// All cryptographic primitives are provided by the Go standard library.
package ctrdrbg

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/sixafter/lrng/x/crypto/callback"
)

// name is the identifier reported for this callback set.
const name = "aes256-ctr-drbg"

// KeySize is the AES-256 key length used by this set.
const KeySize = 32

// seedLen is the CTR_DRBG seed length: key plus one AES block for V.
const seedLen = KeySize + aes.BlockSize

var (
	ErrStrengthTooLarge = fmt.Errorf("ctrdrbg: requested security strength exceeds %d bytes", KeySize)
)

type drbg struct{}

// New returns the AES-CTR-DRBG callback set.
func New() callback.DRNG {
	return drbg{}
}

func (drbg) Name() string { return name }

// Alloc allocates a zero-keyed generator state. The core seeds it before any
// credited output is produced.
func (drbg) Alloc(secStrengthBytes int) (callback.DRNGState, error) {
	if secStrengthBytes > KeySize {
		return nil, ErrStrengthTooLarge
	}

	s := &state{}
	if err := s.rekey(); err != nil {
		return nil, err
	}
	return s, nil
}

// state holds the working key, the 128-bit counter (NIST "V") and the block
// cipher derived from the key.
type state struct {
	block cipher.Block
	key   [KeySize]byte
	v     [aes.BlockSize]byte
}

// rekey rebuilds the AES cipher from the current key.
func (s *state) rekey() error {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return fmt.Errorf("ctrdrbg: cipher setup: %w", err)
	}
	s.block = block
	return nil
}

// incV increments the counter (V) in big-endian order, rolling over as
// needed, per the SP 800-90A counter-mode discipline.
func incV(v *[aes.BlockSize]byte) {
	for i := aes.BlockSize - 1; i >= 0; i-- {
		v[i]++
		if v[i] != 0 {
			break
		}
	}
}

// update is the CTR_DRBG update function (SP 800-90A section 10.2.1.2):
// generate seedLen bytes of keystream, XOR in the provided data, and install
// the result as the new key and counter.
func (s *state) update(provided []byte) error {
	var temp [seedLen]byte

	for off := 0; off < seedLen; off += aes.BlockSize {
		incV(&s.v)
		s.block.Encrypt(temp[off:off+aes.BlockSize], s.v[:])
	}

	for i := 0; i < len(provided) && i < seedLen; i++ {
		temp[i] ^= provided[i]
	}

	copy(s.key[:], temp[:KeySize])
	copy(s.v[:], temp[KeySize:])
	for i := range temp {
		temp[i] = 0
	}

	return s.rekey()
}

// Seed injects seed material into the generator. Material longer than the
// seed length is folded in seedLen bytes at a time so that every byte
// contributes to the final state.
func (s *state) Seed(seed []byte) error {
	if len(seed) == 0 {
		return s.update(nil)
	}
	for len(seed) > 0 {
		n := len(seed)
		if n > seedLen {
			n = seedLen
		}
		if err := s.update(seed[:n]); err != nil {
			return err
		}
		seed = seed[n:]
	}
	return nil
}

// Generate fills out with keystream blocks and runs a trailing update with no
// provided data, which rotates key and counter for backtracking resistance.
func (s *state) Generate(out []byte) (int, error) {
	n := len(out)
	if n == 0 {
		return 0, nil
	}

	// Full blocks directly into the caller's buffer.
	offset := 0
	for ; offset+aes.BlockSize <= n; offset += aes.BlockSize {
		incV(&s.v)
		s.block.Encrypt(out[offset:offset+aes.BlockSize], s.v[:])
	}

	// Tail partial block through a temporary buffer.
	if tail := n - offset; tail > 0 {
		var tmp [aes.BlockSize]byte
		incV(&s.v)
		s.block.Encrypt(tmp[:], s.v[:])
		copy(out[offset:], tmp[:tail])
		for i := range tmp {
			tmp[i] = 0
		}
	}

	if err := s.update(nil); err != nil {
		return 0, err
	}
	return n, nil
}

// Zero wipes key and counter material.
func (s *state) Zero() {
	for i := range s.key {
		s.key[i] = 0
	}
	for i := range s.v {
		s.v[i] = 0
	}
	s.block = nil
}
