// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

// Package ccdrng provides the default ChaCha20-based DRNG callback set.
//
// The construction is a fast-key-erasure stream generator: every Generate
// call first draws the next 32-byte key from the keystream and only then the
// caller's output, so the retained state never permits recovery of bytes that
// were already handed out. Seeding folds caller material into the key 32
// bytes at a time, with an erasure round between chunks so that the final key
// depends on every chunk and on the prior state.
//
// This set is the one DRNG that is always available: the core keeps its
// atomic-context instance permanently on it, and callback switching falls
// back to it when an alternative set is deregistered.
//
// This package is part of the experimental "x" modules and may be subject to change.
package ccdrng

import (
	"fmt"

	"golang.org/x/crypto/chacha20"

	"github.com/sixafter/lrng/x/crypto/callback"
)

// name is the identifier reported for this callback set.
const name = "chacha20"

var (
	ErrStrengthTooLarge = fmt.Errorf("ccdrng: requested security strength exceeds %d bytes", chacha20.KeySize)
)

type drng struct{}

// New returns the ChaCha20 DRNG callback set.
func New() callback.DRNG {
	return drng{}
}

func (drng) Name() string { return name }

// Alloc allocates a zero-keyed generator state. The state is deterministic
// until the first Seed call; the core always seeds before credited output is
// produced.
func (drng) Alloc(secStrengthBytes int) (callback.DRNGState, error) {
	if secStrengthBytes > chacha20.KeySize {
		return nil, ErrStrengthTooLarge
	}
	return &state{}, nil
}

// state is a single fast-key-erasure ChaCha20 generator.
type state struct {
	key [chacha20.KeySize]byte
}

// block runs one keystream block sequence: the first 32 bytes of keystream
// become the next key, the remainder fills out.
func (s *state) block(out []byte) error {
	var nonce [chacha20.NonceSize]byte

	c, err := chacha20.NewUnauthenticatedCipher(s.key[:], nonce[:])
	if err != nil {
		return fmt.Errorf("ccdrng: cipher setup: %w", err)
	}

	var next [chacha20.KeySize]byte
	c.XORKeyStream(next[:], next[:])
	if len(out) > 0 {
		for i := range out {
			out[i] = 0
		}
		c.XORKeyStream(out, out)
	}

	// Key erasure: the previous key is unrecoverable from here on.
	s.key = next
	return nil
}

// Seed folds seed material into the key. Material is consumed in 32-byte
// chunks; each chunk is XOR-ed into the key followed by an erasure round so
// the resulting key depends on the entire input and the prior state.
func (s *state) Seed(seed []byte) error {
	for len(seed) > 0 {
		n := len(seed)
		if n > chacha20.KeySize {
			n = chacha20.KeySize
		}
		for i := 0; i < n; i++ {
			s.key[i] ^= seed[i]
		}
		if err := s.block(nil); err != nil {
			return err
		}
		seed = seed[n:]
	}
	return nil
}

// Generate produces len(out) bytes of keystream output.
func (s *state) Generate(out []byte) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}
	if err := s.block(out); err != nil {
		return 0, err
	}
	return len(out), nil
}

// Zero wipes the key.
func (s *state) Zero() {
	for i := range s.key {
		s.key[i] = 0
	}
}
