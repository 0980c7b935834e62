// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

// Package poolhash provides the hash callback sets used by the per-CPU
// entropy pools and the seed conditioner.
//
// SHA256 is the default set. BLAKE2b is the switchable alternative; it
// exists primarily to exercise the hash hot-swap path with a digest of the
// same width but a different construction.
//
// This package is part of the experimental "x" modules and may be subject to change.
package poolhash

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"

	"github.com/sixafter/lrng/x/crypto/callback"
)

type sha256Set struct{}

// SHA256 returns the SHA-256 hash callback set.
func SHA256() callback.Hash {
	return sha256Set{}
}

func (sha256Set) Name() string    { return "sha256" }
func (sha256Set) DigestSize() int { return sha256.Size }

func (sha256Set) Alloc() (callback.HashState, error) {
	return &state{h: sha256.New(), size: sha256.Size}, nil
}

type blake2bSet struct{}

// BLAKE2b returns the BLAKE2b-256 hash callback set.
func BLAKE2b() callback.Hash {
	return blake2bSet{}
}

func (blake2bSet) Name() string    { return "blake2b-256" }
func (blake2bSet) DigestSize() int { return blake2b.Size256 }

func (blake2bSet) Alloc() (callback.HashState, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("poolhash: blake2b setup: %w", err)
	}
	return &state{h: h, size: blake2b.Size256}, nil
}

// state adapts a stdlib-shaped hash.Hash to the callback contract. The sum
// buffer is reused across Final calls to keep the reseed path allocation
// free after warm-up.
type state struct {
	h    hash.Hash
	sum  []byte
	size int
}

func (s *state) DigestSize() int { return s.size }

func (s *state) Init() error {
	s.h.Reset()
	return nil
}

func (s *state) Update(in []byte) error {
	_, err := s.h.Write(in)
	return err
}

func (s *state) Final(out []byte) (int, error) {
	if len(out) < s.size {
		return 0, fmt.Errorf("poolhash: digest buffer holds %d of %d bytes", len(out), s.size)
	}
	s.sum = s.h.Sum(s.sum[:0])
	n := copy(out, s.sum)
	return n, nil
}

func (s *state) Zero() {
	for i := range s.sum {
		s.sum[i] = 0
	}
	s.h.Reset()
}
