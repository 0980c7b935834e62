// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package poolhash

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Test_PoolHash_SHA256MatchesStdlib compares the callback digest against a
// direct stdlib computation.
func Test_PoolHash_SHA256MatchesStdlib(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	cb := SHA256()
	is.Equal("sha256", cb.Name())
	is.Equal(sha256.Size, cb.DigestSize())

	hs, err := cb.Alloc()
	is.NoError(err)

	data := []byte("per-cpu entropy pool content")
	is.NoError(hs.Update(data))

	digest := make([]byte, hs.DigestSize())
	n, err := hs.Final(digest)
	is.NoError(err)
	is.Equal(sha256.Size, n)

	want := sha256.Sum256(data)
	is.Equal(want[:], digest)
}

// Test_PoolHash_InitResets reuses a state across init/update/final cycles.
func Test_PoolHash_InitResets(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	hs, err := SHA256().Alloc()
	is.NoError(err)

	digestA := make([]byte, hs.DigestSize())
	digestB := make([]byte, hs.DigestSize())

	is.NoError(hs.Update([]byte("round one")))
	_, err = hs.Final(digestA)
	is.NoError(err)

	is.NoError(hs.Init())
	is.NoError(hs.Update([]byte("round one")))
	_, err = hs.Final(digestB)
	is.NoError(err)

	is.Equal(digestA, digestB)
}

// Test_PoolHash_BLAKE2b produces 32-byte digests distinct from SHA-256.
func Test_PoolHash_BLAKE2b(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	cb := BLAKE2b()
	is.Equal("blake2b-256", cb.Name())
	is.Equal(32, cb.DigestSize())

	hs, err := cb.Alloc()
	is.NoError(err)

	data := []byte("identical input")
	is.NoError(hs.Update(data))
	b2 := make([]byte, 32)
	_, err = hs.Final(b2)
	is.NoError(err)

	sha := sha256.Sum256(data)
	is.NotEqual(sha[:], b2)
}

// Test_PoolHash_FinalBufferTooSmall rejects undersized digest buffers.
func Test_PoolHash_FinalBufferTooSmall(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	hs, _ := SHA256().Alloc()
	is.NoError(hs.Update([]byte("x")))
	_, err := hs.Final(make([]byte, 8))
	is.Error(err)
}
