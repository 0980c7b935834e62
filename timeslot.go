// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import (
	"sync"
	"sync/atomic"

	"github.com/sixafter/lrng/x/crypto/callback"
)

// lane is the per-CPU collection state: the packed time-slot array and the
// hash state the array is compressed into. A lane is written only from
// events carrying its CPU id; the mutex serializes those writes against the
// cold-path drainer.
type lane struct {
	hash callback.HashState

	words []uint32

	mu sync.Mutex

	// ptr is the slot write cursor. It counts slots monotonically; the
	// slot index is ptr masked by the array size.
	ptr uint32

	// events counts health-passing samples since the last drain.
	events atomic.Uint32

	online atomic.Bool
}

// timeslots describes one slot-array geometry.
type timeslots struct {
	numValues uint32 // slots per lane, a power of two
	wordMask  uint32 // numValues - 1
	numWords  uint32
}

func newTimeslots(poolSizeLog2 uint32) timeslots {
	n := uint32(1) << poolSizeLog2
	return timeslots{
		numValues: n,
		wordMask:  n - 1,
		numWords:  n / dataSlotsPerWord,
	}
}

// idx2word converts a slot index into the array word holding it.
func idx2word(idx uint32) uint32 {
	return idx / dataSlotsPerWord
}

// idx2slot converts a slot index into the slot within its array word.
func idx2slot(idx uint32) uint32 {
	return idx & dataSlotsWordMask
}

// slotVal shifts a slot value to its bit position within the array word.
func slotVal(val, slot uint32) uint32 {
	return val << (dataSlotSizeBits * slot)
}

// addSlot packs the low slot bits of data at the cursor and advances it.
// Returns the masked slot index that was written.
func (ts timeslots) addSlot(ln *lane, data uint32) uint32 {
	ptr := ln.ptr & ts.wordMask
	ln.ptr++

	word := idx2word(ptr)
	slot := idx2slot(ptr)

	// Zeroize the slot so the following OR stores the data; without it,
	// bits of the previous occupant would accumulate on wrap.
	ln.words[word] &^= slotVal(dataSlotSizeMask, slot)
	ln.words[word] |= slotVal(data&dataSlotSizeMask, slot)

	return ptr
}

// addWord concatenates a full 32-bit word at the cursor even when the cursor
// is not aligned to a word boundary. The word may straddle two array words:
// the more significant slots land in the word holding the cursor, the
// remainder overwrites the following array word entirely.
//
// When the write wraps the array, compress is invoked between the two writes
// so the content about to be overwritten has been absorbed first. Returns
// the masked end slot and whether the array wrapped.
func (ts timeslots) addWord(ln *lane, data uint32, compress func()) (end uint32, wrapped bool) {
	pre := ln.ptr & ts.wordMask
	ln.ptr += dataSlotsPerWord
	end = ln.ptr & ts.wordMask

	// mask selects the data bits that spill into the following array word.
	mask := uint32(1)<<(idx2slot(pre)*dataSlotSizeBits) - 1

	// More significant slots go into the word holding the cursor. The slot
	// zeroization before the OR keeps bits of prior occupants from
	// accumulating.
	preWord := idx2word(pre)
	ln.words[preWord] &= mask
	ln.words[preWord] |= data &^ mask

	wrapped = pre > end
	if wrapped && compress != nil {
		compress()
	}

	// The remainder overwrites the following array word entirely.
	ln.words[idx2word(end)] = data & mask

	return end, wrapped
}

// full reports whether the masked cursor sits at the last slot of the array.
func (ts timeslots) full(ptr uint32) bool {
	return ptr&ts.wordMask == ts.wordMask
}

// bytes returns the raw array content of a lane as bytes, little-endian per
// word, for hashing. The caller holds the lane lock.
func (ts timeslots) bytes(ln *lane, scratch []byte) []byte {
	scratch = scratch[:0]
	for _, w := range ln.words {
		scratch = append(scratch,
			byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
	}
	return scratch
}
