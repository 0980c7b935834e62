// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.
//
// Tests for the per-CPU time-slot array: packing, word-mode straddles and
// the zero-then-OR overwrite discipline.

package lrng

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testLane(ts timeslots) *lane {
	return &lane{words: make([]uint32, ts.numWords)}
}

// Test_Timeslots_SlotAscending packs one ascending byte per slot and checks
// the canonical array image: value i lands in slot i of its array word.
func Test_Timeslots_SlotAscending(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	ts := newTimeslots(6)
	ln := testLane(ts)

	for i := uint32(0); i < ts.numValues; i++ {
		ts.addSlot(ln, i)
	}

	is.Equal(uint32(0x03020100), ln.words[0])
	is.Equal(uint32(0x07060504), ln.words[1])
	last := (ts.numValues-4)<<0 | (ts.numValues-3)<<8 | (ts.numValues-2)<<16 | (ts.numValues-1)<<24
	is.Equal(last, ln.words[ts.numWords-1])
}

// Test_Timeslots_SlotOverwrite wraps the cursor over pre-filled slots and
// verifies no bits of the prior occupants survive.
func Test_Timeslots_SlotOverwrite(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	ts := newTimeslots(6)
	ln := testLane(ts)
	for i := range ln.words {
		ln.words[i] = 0xFFFFFFFF
	}

	ts.addSlot(ln, 0xAB)
	is.Equal(uint32(0xFFFFFFAB), ln.words[0])

	ln.ptr = 0
	ts.addSlot(ln, 0x01)
	is.Equal(uint32(0xFFFFFF01), ln.words[0])
}

// Test_Timeslots_WordAligned inserts aligned 32-bit words into an empty
// array: the word lands whole and the following array word is cleared.
func Test_Timeslots_WordAligned(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	ts := newTimeslots(6)
	ln := testLane(ts)

	_, wrapped := ts.addWord(ln, 0x03020100, nil)
	is.False(wrapped)
	is.Equal(uint32(0x03020100), ln.words[0])
	is.Equal(uint32(0), ln.words[1])

	_, wrapped = ts.addWord(ln, 0x07060504, nil)
	is.False(wrapped)
	is.Equal(uint32(0x07060504), ln.words[1])
	is.Equal(uint32(0), ln.words[2])
}

// Test_Timeslots_WordStraddle exercises the straddling insert over
// pre-initialized data: after eight individual slots and a straddling word
// at slot offset one, the slot-filled words are intact and the straddled
// region holds exactly the inserted bytes with no stale bits.
func Test_Timeslots_WordStraddle(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	ts := newTimeslots(6)
	ln := testLane(ts)
	for i := range ln.words {
		ln.words[i] = 0xFFFFFFFF
	}

	for i := uint32(0); i < 8; i++ {
		ts.addSlot(ln, i)
	}
	is.Equal(uint32(0x03020100), ln.words[0])
	is.Equal(uint32(0x07060504), ln.words[1])

	// Straddle at slot offset one within the second word: the three upper
	// slots of that word take the data MSBs, the following word is fully
	// overwritten by the remainder.
	ln.ptr = 5
	_, wrapped := ts.addWord(ln, 0x07060500, nil)
	is.False(wrapped)
	is.Equal(uint32(0x03020100), ln.words[0])
	is.Equal(uint32(0x07060504), ln.words[1])
	is.Equal(uint32(0x00000000), ln.words[2])
}

// Test_Timeslots_WordWrapCompressOrder verifies that a wrapping word insert
// invokes the compression callback between the tail write and the head
// overwrite, so content about to be clobbered was absorbed first.
func Test_Timeslots_WordWrapCompressOrder(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	ts := newTimeslots(3) // 8 slots, 2 words
	ln := testLane(ts)
	ln.words[0] = 0xAAAAAAAA
	ln.words[1] = 0xBBBBBBBB
	ln.ptr = 6 // straddles slots 6,7 -> wraps into slot 0

	var seenAtCompress []uint32
	_, wrapped := ts.addWord(ln, 0x44332211, func() {
		seenAtCompress = append(seenAtCompress, ln.words...)
	})

	is.True(wrapped)
	// At compression time the first word still held its old content while
	// the tail word had already taken the data MSBs in slots 6 and 7.
	is.Equal([]uint32{0xAAAAAAAA, 0x4433BBBB}, seenAtCompress)
	// The head overwrite landed only afterwards.
	is.Equal(uint32(0x00002211), ln.words[0])
	is.Equal(uint32(0x4433BBBB), ln.words[1])
}

// Test_Timeslots_Full reports the last slot of the array only.
func Test_Timeslots_Full(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	ts := newTimeslots(6)
	is.False(ts.full(0))
	is.False(ts.full(62))
	is.True(ts.full(63))
	is.True(ts.full(127))
}
