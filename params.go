// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

const (
	// SecurityStrengthBytes is the security strength of the subsystem. It
	// must match the security strength of the installed DRNG callback set.
	SecurityStrengthBytes = 32

	// SecurityStrengthBits is SecurityStrengthBytes in bits.
	SecurityStrengthBits = SecurityStrengthBytes * 8

	// FullSeedEntropyBits is the credited entropy required for the fully
	// seeded stage.
	FullSeedEntropyBits = SecurityStrengthBits

	// MinSeedEntropyBits covers the minimum entropy requirement of
	// SP 800-131A: 128 bits.
	MinSeedEntropyBits = 128

	// InitEntropyBits is the first, purely informational seeding stage.
	InitEntropyBits = 32

	// ConditioningEntropyLoss models the one bit of entropy lost in the
	// hash conditioning step as shown by the SP 800-90B analysis.
	ConditioningEntropyLoss = 1

	// MaxRequestSize bounds a single DRNG generate operation. SP 800-90A
	// permits 1<<16; this is a safer margin.
	MaxRequestSize = 1 << 12

	// ReseedThreshold is the number of generate requests after which a DRNG
	// is reseeded. SP 800-90A permits 2^48; this is a much safer margin.
	ReseedThreshold = 1 << 20

	// DefaultIRQEntropyBits is the number of interrupt events that must be
	// collected to credit SecurityStrengthBits of entropy.
	DefaultIRQEntropyBits = SecurityStrengthBits

	// DefaultSchedEntropyBits is the scheduler-source equivalent of
	// DefaultIRQEntropyBits.
	DefaultSchedEntropyBits = SecurityStrengthBits

	// DefaultOversamplingFactor divides the per-event entropy credit when
	// no high-resolution timer is available.
	DefaultOversamplingFactor = 10

	// DefaultReseedMaxSeconds is the maximum age of a DRNG seed before the
	// next generate forces a reseed.
	DefaultReseedMaxSeconds = 600

	// DefaultPoolSizeLog2 sizes the per-CPU slot array: 1<<6 = 64 slots.
	DefaultPoolSizeLog2 = 6

	// maxDigestSize bounds stack buffers holding one digest.
	maxDigestSize = 64
)

// Slot array geometry. Timestamp LSBs are packed eight bits per slot, four
// slots per 32-bit array word.
const (
	dataSlotSizeBits  = 8
	dataSlotSizeMask  = (1 << dataSlotSizeBits) - 1
	dataWordBits      = 32
	dataSlotsPerWord  = dataWordBits / dataSlotSizeBits
	dataSlotsWordMask = dataSlotsPerWord - 1
)
