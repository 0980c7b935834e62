// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

// Package lrng implements a layered entropy-collection and deterministic
// random bit generation subsystem in the manner of the Linux Random Number
// Generator.
//
// Noise events from interrupt and scheduler hot paths are health-tested per
// NIST SP 800-90B, packed into per-CPU time-slot arrays, and compressed into
// per-CPU hash pools. An entropy-source manager aggregates the pools with
// the CPU/arch RNG, a timing-jitter source and an auxiliary pool into seed
// buffers under conservative entropy accounting. A hierarchy of DRNG
// instances — one per NUMA locality domain plus one for atomic contexts —
// consumes the seed buffers through a multi-stage seeding state machine,
// and the cryptographic primitives behind both the DRNGs and the pools can
// be hot-swapped at runtime without losing accumulated entropy.
//
// A minimal producer/consumer:
//
//	r, err := lrng.New()
//	if err != nil {
//	    // handle error
//	}
//
//	// Feed noise events from the event sources.
//	r.AddInterruptEvent(42, 0)
//
//	// Serve random bytes once fully seeded.
//	buf := make([]byte, 32)
//	_, err = r.GetRandomBytesFull(ctx, buf)
package lrng
