// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import (
	"fmt"
	"io"
)

// EntropySource is the diagnostic and lifecycle contract of one entropy
// source as consumed by the entropy-source manager. The manager drains the
// built-in sources in a fixed order; this interface exposes their state to
// external surfaces (proc-style reporting, monitoring) without granting
// access to pool content.
type EntropySource interface {
	// Name returns the source identifier.
	Name() string

	// CurrEntropy returns the currently credited entropy estimate in bits.
	CurrEntropy() uint32

	// MaxEntropy returns the largest entropy statement the source can
	// deliver in one drain, in bits.
	MaxEntropy() uint32

	// Reset clears the source's entropy estimator. Collected pool data
	// that may or may not carry entropy stays in place.
	Reset()

	// State writes a free-form textual status description.
	State(w io.Writer)
}

// EntropySources returns the built-in sources in their drain order:
// interrupt pools, scheduler pools, CPU/arch RNG, jitter RNG, auxiliary
// pool.
func (r *RNG) EntropySources() []EntropySource {
	return []EntropySource{
		esCollector{c: r.irq},
		esCollector{c: r.sched},
		esArch{r: r},
		esJitter{r: r},
		esAux{r: r},
	}
}

// esCollector adapts a per-CPU collector.
type esCollector struct {
	c *collector
}

func (s esCollector) Name() string        { return s.c.name }
func (s esCollector) CurrEntropy() uint32 { return s.c.availEntropy() }
func (s esCollector) MaxEntropy() uint32  { return s.c.maxEntropy() }
func (s esCollector) Reset()              { s.c.reset() }

func (s esCollector) State(w io.Writer) {
	online := 0
	for cpu := range s.c.lanes {
		if s.c.laneOnline(cpu) {
			online++
		}
	}
	fmt.Fprintf(w, "%s ES properties:\n", s.c.name)
	fmt.Fprintf(w, " Hash for operating entropy pool: %s\n", s.c.rng.nodeHashOf(0).Name())
	fmt.Fprintf(w, " Available entropy: %d\n", s.c.availEntropy())
	fmt.Fprintf(w, " per-CPU pools online: %d\n", online)
	fmt.Fprintf(w, " SP800-90B startup health test passed: %v\n",
		s.c.health.sp80090bStartupComplete())
}

// esArch adapts the CPU/arch random source.
type esArch struct {
	r *RNG
}

func (s esArch) Name() string { return "arch" }

func (s esArch) CurrEntropy() uint32 {
	if !s.r.cfg.TrustCPU {
		return 0
	}
	return SecurityStrengthBits
}

func (s esArch) MaxEntropy() uint32 { return SecurityStrengthBits }
func (s esArch) Reset()             {}

func (s esArch) State(w io.Writer) {
	fmt.Fprintf(w, "arch ES properties:\n")
	fmt.Fprintf(w, " Data credited with entropy: %v\n", s.r.cfg.TrustCPU)
}

// esJitter adapts the timing-jitter source.
type esJitter struct {
	r *RNG
}

func (s esJitter) Name() string        { return "jent" }
func (s esJitter) CurrEntropy() uint32 { return jentEntropyBits }
func (s esJitter) MaxEntropy() uint32  { return jentEntropyBits }
func (s esJitter) Reset()              {}

func (s esJitter) State(w io.Writer) {
	fmt.Fprintf(w, "jent ES properties:\n")
	fmt.Fprintf(w, " Entropy rate per block: %d bits\n", jentEntropyBits)
}

// esAux adapts the auxiliary pool.
type esAux struct {
	r *RNG
}

func (s esAux) Name() string        { return "aux" }
func (s esAux) CurrEntropy() uint32 { return s.r.aux.entropyBits.Load() }

func (s esAux) MaxEntropy() uint32 {
	return uint32(s.r.nodeHashOf(0).DigestSize()) << 3
}

func (s esAux) Reset() { s.r.aux.entropyBits.Store(0) }

func (s esAux) State(w io.Writer) {
	fmt.Fprintf(w, "aux ES properties:\n")
	fmt.Fprintf(w, " Hash for operating entropy pool: %s\n", s.r.nodeHashOf(0).Name())
	fmt.Fprintf(w, " Available entropy: %d\n", s.r.aux.entropyBits.Load())
}
