// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import (
	"fmt"
	"testing"

	"golang.org/x/exp/constraints"
)

// benchSizes are the request sizes swept by the generate benchmarks.
var benchSizes = []int{16, 32, 256, 4096}

// sum is a small generic helper for throughput accounting.
func sum[T constraints.Integer](xs []T) T {
	var total T
	for _, x := range xs {
		total += x
	}
	return total
}

func benchRNG(b *testing.B) *RNG {
	b.Helper()
	r, err := New(
		WithLogger(quietLog()),
		WithTimeSource(testTimeSource()),
		WithCPUs(4),
	)
	if err != nil {
		b.Fatal(err)
	}
	r.irq.health.disable()
	r.sched.health.disable()
	return r
}

// Benchmark_AddInterruptEvent measures the hot-path insertion cost.
func Benchmark_AddInterruptEvent(b *testing.B) {
	r := benchRNG(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.AddInterruptEvent(i, 0)
	}
}

// Benchmark_AddSchedulerEvent measures the scheduler-path insertion cost.
func Benchmark_AddSchedulerEvent(b *testing.B) {
	r := benchRNG(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.AddSchedulerEvent(uint64(i), i)
	}
}

// Benchmark_GetRandomBytes sweeps the atomic-path generate over request
// sizes.
func Benchmark_GetRandomBytes(b *testing.B) {
	for _, size := range benchSizes {
		size := size
		b.Run(fmt.Sprintf("Size_%d", size), func(b *testing.B) {
			r := benchRNG(b)
			buf := make([]byte, size)

			b.SetBytes(int64(size))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := r.GetRandomBytes(buf); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// Benchmark_FillSeedBuffer measures a full entropy-source sweep.
func Benchmark_FillSeedBuffer(b *testing.B) {
	r := benchRNG(b)
	for i := 0; i < int(sum(benchSizes)); i++ {
		r.AddInterruptEvent(i, 0)
	}

	b.SetBytes(entropyBufferSize)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !r.tryReseedLock() {
			b.Fatal("reseed lock contended")
		}
		var eb entropyBuffer
		r.fillSeedBuffer(&eb, SecurityStrengthBits, false)
		r.releaseReseed()
	}
}
