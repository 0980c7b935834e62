// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Test_EntropySources_Order lists the built-in sources in drain order.
func Test_EntropySources_Order(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	r := newTestRNG(t)

	var names []string
	for _, es := range r.EntropySources() {
		names = append(names, es.Name())
	}
	is.Equal([]string{"irq", "sched", "arch", "jent", "aux"}, names)
}

// Test_EntropySources_AuxAccounting reflects credit and reset through the
// source adapter.
func Test_EntropySources_AuxAccounting(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	r := newTestRNG(t)
	aux := r.EntropySources()[4]

	r.aux.entropyBits.Store(96)
	is.Equal(uint32(96), aux.CurrEntropy())
	is.Equal(uint32(SecurityStrengthBits), aux.MaxEntropy())

	aux.Reset()
	is.Zero(aux.CurrEntropy())
}

// Test_EntropySources_State renders a textual status for every source.
func Test_EntropySources_State(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	r := newTestRNG(t)
	for _, es := range r.EntropySources() {
		var sb strings.Builder
		es.State(&sb)
		is.Contains(sb.String(), "ES properties")
	}
}

// Test_EntropySources_ArchTrust credits the arch source only under
// configured trust.
func Test_EntropySources_ArchTrust(t *testing.T) {
	t.Parallel()
	is := assert.New(t)

	r := newTestRNG(t)
	is.Zero(r.EntropySources()[2].CurrEntropy())

	r2 := newTestRNG(t, WithTrustCPU(true))
	is.Equal(uint32(SecurityStrengthBits), r2.EntropySources()[2].CurrEntropy())
}
