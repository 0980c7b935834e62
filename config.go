// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import (
	"io"
	"runtime"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/sixafter/lrng/x/crypto/callback"
	"github.com/sixafter/lrng/x/crypto/ccdrng"
	"github.com/sixafter/lrng/x/crypto/poolhash"
)

// Config holds the tunable parameters of the subsystem. It is immutable
// after New.
type Config struct {
	// Logger receives the structured operational log. The default logger
	// discards all output.
	Logger logrus.FieldLogger

	// TimeSource returns the high-resolution time stamp sampled on every
	// noise event. Only its low bits are treated as entropic. The default
	// reads the monotonic nanosecond clock.
	TimeSource func() uint32

	// DRNG is the default DRNG callback set. The atomic-context instance
	// stays on this set permanently.
	DRNG callback.DRNG

	// Hash is the default hash callback set for the per-CPU pools and the
	// seed conditioner.
	Hash callback.Hash

	// IRQEntropyBits is the number of interrupt events required to credit
	// SecurityStrengthBits of entropy.
	IRQEntropyBits uint32 `mapstructure:"irq_entropy_bits"`

	// SchedEntropyBits is the number of scheduler events required to credit
	// SecurityStrengthBits of entropy.
	SchedEntropyBits uint32 `mapstructure:"sched_entropy_bits"`

	// OversamplingFactor multiplies the required event counts when no
	// high-resolution timer is present. Must be >= 1.
	OversamplingFactor uint32 `mapstructure:"oversampling_factor"`

	// ReseedMaxSeconds is the maximum seed age before the next generate on
	// a DRNG forces a reseed.
	ReseedMaxSeconds uint32 `mapstructure:"reseed_max_seconds"`

	// PoolSizeLog2 is the per-CPU slot array exponent: each collector lane
	// holds 1<<PoolSizeLog2 slots. Also sizes the auxiliary pool image at
	// 16<<PoolSizeLog2 bytes.
	PoolSizeLog2 uint32 `mapstructure:"pool_size_log2"`

	// TrustBootloader credits bootloader-provided bytes as entropy.
	TrustBootloader bool `mapstructure:"trust_bootloader"`

	// TrustCPU credits CPU/arch RNG bytes as entropy.
	TrustCPU bool `mapstructure:"trust_cpu"`

	// CPUs is the number of collector lanes. Event inputs carry a CPU id
	// in [0, CPUs). Defaults to runtime.GOMAXPROCS(0).
	CPUs int

	// NUMANodes is the number of locality domains served by their own DRNG
	// instance. Lanes map to nodes by cpu mod NUMANodes. Defaults to 1.
	NUMANodes int

	// HighResTimer states whether TimeSource has high resolution. When
	// false, word-mode packing stays active and OversamplingFactor is
	// applied to all event-to-entropy conversions.
	HighResTimer bool

	// SwitchingEnabled permits runtime replacement of the callback sets.
	SwitchingEnabled bool
}

// DefaultConfig returns a Config populated with production defaults.
func DefaultConfig() Config {
	return Config{
		IRQEntropyBits:     DefaultIRQEntropyBits,
		SchedEntropyBits:   DefaultSchedEntropyBits,
		OversamplingFactor: DefaultOversamplingFactor,
		ReseedMaxSeconds:   DefaultReseedMaxSeconds,
		PoolSizeLog2:       DefaultPoolSizeLog2,
		CPUs:               runtime.GOMAXPROCS(0),
		NUMANodes:          1,
		HighResTimer:       true,
		SwitchingEnabled:   true,
		DRNG:               ccdrng.New(),
		Hash:               poolhash.SHA256(),
		TimeSource:         nanoStamp,
		Logger:             defaultLogger(),
	}
}

// nanoStamp is the default time source.
func nanoStamp() uint32 {
	return uint32(time.Since(monoEpoch))
}

// monoEpoch anchors nanoStamp to the monotonic clock.
var monoEpoch = time.Now()

func defaultLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Option defines a functional option for customizing a Config.
type Option func(*Config)

// WithLogger sets the operational logger.
func WithLogger(l logrus.FieldLogger) Option { return func(cfg *Config) { cfg.Logger = l } }

// WithTimeSource sets the time stamp source sampled on noise events.
func WithTimeSource(ts func() uint32) Option { return func(cfg *Config) { cfg.TimeSource = ts } }

// WithDRNGCallbacks sets the default DRNG callback set.
func WithDRNGCallbacks(cb callback.DRNG) Option { return func(cfg *Config) { cfg.DRNG = cb } }

// WithHashCallbacks sets the default hash callback set.
func WithHashCallbacks(cb callback.Hash) Option { return func(cfg *Config) { cfg.Hash = cb } }

// WithIRQEntropyBits sets how many interrupt events are required for
// SecurityStrengthBits of entropy.
func WithIRQEntropyBits(n uint32) Option { return func(cfg *Config) { cfg.IRQEntropyBits = n } }

// WithSchedEntropyBits sets how many scheduler events are required for
// SecurityStrengthBits of entropy.
func WithSchedEntropyBits(n uint32) Option { return func(cfg *Config) { cfg.SchedEntropyBits = n } }

// WithOversamplingFactor sets the low-resolution-timer oversampling factor.
func WithOversamplingFactor(n uint32) Option {
	return func(cfg *Config) { cfg.OversamplingFactor = n }
}

// WithReseedMaxSeconds sets the maximum DRNG seed age.
func WithReseedMaxSeconds(n uint32) Option { return func(cfg *Config) { cfg.ReseedMaxSeconds = n } }

// WithPoolSizeLog2 sets the per-CPU slot array exponent.
func WithPoolSizeLog2(n uint32) Option { return func(cfg *Config) { cfg.PoolSizeLog2 = n } }

// WithTrustBootloader credits bootloader bytes as entropy.
func WithTrustBootloader(trust bool) Option {
	return func(cfg *Config) { cfg.TrustBootloader = trust }
}

// WithTrustCPU credits CPU/arch RNG bytes as entropy.
func WithTrustCPU(trust bool) Option { return func(cfg *Config) { cfg.TrustCPU = trust } }

// WithCPUs sets the number of collector lanes.
func WithCPUs(n int) Option { return func(cfg *Config) { cfg.CPUs = n } }

// WithNUMANodes sets the number of NUMA locality domains.
func WithNUMANodes(n int) Option { return func(cfg *Config) { cfg.NUMANodes = n } }

// WithHighResTimer declares whether the time source has high resolution.
func WithHighResTimer(hr bool) Option { return func(cfg *Config) { cfg.HighResTimer = hr } }

// WithSwitchingEnabled permits or forbids runtime callback switching.
func WithSwitchingEnabled(enabled bool) Option {
	return func(cfg *Config) { cfg.SwitchingEnabled = enabled }
}

// FromMap decodes the recognized configuration keys from a name-to-value map
// into options. Unknown keys are rejected.
//
// Recognized keys: irq_entropy_bits, sched_entropy_bits,
// oversampling_factor, reseed_max_seconds, pool_size_log2,
// trust_bootloader, trust_cpu.
func FromMap(values map[string]any) ([]Option, error) {
	var decoded Config

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &decoded,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(values); err != nil {
		return nil, err
	}

	var opts []Option
	if _, ok := values["irq_entropy_bits"]; ok {
		opts = append(opts, WithIRQEntropyBits(decoded.IRQEntropyBits))
	}
	if _, ok := values["sched_entropy_bits"]; ok {
		opts = append(opts, WithSchedEntropyBits(decoded.SchedEntropyBits))
	}
	if _, ok := values["oversampling_factor"]; ok {
		opts = append(opts, WithOversamplingFactor(decoded.OversamplingFactor))
	}
	if _, ok := values["reseed_max_seconds"]; ok {
		opts = append(opts, WithReseedMaxSeconds(decoded.ReseedMaxSeconds))
	}
	if _, ok := values["pool_size_log2"]; ok {
		opts = append(opts, WithPoolSizeLog2(decoded.PoolSizeLog2))
	}
	if _, ok := values["trust_bootloader"]; ok {
		opts = append(opts, WithTrustBootloader(decoded.TrustBootloader))
	}
	if _, ok := values["trust_cpu"]; ok {
		opts = append(opts, WithTrustCPU(decoded.TrustCPU))
	}

	return opts, nil
}

// validate applies bounds that keep the accounting sound.
func (cfg *Config) validate() error {
	if cfg.OversamplingFactor < 1 {
		return ErrInvalidArgument
	}
	if cfg.IRQEntropyBits < SecurityStrengthBits || cfg.SchedEntropyBits < SecurityStrengthBits {
		// A rate below the DRNG security strength would credit more than
		// one bit of entropy per event.
		return ErrInvalidArgument
	}
	if cfg.CPUs < 1 || cfg.NUMANodes < 1 || cfg.NUMANodes > cfg.CPUs {
		return ErrInvalidArgument
	}
	// Word insertion straddles two array words, so at least two words of
	// slots are required.
	if cfg.PoolSizeLog2 < 3 || cfg.PoolSizeLog2 > 16 {
		return ErrInvalidArgument
	}
	if cfg.DRNG == nil || cfg.Hash == nil || cfg.TimeSource == nil || cfg.Logger == nil {
		return ErrInvalidArgument
	}
	return nil
}
