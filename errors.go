// Copyright (c) 2024-2025 Six After, Inc
//
// This source code is licensed under the Apache 2.0 License found in the
// LICENSE file in the root directory of this source tree.

package lrng

import "errors"

var (
	// ErrNotSupported reports a callback switch request while switching is
	// disabled by configuration.
	ErrNotSupported = errors.New("operation not supported by configuration")

	// ErrInvalidArgument reports an invalid flag combination or an
	// unusable buffer.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBufferTooSmall reports a seed record target buffer smaller than
	// the record's length field.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrMessageSize reports a seed record buffer that holds the length
	// field but not the payload; the length is written, the payload is not.
	ErrMessageSize = errors.New("buffer too small for seed payload")

	// ErrAgain reports a non-blocking request whose preconditions are not
	// yet satisfied.
	ErrAgain = errors.New("temporarily unavailable")

	// ErrInterrupted reports a blocking wait cancelled by the caller.
	ErrInterrupted = errors.New("wait interrupted")

	// ErrInternal reports a failure of an installed cryptographic
	// primitive.
	ErrInternal = errors.New("crypto primitive failure")

	// ErrInProgress reports a reseed attempted while one is already
	// running. Non-fatal; the caller retries.
	ErrInProgress = errors.New("reseed already in progress")
)
