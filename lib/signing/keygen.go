// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/osaurus-run/core/lib/secret"
)

// MasterKeySize is the length in bytes of a master signing key.
const MasterKeySize = 32

// ErrRandomFailed is returned when the operating system's randomness
// source cannot produce key material.
var ErrRandomFailed = errors.New("signing: randomness source failed")

// NewMasterKey draws a fresh master key from the operating system's
// CSPRNG into a zeroizable buffer. Generated once at account setup; the
// caller persists it (hex-encoded) and must Close the buffer when done.
func NewMasterKey() (*secret.Buffer, error) {
	raw := make([]byte, MasterKeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRandomFailed, err)
	}
	// NewFromBytes zeroes raw after copying it into locked memory.
	buf, err := secret.NewFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("signing: protecting master key: %w", err)
	}
	return buf, nil
}
