// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentkey derives per-agent signing keys from a master secret.
// Agent keys are never persisted — they are re-derived on demand from the
// master key, which itself only ever lives inside a zeroizable
// lib/secret.Buffer for the duration of the derivation.
package agentkey

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"github.com/osaurus-run/core/lib/addr"
	"github.com/osaurus-run/core/lib/signing"
)

// domainTag is mixed into every derivation to separate this key schedule
// from any other HMAC-SHA-512 use of the same master secret.
const domainTag = "osaurus-agent-v1"

// Derive computes the 32-byte child private key for the given agent index
// under masterKey: the first 32 bytes of
// HMAC-SHA512(masterKey, domainTag ‖ be32(index)).
//
// Any index in [0, 2^32) is valid; Derive always returns 32 bytes.
func Derive(masterKey []byte, index uint32) ([]byte, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("agentkey: master key must not be empty")
	}

	mac := hmac.New(sha512.New, masterKey)
	mac.Write([]byte(domainTag))

	var indexBytes [4]byte
	binary.BigEndian.PutUint32(indexBytes[:], index)
	mac.Write(indexBytes[:])

	sum := mac.Sum(nil)
	childKey := make([]byte, 32)
	copy(childKey, sum[:32])
	return childKey, nil
}

// DeriveAddress derives the child key for index and returns its address,
// without retaining the derived private key bytes beyond this call.
func DeriveAddress(masterKey []byte, index uint32) (addr.Address, error) {
	childKey, err := Derive(masterKey, index)
	if err != nil {
		var empty addr.Address
		return empty, err
	}
	defer zero(childKey)

	return signing.DeriveAddress(childKey)
}

// Sign derives the child key for index and signs payload under the
// access-key domain prefix, as used for bearer access-key claims.
func Sign(masterKey []byte, index uint32, payload []byte) (signing.RecoverableSignature, error) {
	childKey, err := Derive(masterKey, index)
	if err != nil {
		var empty signing.RecoverableSignature
		return empty, err
	}
	defer zero(childKey)

	return signing.Sign(childKey, signing.PrefixAccess, payload)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
