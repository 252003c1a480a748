// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

// Package signing implements domain-separated envelope hashing and
// secp256k1 recoverable signatures over that hash.
//
// The pack carries no secp256k1 implementation (the stdlib's crypto/ecdsa
// only supports NIST curves), so this package is built on
// github.com/decred/dcrd/dcrec/secp256k1/v4, the standard Go secp256k1
// library, named rather than grounded in DESIGN.md.
package signing

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/osaurus-run/core/lib/addr"
	"github.com/osaurus-run/core/lib/keccak"
)

// Domain prefixes mixed into every signed envelope. They must never be
// interchangeable: recovering a signature produced under one prefix using
// the other must not yield the signer's address.
const (
	PrefixMessage = "Osaurus Signed Message"
	PrefixAccess  = "Osaurus Signed Access"
)

// SignatureSize is the length in bytes of a RecoverableSignature: a 64-byte
// compact secp256k1 signature followed by a one-byte recovery marker.
const SignatureSize = 65

// RecoverableSignature is a 65-byte r‖s‖v signature, where v is
// recoveryID+27.
type RecoverableSignature [SignatureSize]byte

// ErrSigningFailed is returned for any failure in Sign or Recover: a
// malformed private key, a wrong-length signature, or a recovery that
// yields no valid point.
var ErrSigningFailed = errors.New("signing: operation failed")

// envelope builds the domain-separated, length-framed message hash:
// keccak256("\x19" + prefix + ":\n" + decimal(len(payload)) + payload).
func envelope(prefix string, payload []byte) [32]byte {
	lengthDecimal := strconv.Itoa(len(payload))
	buf := make([]byte, 0, 1+len(prefix)+2+len(lengthDecimal)+len(payload))
	buf = append(buf, 0x19)
	buf = append(buf, prefix...)
	buf = append(buf, ':', '\n')
	buf = append(buf, lengthDecimal...)
	buf = append(buf, payload...)
	return keccak.Sum256(buf)
}

// Sign produces a RecoverableSignature over payload under the given domain
// prefix, using privateKey (32 bytes, big-endian scalar).
//
// privateKey is read but never retained; callers holding it in a
// secret.Buffer should pass buffer.Bytes() and close the buffer once signing
// completes.
func Sign(privateKey []byte, prefix string, payload []byte) (RecoverableSignature, error) {
	var sig RecoverableSignature

	if len(privateKey) != 32 {
		return sig, fmt.Errorf("%w: private key must be 32 bytes, got %d", ErrSigningFailed, len(privateKey))
	}

	key := secp256k1.PrivKeyFromBytes(privateKey)
	defer key.Zero()

	hash := envelope(prefix, payload)

	// ecdsa.SignCompact returns [recoveryCode, R(32), S(32)] with
	// recoveryCode = 27+recoveryID when the uncompressed public key is
	// requested (the third argument), matching our wire convention of
	// v = recoveryID+27. We reorder to r‖s‖v below.
	compact := ecdsa.SignCompact(key, hash[:], false)
	if len(compact) != SignatureSize {
		return sig, fmt.Errorf("%w: unexpected compact signature length %d", ErrSigningFailed, len(compact))
	}

	copy(sig[0:32], compact[1:33])
	copy(sig[32:64], compact[33:65])
	sig[64] = compact[0]
	return sig, nil
}

// Recover recomputes the envelope hash for payload under prefix and
// recovers the signer's address from sig. Recovery with the wrong prefix
// either fails outright or yields an address that is not the true signer's,
// satisfying the domain-separation property.
func Recover(sig RecoverableSignature, prefix string, payload []byte) (addr.Address, error) {
	var empty addr.Address

	// Reorder r‖s‖v back into the library's [v, r, s] compact form.
	compact := make([]byte, SignatureSize)
	compact[0] = sig[64]
	copy(compact[1:33], sig[0:32])
	copy(compact[33:65], sig[32:64])

	hash := envelope(prefix, payload)

	pubKey, _, err := ecdsa.RecoverCompact(compact, hash[:])
	if err != nil {
		return empty, fmt.Errorf("%w: recovering public key: %v", ErrSigningFailed, err)
	}

	address, err := addr.FromUncompressedPublicKey(pubKey.SerializeUncompressed())
	if err != nil {
		return empty, fmt.Errorf("%w: deriving address: %v", ErrSigningFailed, err)
	}
	return address, nil
}

// DeriveAddress returns the address corresponding to privateKey, without
// signing anything.
func DeriveAddress(privateKey []byte) (addr.Address, error) {
	var empty addr.Address
	if len(privateKey) != 32 {
		return empty, fmt.Errorf("%w: private key must be 32 bytes, got %d", ErrSigningFailed, len(privateKey))
	}
	key := secp256k1.PrivKeyFromBytes(privateKey)
	defer key.Zero()

	pubKey := key.PubKey()
	return addr.FromUncompressedPublicKey(pubKey.SerializeUncompressed())
}
