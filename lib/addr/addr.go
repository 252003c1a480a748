// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

// Package addr derives 20-byte addresses from uncompressed public keys and
// encodes/decodes the mixed-case checksum string form, following the
// EIP-55-style checksum rule: uppercase a hex nibble when the matching
// nibble of the Keccak-256 hash of the lowercase hex string is >= 8.
package addr

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/osaurus-run/core/lib/keccak"
)

// Size is the length in bytes of an address.
const Size = 20

// Address is a 20-byte binary address.
type Address [Size]byte

// FromUncompressedPublicKey derives an address from an uncompressed
// secp256k1 public key (65 bytes: 0x04 prefix followed by 32-byte X and
// 32-byte Y coordinates). The address is the last 20 bytes of the
// Keccak-256 hash of the 64 coordinate bytes (the 0x04 prefix is dropped).
func FromUncompressedPublicKey(pubKey []byte) (Address, error) {
	var addr Address
	if len(pubKey) != 65 {
		return addr, fmt.Errorf("addr: uncompressed public key must be 65 bytes, got %d", len(pubKey))
	}
	if pubKey[0] != 0x04 {
		return addr, fmt.Errorf("addr: uncompressed public key must start with 0x04, got 0x%02x", pubKey[0])
	}

	digest := keccak.Sum256(pubKey[1:])
	copy(addr[:], digest[len(digest)-Size:])
	return addr, nil
}

// Hex returns the lowercase hex form of the address, without a "0x" prefix.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// Checksum returns the "0x"-prefixed mixed-case checksum string form of the
// address. The encoding is a pure function of the lowercase hex string: for
// each hex character at index i, it is uppercased when the i-th nibble of
// keccak256(lowercaseHex) is >= 8.
func (a Address) Checksum() string {
	return EncodeChecksum(a.Hex())
}

// String implements fmt.Stringer as the checksum form.
func (a Address) String() string {
	return a.Checksum()
}

// EncodeChecksum applies the checksum casing rule to an already-lowercased
// 40-character hex string (no "0x" prefix) and returns the "0x"-prefixed
// mixed-case result. EncodeChecksum is a pure function: given the same
// input it always produces the same output, with no dependency on the
// original address bytes beyond what is encoded in the hex string itself.
func EncodeChecksum(lowercaseHex string) string {
	lowercaseHex = strings.ToLower(lowercaseHex)
	hashDigest := keccak.Sum256([]byte(lowercaseHex))

	var out strings.Builder
	out.WriteString("0x")
	for i := 0; i < len(lowercaseHex); i++ {
		c := lowercaseHex[i]
		if c >= '0' && c <= '9' {
			out.WriteByte(c)
			continue
		}
		if nibbleAt(hashDigest[:], i) >= 8 {
			out.WriteByte(c - 'a' + 'A')
		} else {
			out.WriteByte(c)
		}
	}
	return out.String()
}

// nibbleAt returns the i-th nibble (4 bits) of data, counting from the most
// significant nibble of data[0].
func nibbleAt(data []byte, i int) byte {
	b := data[i/2]
	if i%2 == 0 {
		return b >> 4
	}
	return b & 0x0f
}

// Parse decodes a "0x"-prefixed or bare 40-character hex address string
// into an Address, accepting either case. It does not validate checksum
// casing — use VerifyChecksum for that.
func Parse(s string) (Address, error) {
	var addr Address
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if len(s) != Size*2 {
		return addr, fmt.Errorf("addr: address hex must be %d characters, got %d", Size*2, len(s))
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return addr, fmt.Errorf("addr: decoding hex: %w", err)
	}
	copy(addr[:], decoded)
	return addr, nil
}

// VerifyChecksum reports whether a "0x"-prefixed mixed-case address string
// matches the checksum casing its own bytes imply. An all-lowercase or
// all-uppercase input is treated as unchecksummed and accepted.
func VerifyChecksum(s string) bool {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == strings.ToLower(trimmed) || trimmed == strings.ToUpper(trimmed) {
		return true
	}
	return EncodeChecksum(trimmed) == "0x"+trimmed
}
