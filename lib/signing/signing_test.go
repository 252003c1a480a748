// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generating random key: %v", err)
	}
	return key
}

func TestSignAndRecoverRoundTrip(t *testing.T) {
	key := randomKey(t)
	wantAddress, err := DeriveAddress(key)
	if err != nil {
		t.Fatalf("DeriveAddress: %v", err)
	}

	payload := []byte("test payload")
	sig, err := Sign(key, PrefixMessage, payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	gotAddress, err := Recover(sig, PrefixMessage, payload)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if gotAddress != wantAddress {
		t.Errorf("recovered address %s, want %s", gotAddress.Checksum(), wantAddress.Checksum())
	}
}

func TestDomainSeparation(t *testing.T) {
	key := randomKey(t)
	wantAddress, err := DeriveAddress(key)
	if err != nil {
		t.Fatalf("DeriveAddress: %v", err)
	}

	payload := []byte("test")
	sigA, err := Sign(key, PrefixMessage, payload)
	if err != nil {
		t.Fatalf("Sign with PrefixMessage: %v", err)
	}
	sigB, err := Sign(key, PrefixAccess, payload)
	if err != nil {
		t.Fatalf("Sign with PrefixAccess: %v", err)
	}
	if sigA == sigB {
		t.Error("signatures under different prefixes must differ")
	}

	// Recovering sigA under the wrong prefix must not yield the signer.
	gotAddress, err := Recover(sigA, PrefixAccess, payload)
	if err == nil && gotAddress == wantAddress {
		t.Error("recovery with the wrong prefix must not yield the signer's address")
	}
}

func TestSignRejectsMalformedKey(t *testing.T) {
	_, err := Sign([]byte{0x01, 0x02}, PrefixMessage, []byte("x"))
	if err == nil {
		t.Fatal("expected error for short private key")
	}
}

func TestRecoverRejectsGarbageSignature(t *testing.T) {
	var sig RecoverableSignature
	for i := range sig {
		sig[i] = 0xff
	}
	_, err := Recover(sig, PrefixMessage, []byte("payload"))
	if err == nil {
		t.Fatal("expected error recovering from a garbage signature")
	}
}

func TestDifferentPayloadsProduceDifferentSignatures(t *testing.T) {
	key := randomKey(t)
	sig1, err := Sign(key, PrefixMessage, []byte("payload one"))
	if err != nil {
		t.Fatal(err)
	}
	sig2, err := Sign(key, PrefixMessage, []byte("payload two"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(sig1[:], sig2[:]) {
		t.Error("different payloads must not produce identical signatures")
	}
}

func TestNewMasterKey(t *testing.T) {
	first, err := NewMasterKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	defer first.Close()
	second, err := NewMasterKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	defer second.Close()

	if first.Len() != MasterKeySize || second.Len() != MasterKeySize {
		t.Fatalf("expected %d-byte keys, got %d and %d", MasterKeySize, first.Len(), second.Len())
	}
	if string(first.Bytes()) == string(second.Bytes()) {
		t.Fatal("two generated master keys are identical")
	}
}
