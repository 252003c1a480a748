// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package accesskey

import (
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	"github.com/osaurus-run/core/lib/revocation"
	"github.com/osaurus-run/core/lib/secretstore"
	"github.com/osaurus-run/core/lib/signing"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return key
}

func freshRevocationSnapshot(t *testing.T) revocation.Snapshot {
	t.Helper()
	store, err := revocation.Open(secretstore.NewMemoryStore(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return store.Snapshot()
}

func TestValidateAcceptsWhitelistedKey(t *testing.T) {
	key := randomKey(t)
	signerAddress, err := signing.DeriveAddress(key)
	if err != nil {
		t.Fatal(err)
	}

	raw, err := Mint(key, Claims{Nonce: "n1", Counter: 1})
	if err != nil {
		t.Fatal(err)
	}

	whitelist := map[string]struct{}{strings.ToLower(signerAddress.String()): {}}
	validator := New(signerAddress.String(), "0xmaster", whitelist, freshRevocationSnapshot(t), NewCounterStore())

	claims, err := validator.Validate(raw)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Counter != 1 {
		t.Errorf("claims.Counter = %d, want 1", claims.Counter)
	}
}

func TestValidateRejectsNotWhitelisted(t *testing.T) {
	key := randomKey(t)
	raw, err := Mint(key, Claims{Nonce: "n1", Counter: 1})
	if err != nil {
		t.Fatal(err)
	}

	validator := New("agent", "master", map[string]struct{}{}, freshRevocationSnapshot(t), NewCounterStore())
	_, err = validator.Validate(raw)
	if !errors.Is(err, ErrNotWhitelisted) {
		t.Fatalf("Validate err = %v, want ErrNotWhitelisted", err)
	}
}

func TestValidateRejectsReplayedCounter(t *testing.T) {
	key := randomKey(t)
	signerAddress, err := signing.DeriveAddress(key)
	if err != nil {
		t.Fatal(err)
	}
	whitelist := map[string]struct{}{strings.ToLower(signerAddress.String()): {}}
	counters := NewCounterStore()

	raw1, err := Mint(key, Claims{Nonce: "n1", Counter: 5})
	if err != nil {
		t.Fatal(err)
	}
	validator := New(signerAddress.String(), "master", whitelist, freshRevocationSnapshot(t), counters)
	if _, err := validator.Validate(raw1); err != nil {
		t.Fatalf("first Validate: %v", err)
	}

	raw2, err := Mint(key, Claims{Nonce: "n2", Counter: 5})
	if err != nil {
		t.Fatal(err)
	}
	validator2 := New(signerAddress.String(), "master", whitelist, freshRevocationSnapshot(t), counters)
	_, err = validator2.Validate(raw2)
	if !errors.Is(err, ErrReplayedCounter) {
		t.Fatalf("second Validate err = %v, want ErrReplayedCounter", err)
	}
}

func TestValidateRejectsRevoked(t *testing.T) {
	key := randomKey(t)
	signerAddress, err := signing.DeriveAddress(key)
	if err != nil {
		t.Fatal(err)
	}
	whitelist := map[string]struct{}{strings.ToLower(signerAddress.String()): {}}

	store, err := revocation.Open(secretstore.NewMemoryStore(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.RevokeKey(signerAddress.String(), "n1"); err != nil {
		t.Fatal(err)
	}

	raw, err := Mint(key, Claims{Nonce: "n1", Counter: 1})
	if err != nil {
		t.Fatal(err)
	}

	validator := New(signerAddress.String(), "master", whitelist, store.Snapshot(), NewCounterStore())
	_, err = validator.Validate(raw)
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("Validate err = %v, want ErrRevoked", err)
	}
}

func TestValidateRejectsBadSignature(t *testing.T) {
	validator := New("agent", "master", map[string]struct{}{"agent": {}}, freshRevocationSnapshot(t), NewCounterStore())
	garbage := make([]byte, 100)
	_, err := validator.Validate(garbage)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("Validate err = %v, want ErrBadSignature", err)
	}
}

func TestEmptyValidatorRejectsEverything(t *testing.T) {
	key := randomKey(t)
	raw, err := Mint(key, Claims{Nonce: "n1", Counter: 1})
	if err != nil {
		t.Fatal(err)
	}

	validator := Empty()
	_, err = validator.Validate(raw)
	if !errors.Is(err, ErrNoAccount) {
		t.Fatalf("Validate err = %v, want ErrNoAccount", err)
	}
}

func TestCounterStoreSyncNeverLowers(t *testing.T) {
	counters := NewCounterStore()
	counters.Sync("0xabc", 10)
	counters.Sync("0xabc", 3)

	if counters.Observe("0xabc", 10) {
		t.Error("counter 10 should not be a strict increase after Sync raised it to 10")
	}
	if !counters.Observe("0xabc", 11) {
		t.Error("counter 11 should be accepted as a strict increase")
	}
}

func TestBearerEncodingRoundTrip(t *testing.T) {
	raw := []byte{0x00, 0xfb, 0xff, 0xfe, '{', '"', 'n', '"', '}', 0x3e, 0x3f}
	encoded := EncodeBearer(raw)
	if strings.ContainsAny(encoded, "+/=") {
		t.Fatalf("bearer encoding is not URL-safe unpadded base64: %q", encoded)
	}
	decoded, err := DecodeBearer(encoded)
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if string(decoded) != string(raw) {
		t.Fatalf("round trip lost bytes: %v != %v", decoded, raw)
	}
}
