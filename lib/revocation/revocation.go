// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

// Package revocation implements the revocation store: individually
// revoked (address, nonce) pairs, and a monotonically increasing
// per-address counter threshold at or below which all counters are revoked.
package revocation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osaurus-run/core/lib/secretstore"
)

// SecretService and SecretAccount identify the secret-store slot this
// store's JSON document is persisted under.
const (
	SecretService = "com.osaurus.revocations"
	SecretAccount = "revocation-data"
)

type document struct {
	RevokedKeys       []string          `json:"revoked_keys"`
	CounterThresholds map[string]uint64 `json:"counter_thresholds"`
}

// Store holds revoked keys and per-address counter thresholds. Writes are
// serialized; reads of a Snapshot do not hold the writer lock.
type Store struct {
	mu                sync.RWMutex
	revokedKeys       map[string]struct{}
	counterThresholds map[string]uint64

	backingStore secretstore.Store
	keypair      *secretstore.DeviceKeypair
}

// Open loads a Store from the given secret store, or starts empty.
func Open(backingStore secretstore.Store, keypair *secretstore.DeviceKeypair) (*Store, error) {
	store := &Store{
		revokedKeys:       make(map[string]struct{}),
		counterThresholds: make(map[string]uint64),
		backingStore:      backingStore,
		keypair:           keypair,
	}

	var doc document
	found, err := secretstore.LoadJSON(backingStore, keypair, SecretService, SecretAccount, &doc)
	if err != nil {
		return nil, fmt.Errorf("revocation: loading state: %w", err)
	}
	if !found {
		return store, nil
	}

	for _, key := range doc.RevokedKeys {
		store.revokedKeys[key] = struct{}{}
	}
	for address, threshold := range doc.CounterThresholds {
		store.counterThresholds[strings.ToLower(address)] = threshold
	}
	return store, nil
}

func revocationKey(address, nonce string) string {
	return strings.ToLower(address) + ":" + nonce
}

// RevokeKey individually revokes the (address, nonce) pair.
func (s *Store) RevokeKey(address, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokedKeys[revocationKey(address, nonce)] = struct{}{}
	return s.persistLocked()
}

// RevokeAllBefore raises address's counter threshold to max(existing, n).
// The threshold never decreases.
func (s *Store) RevokeAllBefore(address string, n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(address)
	if existing, ok := s.counterThresholds[key]; ok && existing >= n {
		return nil
	}
	s.counterThresholds[key] = n
	return s.persistLocked()
}

// IsRevoked reports whether (address, nonce) is individually revoked, or
// counter does not exceed address's threshold.
func (s *Store) IsRevoked(address, nonce string, counter uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.revokedKeys[revocationKey(address, nonce)]; ok {
		return true
	}
	if threshold, ok := s.counterThresholds[strings.ToLower(address)]; ok && counter <= threshold {
		return true
	}
	return false
}

// Snapshot is an immutable, cheaply copyable view of the revocation state,
// suitable for passing into a validator constructed per request without
// holding the store's lock across the request.
type Snapshot struct {
	revokedKeys       map[string]struct{}
	counterThresholds map[string]uint64
}

// IsRevoked evaluates the same rule as Store.IsRevoked against the
// snapshot's frozen state.
func (s Snapshot) IsRevoked(address, nonce string, counter uint64) bool {
	if _, ok := s.revokedKeys[revocationKey(address, nonce)]; ok {
		return true
	}
	if threshold, ok := s.counterThresholds[strings.ToLower(address)]; ok && counter <= threshold {
		return true
	}
	return false
}

// Snapshot copies the current revocation state into an immutable value.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := Snapshot{
		revokedKeys:       make(map[string]struct{}, len(s.revokedKeys)),
		counterThresholds: make(map[string]uint64, len(s.counterThresholds)),
	}
	for key := range s.revokedKeys {
		snapshot.revokedKeys[key] = struct{}{}
	}
	for address, threshold := range s.counterThresholds {
		snapshot.counterThresholds[address] = threshold
	}
	return snapshot
}

func (s *Store) persistLocked() error {
	doc := document{
		RevokedKeys:       make([]string, 0, len(s.revokedKeys)),
		CounterThresholds: make(map[string]uint64, len(s.counterThresholds)),
	}
	for key := range s.revokedKeys {
		doc.RevokedKeys = append(doc.RevokedKeys, key)
	}
	for address, threshold := range s.counterThresholds {
		doc.CounterThresholds[address] = threshold
	}

	if err := secretstore.SaveJSON(s.backingStore, s.keypair, SecretService, SecretAccount, doc); err != nil {
		return fmt.Errorf("revocation: persisting state: %w", err)
	}
	return nil
}
