// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package accesskey

import (
	"strings"
	"sync"
)

// CounterStore tracks, per signer address, the largest access-key counter
// observed so far. It is a process-wide singleton in the running host: one
// store, created once at startup, accessed only through Observe and Sync.
//
// The counter bootstrap open question ("can Sync lower the counter?") is
// resolved as: never. Sync raises a signer's last-seen counter but will
// not lower it, matching the revocation threshold's monotonic contract.
type CounterStore struct {
	mu       sync.Mutex
	lastSeen map[string]uint64
}

// NewCounterStore returns an empty CounterStore.
func NewCounterStore() *CounterStore {
	return &CounterStore{lastSeen: make(map[string]uint64)}
}

// Observe checks that counter strictly exceeds the largest counter
// previously observed from address, and if so records it as the new
// high-water mark. Returns false if counter is not a strict increase.
func (c *CounterStore) Observe(address string, counter uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.ToLower(address)
	if last, ok := c.lastSeen[key]; ok && counter <= last {
		return false
	}
	c.lastSeen[key] = counter
	return true
}

// Sync raises address's last-seen counter to at least to, without ever
// lowering it. Used to absorb a counter value learned from a remote
// relay/server sync without undoing replay protection already
// established locally.
func (c *CounterStore) Sync(address string, to uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.ToLower(address)
	if existing, ok := c.lastSeen[key]; ok && existing >= to {
		return
	}
	c.lastSeen[key] = to
}
