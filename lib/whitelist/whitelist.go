// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

// Package whitelist implements the master and per-agent address whitelists.
// State is persisted as a single JSON document in a named secret-store
// slot; writes are serialized by a single writer lock while reads proceed
// concurrently.
package whitelist

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osaurus-run/core/lib/secretstore"
)

// SecretService and SecretAccount identify the secret-store slot this
// store's JSON document is persisted under.
const (
	SecretService = "com.osaurus.whitelist"
	SecretAccount = "whitelist-data"
)

// document is the on-disk JSON shape. Sets are represented as
// map[string]struct{} in memory but marshal as sorted string slices for a
// stable, human-diffable document.
type document struct {
	Master   []string            `json:"master"`
	PerAgent map[string][]string `json:"per_agent"`
}

// Store holds the master whitelist and per-agent whitelist overrides, all
// addresses normalised to lowercase.
type Store struct {
	mu       sync.RWMutex
	master   map[string]struct{}
	perAgent map[string]map[string]struct{}

	backingStore secretstore.Store
	keypair      *secretstore.DeviceKeypair
}

// Open loads a Store from the given secret store, or starts empty if no
// document exists yet. keypair may be nil to store the document unsealed.
func Open(backingStore secretstore.Store, keypair *secretstore.DeviceKeypair) (*Store, error) {
	store := &Store{
		master:       make(map[string]struct{}),
		perAgent:     make(map[string]map[string]struct{}),
		backingStore: backingStore,
		keypair:      keypair,
	}

	var doc document
	found, err := secretstore.LoadJSON(backingStore, keypair, SecretService, SecretAccount, &doc)
	if err != nil {
		return nil, fmt.Errorf("whitelist: loading state: %w", err)
	}
	if !found {
		return store, nil
	}

	for _, address := range doc.Master {
		store.master[strings.ToLower(address)] = struct{}{}
	}
	for agent, addresses := range doc.PerAgent {
		set := make(map[string]struct{}, len(addresses))
		for _, address := range addresses {
			set[strings.ToLower(address)] = struct{}{}
		}
		store.perAgent[strings.ToLower(agent)] = set
	}
	return store, nil
}

// AddMaster adds address to the master whitelist.
func (s *Store) AddMaster(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.master[strings.ToLower(address)] = struct{}{}
	return s.persistLocked()
}

// RemoveMaster removes address from the master whitelist.
func (s *Store) RemoveMaster(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.master, strings.ToLower(address))
	return s.persistLocked()
}

// AddAgent adds address to agent's per-agent whitelist, creating the
// per-agent set if it does not already exist.
func (s *Store) AddAgent(agent, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agentKey := strings.ToLower(agent)
	set, ok := s.perAgent[agentKey]
	if !ok {
		set = make(map[string]struct{})
		s.perAgent[agentKey] = set
	}
	set[strings.ToLower(address)] = struct{}{}
	return s.persistLocked()
}

// RemoveAgent removes address from agent's per-agent whitelist. If the
// per-agent set becomes empty, it is pruned entirely.
func (s *Store) RemoveAgent(agent, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agentKey := strings.ToLower(agent)
	set, ok := s.perAgent[agentKey]
	if !ok {
		return nil
	}
	delete(set, strings.ToLower(address))
	if len(set) == 0 {
		delete(s.perAgent, agentKey)
	}
	return s.persistLocked()
}

// MasterWhitelist returns a sorted snapshot of the master whitelist.
func (s *Store) MasterWhitelist() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.master)
}

// AgentWhitelist returns a sorted snapshot of agent's per-agent whitelist,
// empty if agent has no overrides.
func (s *Store) AgentWhitelist(agent string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.perAgent[strings.ToLower(agent)]
	if !ok {
		return nil
	}
	return sortedKeys(set)
}

// EffectiveWhitelist returns master ∪ perAgent[agent] ∪ {agent, master},
// all lowercased, as a set suitable for membership checks. It always
// contains both agent and master.
func (s *Store) EffectiveWhitelist(agent, master string) map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	effective := make(map[string]struct{}, len(s.master)+4)
	for address := range s.master {
		effective[address] = struct{}{}
	}
	if set, ok := s.perAgent[strings.ToLower(agent)]; ok {
		for address := range set {
			effective[address] = struct{}{}
		}
	}
	effective[strings.ToLower(agent)] = struct{}{}
	effective[strings.ToLower(master)] = struct{}{}
	return effective
}

// persistLocked serializes the current state to JSON and writes it
// durably to the backing secret store. Callers must hold s.mu.
func (s *Store) persistLocked() error {
	doc := document{
		Master:   sortedKeys(s.master),
		PerAgent: make(map[string][]string, len(s.perAgent)),
	}
	for agent, set := range s.perAgent {
		doc.PerAgent[agent] = sortedKeys(set)
	}

	if err := secretstore.SaveJSON(s.backingStore, s.keypair, SecretService, SecretAccount, doc); err != nil {
		return fmt.Errorf("whitelist: persisting state: %w", err)
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	// Simple insertion sort keeps this allocation-light for the small sets
	// (dozens, not thousands, of addresses) this store actually holds.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
