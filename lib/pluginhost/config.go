// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package pluginhost

import (
	"fmt"
	"sync"

	"github.com/osaurus-run/core/lib/secretstore"
)

// ConfigSecretService is the secret-store service name under which
// every plugin's key-value configuration is persisted, one account per
// plugin_id. Uninstalling a plugin deletes its account under this
// service along with its database file.
const ConfigSecretService = "com.osaurus.plugin-config"

// pluginConfigStore persists one plugin's key-value configuration as a
// JSON document in a single secret-store slot keyed by plugin id,
// following the same load-once/mutate/persist-whole-document shape as
// the whitelist and revocation stores.
type pluginConfigStore struct {
	mu       sync.RWMutex
	pluginID string
	values   map[string]string
	backing  secretstore.Store
	keypair  *secretstore.DeviceKeypair
}

func openPluginConfigStore(pluginID string, backing secretstore.Store, keypair *secretstore.DeviceKeypair) (*pluginConfigStore, error) {
	store := &pluginConfigStore{
		pluginID: pluginID,
		values:   make(map[string]string),
		backing:  backing,
		keypair:  keypair,
	}
	if _, err := secretstore.LoadJSON(backing, keypair, ConfigSecretService, pluginID, &store.values); err != nil {
		return nil, fmt.Errorf("pluginhost: loading config for %s: %w", pluginID, err)
	}
	if store.values == nil {
		store.values = make(map[string]string)
	}
	return store, nil
}

func (s *pluginConfigStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok
}

func (s *pluginConfigStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.persistLocked()
}

func (s *pluginConfigStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return s.persistLocked()
}

func (s *pluginConfigStore) persistLocked() error {
	return secretstore.SaveJSON(s.backing, s.keypair, ConfigSecretService, s.pluginID, s.values)
}
