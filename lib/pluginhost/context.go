// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package pluginhost

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/osaurus-run/core/lib/pluginstore"
	"github.com/osaurus-run/core/lib/secretstore"
)

// PluginHostContext owns the per-plugin resources the host_api callback
// table operates on: a sandboxed SQLite connection, a key-value
// configuration slot, and a scoped logger. One context exists per
// loaded plugin, created before the entry point runs and released only
// after destroy has returned.
type PluginHostContext struct {
	pluginID string
	store    *pluginstore.Store
	config   *pluginConfigStore
	logger   *slog.Logger
}

// NewContext opens dbPath as the plugin's sandboxed database and loads
// its configuration slot from backing.
func NewContext(pluginID, dbPath string, backing secretstore.Store, keypair *secretstore.DeviceKeypair, logger *slog.Logger) (*PluginHostContext, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	scoped := logger.With("plugin_id", pluginID)

	store, err := pluginstore.Open(dbPath, scoped)
	if err != nil {
		return nil, fmt.Errorf("pluginhost: opening database for %s: %w", pluginID, err)
	}

	config, err := openPluginConfigStore(pluginID, backing, keypair)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &PluginHostContext{pluginID: pluginID, store: store, config: config, logger: scoped}, nil
}

// ConfigGet reads one configuration value.
func (c *PluginHostContext) ConfigGet(key string) (string, bool) { return c.config.Get(key) }

// ConfigSet writes one configuration value, persisting immediately.
func (c *PluginHostContext) ConfigSet(key, value string) error { return c.config.Set(key, value) }

// ConfigDelete removes one configuration value, persisting immediately.
func (c *PluginHostContext) ConfigDelete(key string) error { return c.config.Delete(key) }

// DBExec runs sqlText against the plugin's sandboxed database.
func (c *PluginHostContext) DBExec(sqlText, paramsJSON string) string {
	return c.store.Exec(sqlText, paramsJSON)
}

// DBQuery queries the plugin's sandboxed database.
func (c *PluginHostContext) DBQuery(sqlText, paramsJSON string) string {
	return c.store.Query(sqlText, paramsJSON)
}

// Close releases the context's database connection. This is the
// host-side half of unload, run after destroy(ctx) has returned.
func (c *PluginHostContext) Close() error {
	return c.store.Close()
}
