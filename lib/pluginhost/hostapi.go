// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package pluginhost

import (
	"github.com/osaurus-run/core/lib/pluginabi"
)

// BuildHostAPI constructs a fresh host_api callback table bound to ctx.
//
// Each loaded plugin gets its own table, built from closures over its
// own PluginHostContext. The original ABI uses a thread-local
// "active plugin" tag so a shared, context-free C trampoline can find
// the right plugin state; Go closures make that unnecessary here, since
// purego.NewCallback hands each closure its own unique C-callable
// address and the closure already has direct access to ctx. The
// resulting table is still a plain struct of function pointers on the
// wire, so it satisfies the lifetime rule that it remain valid and
// stable for the plugin's entire lifetime: BuildHostAPI's caller keeps
// the returned *HostAPI reachable for as long as the plugin is loaded.
func BuildHostAPI(ctx *PluginHostContext) *pluginabi.HostAPI {
	api := &pluginabi.HostAPI{Version: pluginabi.ABIVersion2}

	configGet := func(keyPtr uintptr) uintptr {
		value, ok := ctx.ConfigGet(pluginabi.GoString(keyPtr))
		if !ok {
			return 0
		}
		ptr, err := pluginabi.MallocCString(value)
		if err != nil {
			ctx.logger.Error("host_api config_get: allocating response", "error", err)
			return 0
		}
		return ptr
	}

	configSet := func(keyPtr, valuePtr uintptr) {
		key := pluginabi.GoString(keyPtr)
		if err := ctx.ConfigSet(key, pluginabi.GoString(valuePtr)); err != nil {
			ctx.logger.Error("host_api config_set", "key", key, "error", err)
		}
	}

	configDelete := func(keyPtr uintptr) {
		key := pluginabi.GoString(keyPtr)
		if err := ctx.ConfigDelete(key); err != nil {
			ctx.logger.Error("host_api config_delete", "key", key, "error", err)
		}
	}

	dbExec := func(sqlPtr, paramsPtr uintptr) uintptr {
		result := ctx.DBExec(pluginabi.GoString(sqlPtr), pluginabi.GoString(paramsPtr))
		ptr, err := pluginabi.MallocCString(result)
		if err != nil {
			ctx.logger.Error("host_api db_exec: allocating response", "error", err)
			return 0
		}
		return ptr
	}

	dbQuery := func(sqlPtr, paramsPtr uintptr) uintptr {
		result := ctx.DBQuery(pluginabi.GoString(sqlPtr), pluginabi.GoString(paramsPtr))
		ptr, err := pluginabi.MallocCString(result)
		if err != nil {
			ctx.logger.Error("host_api db_query: allocating response", "error", err)
			return 0
		}
		return ptr
	}

	logFn := func(level int32, messagePtr uintptr) {
		message := pluginabi.GoString(messagePtr)
		switch pluginabi.LogLevel(level) {
		case pluginabi.LogDebug:
			ctx.logger.Debug(message)
		case pluginabi.LogWarn:
			ctx.logger.Warn(message)
		case pluginabi.LogError:
			ctx.logger.Error(message)
		default:
			ctx.logger.Info(message)
		}
	}

	api.ConfigGet = pluginabi.NewCallback(configGet)
	api.ConfigSet = pluginabi.NewCallback(configSet)
	api.ConfigDelete = pluginabi.NewCallback(configDelete)
	api.DBExec = pluginabi.NewCallback(dbExec)
	api.DBQuery = pluginabi.NewCallback(dbQuery)
	api.Log = pluginabi.NewCallback(logFn)

	return api
}
