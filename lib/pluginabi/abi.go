// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

// Package pluginabi mirrors the C ABI that native plugin libraries are
// compiled against: the host-provided callback table (osr_host_api), the
// plugin-provided function table (osr_plugin_api, v1 prefix then v2 tail),
// and the two entry-point symbols a plugin may export.
//
// There is no cgo in this module. Calls across the boundary go through
// github.com/ebitengine/purego: Dlopen/Dlsym to resolve symbols, SyscallN
// to invoke C function pointers by raw address, and NewCallback to hand a
// Go function to a plugin as a C-callable pointer. The struct layouts
// below exist so Go code can read a plugin's returned struct pointer
// field-by-field with unsafe.Pointer arithmetic; they are never passed to
// the Go type system as arguments to a C call, since purego.SyscallN
// takes raw uintptr arguments.
package pluginabi

// LogLevel mirrors the osr_host_api log() level parameter.
type LogLevel int32

const (
	LogDebug LogLevel = 0
	LogInfo  LogLevel = 1
	LogWarn  LogLevel = 2
	LogError LogLevel = 3
)

// Entry-point symbol names a plugin library may export. The loader tries
// EntrySymbolV2 first and falls back to EntrySymbolV1 only when the v2
// symbol is absent.
const (
	EntrySymbolV2 = "osaurus_plugin_entry_v2"
	EntrySymbolV1 = "osaurus_plugin_entry"
)

// ABI version numbers carried in osr_plugin_api.version for v2 plugins.
const (
	ABIVersion1 uint32 = 1
	ABIVersion2 uint32 = 2
)

// HostAPI mirrors osr_host_api. Every field past Version is a C function
// pointer address (the target of a purego.NewCallback-wrapped Go
// function), laid out in declaration order to match the struct the
// plugin's compiler produced. Version occupies the first 4 bytes with 4
// bytes of platform padding before the first pointer field, matching the
// C compiler's alignment of a uint32_t followed by function pointers on
// a 64-bit ABI.
type HostAPI struct {
	Version      uint32
	_            uint32 // padding to align ConfigGet to 8 bytes
	ConfigGet    uintptr
	ConfigSet    uintptr
	ConfigDelete uintptr
	DBExec       uintptr
	DBQuery      uintptr
	Log          uintptr
}

// PluginAPIV1 mirrors the v1 prefix of osr_plugin_api: the five function
// pointers every plugin, regardless of ABI version, exports.
type PluginAPIV1 struct {
	FreeString  uintptr
	Init        uintptr
	Destroy     uintptr
	GetManifest uintptr
	Invoke      uintptr
}

// PluginAPIV2 mirrors the full osr_plugin_api struct: the v1 prefix
// followed by the v2 tail (version, handle_route, on_config_changed). The
// header defines osr_plugin_api as this one fixed-size struct regardless
// of which entry symbol a plugin exports, so the loader always reads the
// returned table at this shape; a v1-only plugin's static initializer
// simply leaves Version, HandleRoute, and OnConfigChanged zeroed.
type PluginAPIV2 struct {
	PluginAPIV1
	Version         uint32
	_               uint32 // padding to align HandleRoute to 8 bytes
	HandleRoute     uintptr
	OnConfigChanged uintptr
}
