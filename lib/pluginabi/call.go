// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package pluginabi

import (
	"unsafe"

	"github.com/ebitengine/purego"
)

// CString copies s into a newly allocated, NUL-terminated byte buffer
// and returns a pointer to it along with the buffer itself. The caller
// must keep the returned buffer reachable (e.g. via runtime.KeepAlive)
// until the C call that consumes the pointer has returned.
func CString(s string) (ptr uintptr, buf []byte) {
	buf = make([]byte, len(s)+1)
	copy(buf, s)
	return uintptr(unsafe.Pointer(&buf[0])), buf
}

// GoString reads a NUL-terminated C string at ptr. A NULL pointer reads
// as "", matching the host/plugin convention that osr_config_get and
// similar accessors may return NULL for "absent".
func GoString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	var length int
	for {
		b := *(*byte)(unsafe.Pointer(ptr + uintptr(length)))
		if b == 0 {
			break
		}
		length++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), length))
}

// CallPointer invokes the C function at fn with args and interprets its
// return value as a pointer (or NULL).
func CallPointer(fn uintptr, args ...uintptr) uintptr {
	r1, _, _ := purego.SyscallN(fn, args...)
	return r1
}

// CallVoid invokes the C function at fn with args, discarding any
// return value.
func CallVoid(fn uintptr, args ...uintptr) {
	purego.SyscallN(fn, args...)
}

// ReadPluginAPIV2 reads a PluginAPIV2 struct from the memory at ptr.
func ReadPluginAPIV2(ptr uintptr) PluginAPIV2 {
	return *(*PluginAPIV2)(unsafe.Pointer(ptr))
}

// NewCallback wraps a Go function as a C-callable function pointer for
// use as a host_api table entry. fn's signature must use only the
// primitive types purego's callback trampoline supports (uintptr,
// int32, etc.); see the individual host_api trampolines in pluginhost
// for the exact signatures used.
func NewCallback(fn any) uintptr {
	return purego.NewCallback(fn)
}

// HostAPIPointer returns a stable pointer to api suitable for passing to
// osaurus_plugin_entry_v2. The caller must keep api itself reachable
// (store it alongside the LoadedPlugin record) for as long as the
// plugin may call back into the host, since the plugin is only required
// to treat the pointer as valid for its own lifetime.
func HostAPIPointer(api *HostAPI) uintptr {
	return uintptr(unsafe.Pointer(api))
}
