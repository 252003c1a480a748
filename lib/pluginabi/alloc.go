// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package pluginabi

import (
	"fmt"
	"sync"
	"unsafe"
)

// libcCandidates are tried in order when resolving malloc/free. The
// plugin ABI's own header documents the obligation in platform-neutral
// terms ("the platform's malloc/strdup equivalent"); this list covers
// the common shared-object names across the platforms a .dylib-style
// plugin package targets.
var libcCandidates = []string{
	"libSystem.B.dylib",
	"libc.so.6",
	"libc.so",
}

var (
	libcOnce sync.Once
	libcLib  *Library
	libcErr  error
	mallocFn uintptr
	freeFn   uintptr
)

func resolveLibc() (*Library, error) {
	libcOnce.Do(func() {
		for _, name := range libcCandidates {
			lib, err := Open(name)
			if err == nil {
				libcLib = lib
				return
			}
		}
		libcErr = fmt.Errorf("pluginabi: no libc candidate could be opened")
	})
	if libcLib == nil {
		return nil, libcErr
	}
	return libcLib, nil
}

// Malloc allocates n bytes on the platform heap, for handing a pointer
// across the ABI boundary to a plugin that will release it with Free
// (the host->plugin half of the string-ownership contract).
func Malloc(n int) (uintptr, error) {
	lib, err := resolveLibc()
	if err != nil {
		return 0, err
	}
	if mallocFn == 0 {
		mallocFn, err = lib.MustSymbol("malloc")
		if err != nil {
			return 0, err
		}
	}
	ptr := CallPointer(mallocFn, uintptr(n))
	if ptr == 0 {
		return 0, fmt.Errorf("pluginabi: malloc(%d) returned NULL", n)
	}
	return ptr, nil
}

// Free releases a pointer previously returned by Malloc. Freeing 0 is a
// no-op.
func Free(ptr uintptr) error {
	if ptr == 0 {
		return nil
	}
	lib, err := resolveLibc()
	if err != nil {
		return err
	}
	if freeFn == 0 {
		freeFn, err = lib.MustSymbol("free")
		if err != nil {
			return err
		}
	}
	CallVoid(freeFn, ptr)
	return nil
}

// MallocCString allocates a NUL-terminated copy of s on the platform
// heap and returns a pointer suitable for handing to a plugin across
// the host_api boundary.
func MallocCString(s string) (uintptr, error) {
	ptr, err := Malloc(len(s) + 1)
	if err != nil {
		return 0, err
	}
	dest := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), len(s)+1)
	copy(dest, s)
	dest[len(s)] = 0
	return ptr, nil
}
