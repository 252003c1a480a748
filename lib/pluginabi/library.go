// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package pluginabi

import (
	"errors"
	"fmt"

	"github.com/ebitengine/purego"
)

// ErrSymbolNotFound is returned by Library.Symbol when the named symbol
// is absent from the library.
var ErrSymbolNotFound = errors.New("pluginabi: symbol not found")

// Library is an exclusively-owned handle to a dynamic library opened
// through dlopen. Close must be called exactly once, after the plugin's
// destroy() has run and no call into the library is outstanding.
type Library struct {
	handle uintptr
	path   string
}

// Open dlopens path. On failure the returned error wraps the platform
// error message unmodified, matching the loader's contract of reporting
// dlopen failures verbatim.
func Open(path string) (*Library, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("pluginabi: opening %s: %w", path, err)
	}
	return &Library{handle: handle, path: path}, nil
}

// Symbol resolves name within the library. ok is false if the symbol is
// absent; this is the expected, non-error path for probing
// EntrySymbolV2 before falling back to EntrySymbolV1.
func (l *Library) Symbol(name string) (addr uintptr, ok bool) {
	defer func() {
		// An unresolved symbol is normally reported through Dlsym's
		// error return; a panic during the lookup is also recovered
		// and reported as absence.
		if recover() != nil {
			addr, ok = 0, false
		}
	}()
	addr, err := purego.Dlsym(l.handle, name)
	if err != nil || addr == 0 {
		return 0, false
	}
	return addr, true
}

// MustSymbol resolves name or returns ErrSymbolNotFound.
func (l *Library) MustSymbol(name string) (uintptr, error) {
	addr, ok := l.Symbol(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s in %s", ErrSymbolNotFound, name, l.path)
	}
	return addr, nil
}

// Close closes the underlying dynamic library. The caller must ensure no
// call into the library — directly or through a callback the library
// holds — is outstanding.
func (l *Library) Close() error {
	if l.handle == 0 {
		return nil
	}
	if err := purego.Dlclose(l.handle); err != nil {
		return fmt.Errorf("pluginabi: closing %s: %w", l.path, err)
	}
	l.handle = 0
	return nil
}

// Path returns the filesystem path this Library was opened from.
func (l *Library) Path() string {
	return l.path
}
