// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package pluginhost

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveLibraryPathSingleLibrary(t *testing.T) {
	dir := t.TempDir()
	libPath := filepath.Join(dir, "plugin.dylib")
	if err := os.WriteFile(libPath, []byte("fake"), 0644); err != nil {
		t.Fatalf("writing fixture library: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("docs"), 0644); err != nil {
		t.Fatalf("writing fixture doc: %v", err)
	}

	resolved, err := ResolveLibraryPath(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved != libPath {
		t.Errorf("resolved = %q, want %q", resolved, libPath)
	}
}

func TestResolveLibraryPathNoLibrary(t *testing.T) {
	dir := t.TempDir()
	if _, err := ResolveLibraryPath(dir); err == nil {
		t.Fatal("expected an error when no dynamic library is present")
	}
}

func TestResolveLibraryPathMultipleLibraries(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"one.dylib", "two.dylib"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("fake"), 0644); err != nil {
			t.Fatalf("writing fixture library: %v", err)
		}
	}

	_, err := ResolveLibraryPath(dir)
	if err == nil {
		t.Fatal("expected an error for multiple candidate libraries")
	}
}
