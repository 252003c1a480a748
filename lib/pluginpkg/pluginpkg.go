// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

// Package pluginpkg installs and uninstalls plugin packages: zip
// archives named <plugin_id>-<version>.zip holding exactly one dynamic
// library, an optional web/ tree, and optional documentation files
// (SKILL.md, README.md, CHANGELOG.md).
//
// Installation extracts into <tools-root>/<plugin_id>/<version>/ and
// points the plugin's "current" symlink at the new version; the loader
// only ever resolves libraries through that symlink. Uninstallation
// removes the install tree, the plugin's sandbox database directory,
// and its secret-store configuration slot, so a reinstalled plugin
// starts from a clean slate.
package pluginpkg

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/osaurus-run/core/lib/pluginhost"
	"github.com/osaurus-run/core/lib/secretstore"
)

// Errors returned by Install.
var (
	ErrBadPackageName    = errors.New("pluginpkg: package file name is not <plugin_id>-<version>.zip")
	ErrNoLibrary         = errors.New("pluginpkg: package contains no dynamic library")
	ErrMultipleLibraries = errors.New("pluginpkg: package contains more than one dynamic library")
	ErrUnsafePath        = errors.New("pluginpkg: package entry escapes the install directory")
)

// ParsePackageName splits "<plugin_id>-<version>.zip" at the last dash,
// so reverse-DNS plugin ids containing dashes parse correctly as long
// as the version itself has none.
func ParsePackageName(filename string) (pluginID, version string, err error) {
	base := filepath.Base(filename)
	stem, ok := strings.CutSuffix(base, ".zip")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrBadPackageName, base)
	}
	dash := strings.LastIndex(stem, "-")
	if dash <= 0 || dash == len(stem)-1 {
		return "", "", fmt.Errorf("%w: %s", ErrBadPackageName, base)
	}
	return stem[:dash], stem[dash+1:], nil
}

// InstallResult describes where Install placed a package.
type InstallResult struct {
	PluginID    string
	Version     string
	InstallDir  string
	LibraryPath string
}

// Install validates and extracts the package at zipPath into
// <toolsRoot>/<plugin_id>/<version>/, then flips the plugin's
// "current" symlink to the new version. Validation happens before
// anything touches the filesystem: the package must hold exactly one
// dynamic library and no entry may escape the install directory.
func Install(zipPath, toolsRoot string, logger *slog.Logger) (InstallResult, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pluginID, version, err := ParsePackageName(zipPath)
	if err != nil {
		return InstallResult{}, err
	}

	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return InstallResult{}, fmt.Errorf("pluginpkg: opening %s: %w", zipPath, err)
	}
	defer reader.Close()

	var libraryName string
	libraryCount := 0
	for _, file := range reader.File {
		if !validEntryName(file.Name) {
			return InstallResult{}, fmt.Errorf("%w: %s", ErrUnsafePath, file.Name)
		}
		if strings.HasSuffix(file.Name, pluginhost.PlatformLibraryExtension) {
			libraryCount++
			libraryName = file.Name
		}
	}
	switch {
	case libraryCount == 0:
		return InstallResult{}, fmt.Errorf("%w: %s", ErrNoLibrary, zipPath)
	case libraryCount > 1:
		return InstallResult{}, fmt.Errorf("%w: %s", ErrMultipleLibraries, zipPath)
	}

	installDir := filepath.Join(toolsRoot, pluginID, version)
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return InstallResult{}, fmt.Errorf("pluginpkg: creating %s: %w", installDir, err)
	}

	for _, file := range reader.File {
		if err := extractEntry(file, installDir); err != nil {
			return InstallResult{}, err
		}
	}

	if err := updateCurrentSymlink(filepath.Join(toolsRoot, pluginID), version); err != nil {
		return InstallResult{}, err
	}

	result := InstallResult{
		PluginID:    pluginID,
		Version:     version,
		InstallDir:  installDir,
		LibraryPath: filepath.Join(installDir, libraryName),
	}
	logger.Info("plugin installed", "plugin_id", pluginID, "version", version, "install_dir", installDir)
	return result, nil
}

// validEntryName rejects absolute paths and any path that resolves
// outside the install directory.
func validEntryName(name string) bool {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return false
	}
	cleaned := filepath.Clean(name)
	return cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}

func extractEntry(file *zip.File, installDir string) error {
	target := filepath.Join(installDir, filepath.Clean(file.Name))

	if file.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("pluginpkg: creating directory for %s: %w", file.Name, err)
	}

	source, err := file.Open()
	if err != nil {
		return fmt.Errorf("pluginpkg: reading %s: %w", file.Name, err)
	}
	defer source.Close()

	mode := file.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	dest, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("pluginpkg: creating %s: %w", target, err)
	}
	if _, err := io.Copy(dest, source); err != nil {
		dest.Close()
		return fmt.Errorf("pluginpkg: extracting %s: %w", file.Name, err)
	}
	return dest.Close()
}

// updateCurrentSymlink points <pluginDir>/current at version via a
// rename, so a concurrent loader never observes a missing link.
func updateCurrentSymlink(pluginDir, version string) error {
	currentPath := filepath.Join(pluginDir, "current")
	tmpPath := currentPath + ".tmp"

	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pluginpkg: clearing stale symlink %s: %w", tmpPath, err)
	}
	if err := os.Symlink(version, tmpPath); err != nil {
		return fmt.Errorf("pluginpkg: creating symlink for %s: %w", version, err)
	}
	if err := os.Rename(tmpPath, currentPath); err != nil {
		return fmt.Errorf("pluginpkg: updating current symlink: %w", err)
	}
	return nil
}

// Uninstall removes every trace of a plugin: its install tree under
// toolsRoot, its sandbox database directory under dataRoot (the same
// <data-root>/Tools/<plugin_id>/ layout the host opens databases
// from), and its secret-store configuration slot.
func Uninstall(toolsRoot, dataRoot, pluginID string, secrets secretstore.Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := os.RemoveAll(filepath.Join(toolsRoot, pluginID)); err != nil {
		return fmt.Errorf("pluginpkg: removing install tree for %s: %w", pluginID, err)
	}
	if err := os.RemoveAll(filepath.Join(dataRoot, "Tools", pluginID)); err != nil {
		return fmt.Errorf("pluginpkg: removing data for %s: %w", pluginID, err)
	}
	if secrets != nil {
		if err := secrets.Delete(pluginhost.ConfigSecretService, pluginID); err != nil {
			return fmt.Errorf("pluginpkg: removing secrets for %s: %w", pluginID, err)
		}
	}

	logger.Info("plugin uninstalled", "plugin_id", pluginID)
	return nil
}
