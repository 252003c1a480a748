// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package pluginhost

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/osaurus-run/core/lib/pluginabi"
	"github.com/osaurus-run/core/lib/secretstore"
)

// Errors returned by the loader, matching the loader error taxonomy.
var (
	ErrOpenLibraryFailed = errors.New("pluginhost: opening library failed")
	ErrMissingEntryPoint = errors.New("pluginhost: no entry point symbol found")
	ErrEntryReturnedNull = errors.New("pluginhost: entry point returned NULL")
	ErrInitFailed        = errors.New("pluginhost: init() returned NULL")
	ErrManifestFailed    = errors.New("pluginhost: get_manifest failed")
	ErrManifestMismatch  = errors.New("pluginhost: manifest plugin_id disagrees with install directory")
	ErrMultipleLibraries = errors.New("pluginhost: install directory contains more than one dynamic library")
)

// ErrUnloading is returned for calls that race plugin teardown: unload
// has begun, no new native calls are admitted. Distinct from a NULL
// return so dispatchers can tell "the plugin is going away" from "the
// plugin failed".
var ErrUnloading = errors.New("pluginhost: plugin is unloading")

// PlatformLibraryExtension is the dynamic-library suffix this build
// expects to find exactly one of per plugin install directory.
const PlatformLibraryExtension = ".dylib"

// ResolveLibraryPath finds the single dynamic library in installDir.
// Resolves the "multiple libraries per plugin" open question: fail fast
// and require exactly one, rather than picking arbitrarily or loading
// every one found.
func ResolveLibraryPath(installDir string) (string, error) {
	entries, err := os.ReadDir(installDir)
	if err != nil {
		return "", fmt.Errorf("pluginhost: reading %s: %w", installDir, err)
	}

	var found []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) == PlatformLibraryExtension {
			found = append(found, filepath.Join(installDir, entry.Name()))
		}
	}

	switch len(found) {
	case 0:
		return "", fmt.Errorf("pluginhost: no %s file in %s", PlatformLibraryExtension, installDir)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrMultipleLibraries, installDir)
	}
}

// LoadedPlugin is an exclusively-owned, running instance of a plugin
// library: the dynamic-library handle, its opaque context, its cached
// function table, and the host resources backing its host_api table.
type LoadedPlugin struct {
	id          string
	installPath string
	library     *pluginabi.Library
	ctx         *PluginHostContext
	hostAPI     *pluginabi.HostAPI // kept alive for the plugin's lifetime
	abiVersion  uint32
	v1          pluginabi.PluginAPIV1
	v2          pluginabi.PluginAPIV2 // version/handle_route/on_config_changed zero when abiVersion == 1
	pluginCtx   uintptr
	manifest    Manifest
	logger      *slog.Logger

	mu        sync.Mutex
	unloading bool
	inflight  sync.WaitGroup
}

// Load runs the full loading sequence against installDir, whose
// directory name is expectedPluginID: open the library, resolve the
// entry point (v2 preferred, v1 fallback), build the host context and
// host_api table, call init, fetch and validate the manifest.
func Load(expectedPluginID, installDir, dbPath string, backing secretstore.Store, keypair *secretstore.DeviceKeypair, logger *slog.Logger) (*LoadedPlugin, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	scoped := logger.With("plugin_id", expectedPluginID)

	libraryPath, err := ResolveLibraryPath(installDir)
	if err != nil {
		return nil, err
	}

	library, err := pluginabi.Open(libraryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenLibraryFailed, err)
	}

	ctx, err := NewContext(expectedPluginID, dbPath, backing, keypair, scoped)
	if err != nil {
		library.Close()
		return nil, err
	}

	plugin := &LoadedPlugin{
		id:          expectedPluginID,
		installPath: installDir,
		library:     library,
		ctx:         ctx,
		logger:      scoped,
	}

	if err := plugin.bindEntryPoint(); err != nil {
		ctx.Close()
		library.Close()
		return nil, err
	}

	if err := plugin.callInit(); err != nil {
		ctx.Close()
		library.Close()
		return nil, err
	}

	if err := plugin.loadManifest(expectedPluginID); err != nil {
		ctx.Close()
		library.Close()
		return nil, err
	}

	return plugin, nil
}

// bindEntryPoint locates and calls the plugin's entry point. The C
// header defines osr_plugin_api as one fixed-size struct (v1 fields
// followed by the v2 tail) regardless of which entry symbol a plugin
// exports, so the returned table is always read at the full v2 shape;
// a v1-only plugin's static struct simply leaves version, handle_route,
// and on_config_changed zeroed. "Absent" is therefore a zero-value
// check on Version, not a separate struct shape.
func (p *LoadedPlugin) bindEntryPoint() error {
	if entryV2, ok := p.library.Symbol(pluginabi.EntrySymbolV2); ok {
		p.hostAPI = BuildHostAPI(p.ctx)
		tablePtr := pluginabi.CallPointer(entryV2, pluginabi.HostAPIPointer(p.hostAPI))
		if tablePtr == 0 {
			return ErrEntryReturnedNull
		}
		p.v2 = pluginabi.ReadPluginAPIV2(tablePtr)
		p.v1 = p.v2.PluginAPIV1
		p.abiVersion = p.v2.Version
		if p.abiVersion == 0 {
			p.abiVersion = pluginabi.ABIVersion1
		}
		return nil
	}

	if entryV1, ok := p.library.Symbol(pluginabi.EntrySymbolV1); ok {
		tablePtr := pluginabi.CallPointer(entryV1)
		if tablePtr == 0 {
			return ErrEntryReturnedNull
		}
		p.v2 = pluginabi.ReadPluginAPIV2(tablePtr)
		p.v1 = p.v2.PluginAPIV1
		p.abiVersion = pluginabi.ABIVersion1
		return nil
	}

	return ErrMissingEntryPoint
}

func (p *LoadedPlugin) callInit() error {
	ctxPtr := pluginabi.CallPointer(p.v1.Init)
	if ctxPtr == 0 {
		return ErrInitFailed
	}
	p.pluginCtx = ctxPtr
	return nil
}

func (p *LoadedPlugin) loadManifest(expectedPluginID string) error {
	resultPtr := pluginabi.CallPointer(p.v1.GetManifest, p.pluginCtx)
	if resultPtr == 0 {
		return ErrManifestFailed
	}
	raw := pluginabi.GoString(resultPtr)
	pluginabi.CallVoid(p.v1.FreeString, resultPtr)

	manifest, err := ParseManifest([]byte(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrManifestFailed, err)
	}
	if manifest.PluginID != expectedPluginID {
		return fmt.Errorf("%w: install dir %s, manifest says %s", ErrManifestMismatch, expectedPluginID, manifest.PluginID)
	}
	p.manifest = manifest
	return nil
}

// ID returns the plugin's id.
func (p *LoadedPlugin) ID() string { return p.id }

// Manifest returns the plugin's parsed manifest.
func (p *LoadedPlugin) Manifest() Manifest { return p.manifest }

// ABIVersion returns the detected ABI version: 1 or 2.
func (p *LoadedPlugin) ABIVersion() uint32 { return p.abiVersion }

// ConfiguredSecrets returns the configured values of the secrets the
// manifest declares, for injection into tool payloads as the reserved
// _secrets key. Declared secrets with no configured value are omitted;
// nil when nothing is configured.
func (p *LoadedPlugin) ConfiguredSecrets() map[string]string {
	if len(p.manifest.Secrets) == 0 {
		return nil
	}
	secrets := make(map[string]string)
	for _, name := range p.manifest.Secrets {
		if value, ok := p.ctx.ConfigGet(name); ok {
			secrets[name] = value
		}
	}
	if len(secrets) == 0 {
		return nil
	}
	return secrets
}

// HasRouteHandler reports whether the plugin is a v2 plugin that
// registered a non-NULL handle_route function.
func (p *LoadedPlugin) HasRouteHandler() bool {
	return p.abiVersion >= pluginabi.ABIVersion2 && p.v2.HandleRoute != 0
}

// beginCall records one outstanding native call, rejecting it if unload
// has already begun.
func (p *LoadedPlugin) beginCall() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unloading {
		return fmt.Errorf("%w: %s", ErrUnloading, p.id)
	}
	p.inflight.Add(1)
	return nil
}

func (p *LoadedPlugin) endCall() {
	p.inflight.Done()
}

// Invoke calls the plugin's invoke(ctx, type, id, payload) entry point.
func (p *LoadedPlugin) Invoke(kind, toolID, payloadJSON string) (string, error) {
	if err := p.beginCall(); err != nil {
		return "", err
	}
	defer p.endCall()

	kindPtr, kindBuf := pluginabi.CString(kind)
	idPtr, idBuf := pluginabi.CString(toolID)
	payloadPtr, payloadBuf := pluginabi.CString(payloadJSON)

	resultPtr := pluginabi.CallPointer(p.v1.Invoke, p.pluginCtx, kindPtr, idPtr, payloadPtr)
	runtime.KeepAlive(kindBuf)
	runtime.KeepAlive(idBuf)
	runtime.KeepAlive(payloadBuf)
	if resultPtr == 0 {
		return "", fmt.Errorf("pluginhost: %s: invoke returned NULL", p.id)
	}
	result := pluginabi.GoString(resultPtr)
	pluginabi.CallVoid(p.v1.FreeString, resultPtr)
	return result, nil
}

// HandleRoute calls the plugin's v2 handle_route(ctx, request_json)
// entry point. The caller must check HasRouteHandler first.
func (p *LoadedPlugin) HandleRoute(requestJSON string) (string, error) {
	if err := p.beginCall(); err != nil {
		return "", err
	}
	defer p.endCall()

	requestPtr, requestBuf := pluginabi.CString(requestJSON)

	resultPtr := pluginabi.CallPointer(p.v2.HandleRoute, p.pluginCtx, requestPtr)
	runtime.KeepAlive(requestBuf)
	if resultPtr == 0 {
		return "", fmt.Errorf("pluginhost: %s: handle_route returned NULL", p.id)
	}
	result := pluginabi.GoString(resultPtr)
	pluginabi.CallVoid(p.v1.FreeString, resultPtr)
	return result, nil
}

// OnConfigChanged calls the plugin's v2 on_config_changed(ctx, key,
// value) hook, if present. A no-op for v1 plugins or v2 plugins that
// did not register the hook. Never called after Unload has begun.
func (p *LoadedPlugin) OnConfigChanged(key, value string) {
	if p.abiVersion < pluginabi.ABIVersion2 || p.v2.OnConfigChanged == 0 {
		return
	}
	if err := p.beginCall(); err != nil {
		return
	}
	defer p.endCall()

	keyPtr, keyBuf := pluginabi.CString(key)
	valuePtr, valueBuf := pluginabi.CString(value)

	pluginabi.CallVoid(p.v2.OnConfigChanged, p.pluginCtx, keyPtr, valuePtr)
	runtime.KeepAlive(keyBuf)
	runtime.KeepAlive(valueBuf)
}

// Unload tears the plugin down: marks it as unloading so no new calls
// are admitted, waits for outstanding invoke/handle_route calls to
// drain, calls destroy(ctx), releases the host context (closing the
// database), and closes the library. Safe to call once; a second call
// returns an error.
func (p *LoadedPlugin) Unload() error {
	p.mu.Lock()
	if p.unloading {
		p.mu.Unlock()
		return fmt.Errorf("pluginhost: %s already unloading", p.id)
	}
	p.unloading = true
	p.mu.Unlock()

	p.inflight.Wait()

	if p.v1.Destroy != 0 {
		pluginabi.CallVoid(p.v1.Destroy, p.pluginCtx)
	}

	if err := p.ctx.Close(); err != nil {
		p.logger.Error("closing plugin host context", "error", err)
	}

	if err := p.library.Close(); err != nil {
		return fmt.Errorf("pluginhost: unloading %s: %w", p.id, err)
	}
	return nil
}
