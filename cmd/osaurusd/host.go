// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/osaurus-run/core/lib/accesskey"
	"github.com/osaurus-run/core/lib/config"
	"github.com/osaurus-run/core/lib/dispatch"
	"github.com/osaurus-run/core/lib/pluginhost"
	"github.com/osaurus-run/core/lib/ratelimit"
	"github.com/osaurus-run/core/lib/revocation"
	"github.com/osaurus-run/core/lib/secret"
	"github.com/osaurus-run/core/lib/secretstore"
	"github.com/osaurus-run/core/lib/signing"
	"github.com/osaurus-run/core/lib/whitelist"
)

const shutdownTimeout = 10 * time.Second

// pluginEntry is one running plugin and the dispatcher built from its
// manifest's declared routes.
type pluginEntry struct {
	plugin     *pluginhost.LoadedPlugin
	dispatcher *dispatch.Dispatcher
}

// host owns every loaded plugin and the shared identity/auth state used
// to validate bearer access keys and rate-limit requests.
type host struct {
	cfg     *config.Config
	logger  *slog.Logger
	secrets secretstore.Store
	keypair *secretstore.DeviceKeypair

	whitelistStore *whitelist.Store
	revocations    *revocation.Store
	counters       *accesskey.CounterStore
	limiter        *ratelimit.Limiter
	queue          *dispatch.Queue
	invoker        *dispatch.Invoker

	masterAddress string

	mu      sync.RWMutex
	plugins map[string]*pluginEntry
}

func newHost(cfg *config.Config, logger *slog.Logger) (*host, error) {
	secrets, err := secretstore.NewFileStore(cfg.Paths.SecretStoreRoot)
	if err != nil {
		return nil, fmt.Errorf("opening secret store: %w", err)
	}

	keypair, err := loadDeviceKeypair(cfg.Identity)
	if err != nil {
		return nil, err
	}

	whitelistStore, err := whitelist.Open(secrets, keypair)
	if err != nil {
		return nil, fmt.Errorf("opening whitelist: %w", err)
	}

	revocations, err := revocation.Open(secrets, keypair)
	if err != nil {
		return nil, fmt.Errorf("opening revocation store: %w", err)
	}

	masterAddress, err := loadMasterAddress(cfg.Identity)
	if err != nil {
		return nil, err
	}

	queue := dispatch.NewQueue()
	return &host{
		cfg:            cfg,
		logger:         logger,
		secrets:        secrets,
		keypair:        keypair,
		whitelistStore: whitelistStore,
		revocations:    revocations,
		counters:       accesskey.NewCounterStore(),
		limiter:        ratelimit.New(),
		queue:          queue,
		invoker:        dispatch.NewInvoker(queue),
		masterAddress:  masterAddress,
		plugins:        make(map[string]*pluginEntry),
	}, nil
}

// loadDeviceKeypair reads the device sealing identity osaurusctl init
// wrote and reconstructs the keypair every sealed secret-store slot
// (whitelist, revocations, per-plugin config) is encrypted under. An
// empty device_key_file runs the store unsealed, for development
// setups that have not run init.
func loadDeviceKeypair(cfg config.IdentityConfig) (*secretstore.DeviceKeypair, error) {
	if cfg.DeviceKeyFile == "" {
		return nil, nil
	}

	buf, err := secret.ReadFromPath(cfg.DeviceKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading device key: %w", err)
	}
	defer buf.Close()

	keypair, err := secretstore.LoadDeviceKeypair(buf.String())
	if err != nil {
		return nil, fmt.Errorf("loading device keypair: %w", err)
	}
	return keypair, nil
}

// loadMasterAddress reads the hex-encoded master key and derives its
// checksum address, zeroing the key bytes before returning. If the
// config records an expected address, mismatch is a hard failure.
func loadMasterAddress(cfg config.IdentityConfig) (string, error) {
	if cfg.MasterKeyFile == "" {
		return cfg.MasterAddress, nil
	}

	buf, err := secret.ReadHexFromPath(cfg.MasterKeyFile)
	if err != nil {
		return "", fmt.Errorf("reading master key: %w", err)
	}
	defer buf.Close()

	address, err := signing.DeriveAddress(buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("deriving master address: %w", err)
	}

	if cfg.MasterAddress != "" && !strings.EqualFold(cfg.MasterAddress, address.String()) {
		return "", fmt.Errorf("configured master_address %s disagrees with derived address %s", cfg.MasterAddress, address.String())
	}
	return address.String(), nil
}

// LoadInstalledPlugins walks <tools_root>/<plugin_id>/current and loads
// each installed plugin. A single plugin's load failure is logged and
// skipped, per the loader error policy: it does not abort the host.
func (h *host) LoadInstalledPlugins() error {
	entries, err := os.ReadDir(h.cfg.Paths.ToolsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading tools root: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginID := entry.Name()
		installDir := h.cfg.PluginCurrentPath(pluginID)
		if _, err := os.Stat(installDir); err != nil {
			continue
		}
		if err := h.LoadPlugin(pluginID, installDir); err != nil {
			h.logger.Error("loading plugin", "plugin_id", pluginID, "error", err)
		}
	}
	return nil
}

// LoadPlugin loads one plugin from installDir and registers its routes.
func (h *host) LoadPlugin(pluginID, installDir string) error {
	dbPath := h.cfg.PluginDataPath(pluginID)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("preparing data directory: %w", err)
	}

	loaded, err := pluginhost.Load(pluginID, installDir, dbPath, h.secrets, h.keypair, h.logger)
	if err != nil {
		return err
	}

	dispatcher := dispatch.New(loaded.Manifest().Capabilities.Routes, h.limiter, h.queue)

	h.mu.Lock()
	h.plugins[pluginID] = &pluginEntry{plugin: loaded, dispatcher: dispatcher}
	h.mu.Unlock()

	h.logger.Info("plugin loaded", "plugin_id", pluginID, "version", loaded.Manifest().Version, "abi_version", loaded.ABIVersion())
	return nil
}

// validatorFor builds a bearer-key validator scoped to this host's own
// identity: the host's master address stands in for both the agent and
// master roles, since a single osaurusd process represents one identity
// rather than a fleet of distinct per-agent sub-identities.
func (h *host) validatorFor() *accesskey.Validator {
	if h.masterAddress == "" {
		return accesskey.Empty()
	}
	effective := h.whitelistStore.EffectiveWhitelist(h.masterAddress, h.masterAddress)
	snapshot := h.revocations.Snapshot()
	return accesskey.New(h.masterAddress, h.masterAddress, effective, snapshot, h.counters)
}

// UnloadAll unloads every running plugin, logging (not failing) on
// individual unload errors.
func (h *host) UnloadAll() {
	h.mu.Lock()
	plugins := h.plugins
	h.plugins = make(map[string]*pluginEntry)
	h.mu.Unlock()

	for id, entry := range plugins {
		if err := entry.plugin.Unload(); err != nil {
			h.logger.Error("unloading plugin", "plugin_id", id, "error", err)
		}
	}
}

// InvokeTool runs one tool invocation against a loaded plugin,
// injecting its configured secrets and the active working directory.
// The model-serving collaborator is the caller; osaurusd exposes no
// HTTP surface for this.
func (h *host) InvokeTool(ctx context.Context, pluginID, toolID, payloadJSON, workingDir string) (string, error) {
	h.mu.RLock()
	entry, ok := h.plugins[pluginID]
	h.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("plugin %s not loaded", pluginID)
	}
	return h.invoker.InvokeTool(ctx, entry.plugin, toolID, payloadJSON, dispatch.InvokeContext{
		Secrets:          entry.plugin.ConfiguredSecrets(),
		WorkingDirectory: workingDir,
	})
}

// Close releases host-wide resources. Plugins must be unloaded via
// UnloadAll before Close is called; Close then drains the work queue
// and scrubs the device sealing identity.
func (h *host) Close() error {
	h.queue.Close()
	return h.keypair.Close()
}

// HTTPServer builds the local route-dispatch listener.
func (h *host) HTTPServer() *http.Server {
	return &http.Server{
		Addr:    h.cfg.HTTP.ListenAddress,
		Handler: h,
	}
}

// ServeHTTP implements the /plugins/<plugin_id><route.path> namespace:
// resolve the plugin, delegate to its dispatcher, translate the result
// back into an HTTP response.
func (h *host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pluginID, subpath, ok := splitPluginPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	h.mu.RLock()
	entry, ok := h.plugins[pluginID]
	h.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	req := dispatch.Request{
		Method:       r.Method,
		Subpath:      subpath,
		Query:        flattenQuery(r.URL.Query()),
		Headers:      lowercaseHeaders(r.Header),
		Body:         readBody(r),
		RemoteAddr:   r.RemoteAddr,
		PluginID:     pluginID,
		BaseURL:      "http://" + r.Host,
		PluginURL:    "http://" + r.Host + "/plugins/" + pluginID,
		BearerKeyRaw: bearerKey(r.Header),
	}

	resp, err := entry.dispatcher.Dispatch(r.Context(), entry.plugin, h.validatorFor(), req)
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(resp.Body)
}

func writeDispatchError(w http.ResponseWriter, err error) {
	switch err {
	case dispatch.ErrRouteNotFound:
		http.NotFound(w, nil)
	case dispatch.ErrRateLimited:
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	case dispatch.ErrUnauthorized:
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case dispatch.ErrRouteHandlerNotAvailable:
		http.Error(w, "plugin has no route handler", http.StatusNotImplemented)
	case dispatch.ErrTimeout:
		http.Error(w, "plugin timed out", http.StatusGatewayTimeout)
	default:
		http.Error(w, "plugin error", http.StatusBadGateway)
	}
}

// splitPluginPath parses "/plugins/<plugin_id><subpath>" into its two
// parts. subpath always has a leading slash.
func splitPluginPath(path string) (pluginID, subpath string, ok bool) {
	const prefix = "/plugins/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	rest := path[len(prefix):]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return rest, "/", rest != ""
	}
	pluginID = rest[:slash]
	subpath = rest[slash:]
	return pluginID, subpath, pluginID != ""
}

func flattenQuery(values map[string][]string) map[string]string {
	flat := make(map[string]string, len(values))
	for key, vs := range values {
		if len(vs) > 0 {
			flat[key] = vs[0]
		}
	}
	return flat
}

func lowercaseHeaders(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for key, vs := range header {
		if len(vs) > 0 {
			flat[strings.ToLower(key)] = vs[0]
		}
	}
	return flat
}

// bearerKey extracts and decodes the access key carried in the
// Authorization header, since its wire format (JSON claims followed by
// a 65-byte binary signature) is not itself valid header field text.
func bearerKey(header http.Header) []byte {
	auth := header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return nil
	}
	decoded, err := accesskey.DecodeBearer(strings.TrimPrefix(auth, prefix))
	if err != nil {
		return nil
	}
	return decoded
}

func readBody(r *http.Request) []byte {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	body, _ := io.ReadAll(r.Body)
	return body
}
