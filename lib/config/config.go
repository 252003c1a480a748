// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the plugin host.
//
// Configuration is loaded from a single file specified by:
//   - OSAURUS_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides.
//
// The config file may contain environment-specific sections (development,
// staging, production) that override base values when the environment matches.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for the plugin host.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// HTTP configures the local route-dispatch listener.
	HTTP HTTPConfig `yaml:"http"`

	// Identity configures the master-key-backed signing identity.
	Identity IdentityConfig `yaml:"identity"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths    *PathsConfig    `yaml:"paths,omitempty"`
	HTTP     *HTTPConfig     `yaml:"http,omitempty"`
	Identity *IdentityConfig `yaml:"identity,omitempty"`
	Log      *LogConfig      `yaml:"log,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for host data.
	Root string `yaml:"root"`

	// ToolsRoot is where installed plugin packages are unpacked, one
	// directory per plugin_id, each holding a version subtree and a
	// "current" symlink.
	ToolsRoot string `yaml:"tools_root"`

	// DataRoot is where per-plugin state lives: <data_root>/Tools/<plugin_id>/data.db.
	DataRoot string `yaml:"data_root"`

	// SecretStoreRoot is where sealed secret-store slots are persisted
	// when no OS keychain is available.
	SecretStoreRoot string `yaml:"secret_store_root"`
}

// HTTPConfig configures the local route-dispatch listener.
type HTTPConfig struct {
	// ListenAddress is the address the host binds for local plugin
	// route dispatch, e.g. "127.0.0.1:8420".
	ListenAddress string `yaml:"listen_address"`

	// RelayHost is the hostname suffix used to build the relay URL
	// form https://0x<agent-addr>.<relay-host>. Empty disables relay
	// addressing.
	RelayHost string `yaml:"relay_host"`
}

// IdentityConfig configures the signing identity derived from a master secret.
type IdentityConfig struct {
	// MasterKeyFile is the path to the hex-encoded master-key file
	// (written 0600 by osaurusctl init). The key bytes never touch the
	// config file itself.
	MasterKeyFile string `yaml:"master_key_file"`

	// MasterAddress is the checksum address corresponding to the
	// master key's own signing key, recorded for consistency checking
	// on load.
	MasterAddress string `yaml:"master_address"`

	// DeviceKeyFile is the path to the device sealing identity
	// (AGE-SECRET-KEY-1...) used to encrypt whitelist, revocation, and
	// per-plugin configuration documents at rest. Empty disables
	// sealing; osaurusctl init writes this file alongside the master
	// key.
	DeviceKeyFile string `yaml:"device_key_file"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	// Default: info
	Level string `yaml:"level"`

	// Format is one of "text" or "json".
	// Default: text (development), json (production)
	Format string `yaml:"format"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "osaurus")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:            defaultRoot,
			ToolsRoot:       filepath.Join(defaultRoot, "Tools"),
			DataRoot:        filepath.Join(defaultRoot, "Tools"),
			SecretStoreRoot: filepath.Join(defaultRoot, "secrets"),
		},
		HTTP: HTTPConfig{
			ListenAddress: "127.0.0.1:8420",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from OSAURUS_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if OSAURUS_CONFIG is not set, this fails.
// This ensures deterministic, auditable configuration with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("OSAURUS_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("OSAURUS_CONFIG environment variable not set; " +
			"set it to the path of your osaurus.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values - this ensures deterministic, auditable configuration.
// The only expansion performed is ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: structured JSON logging.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Log: &LogConfig{
					Format: "json",
				},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.ToolsRoot != "" {
			c.Paths.ToolsRoot = overrides.Paths.ToolsRoot
		}
		if overrides.Paths.DataRoot != "" {
			c.Paths.DataRoot = overrides.Paths.DataRoot
		}
		if overrides.Paths.SecretStoreRoot != "" {
			c.Paths.SecretStoreRoot = overrides.Paths.SecretStoreRoot
		}
	}

	if overrides.HTTP != nil {
		if overrides.HTTP.ListenAddress != "" {
			c.HTTP.ListenAddress = overrides.HTTP.ListenAddress
		}
		if overrides.HTTP.RelayHost != "" {
			c.HTTP.RelayHost = overrides.HTTP.RelayHost
		}
	}

	if overrides.Identity != nil {
		if overrides.Identity.MasterKeyFile != "" {
			c.Identity.MasterKeyFile = overrides.Identity.MasterKeyFile
		}
		if overrides.Identity.MasterAddress != "" {
			c.Identity.MasterAddress = overrides.Identity.MasterAddress
		}
		if overrides.Identity.DeviceKeyFile != "" {
			c.Identity.DeviceKeyFile = overrides.Identity.DeviceKeyFile
		}
	}

	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"OSAURUS_ROOT": c.Paths.Root,
		"HOME":         os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["OSAURUS_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.ToolsRoot = expandVars(c.Paths.ToolsRoot, vars)
	c.Paths.DataRoot = expandVars(c.Paths.DataRoot, vars)
	c.Paths.SecretStoreRoot = expandVars(c.Paths.SecretStoreRoot, vars)
	c.Identity.MasterKeyFile = expandVars(c.Identity.MasterKeyFile, vars)
	c.Identity.DeviceKeyFile = expandVars(c.Identity.DeviceKeyFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.ToolsRoot == "" {
		errs = append(errs, fmt.Errorf("paths.tools_root is required"))
	}
	if c.Paths.DataRoot == "" {
		errs = append(errs, fmt.Errorf("paths.data_root is required"))
	}

	if c.HTTP.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("http.listen_address is required"))
	}

	logLevels := []string{"debug", "info", "warn", "error"}
	if !contains(logLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", logLevels))
	}
	logFormats := []string{"text", "json"}
	if !contains(logFormats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", logFormats))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.ToolsRoot,
		c.Paths.DataRoot,
		c.Paths.SecretStoreRoot,
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

// PluginDataPath returns the SQLite database path for a plugin's sandbox:
// <data_root>/Tools/<plugin_id>/data.db.
func (c *Config) PluginDataPath(pluginID string) string {
	return filepath.Join(c.Paths.DataRoot, "Tools", pluginID, "data.db")
}

// PluginInstallPath returns the install directory for a plugin version:
// <tools_root>/<plugin_id>/<version>/.
func (c *Config) PluginInstallPath(pluginID, version string) string {
	return filepath.Join(c.Paths.ToolsRoot, pluginID, version)
}

// PluginCurrentPath returns the "current" symlink path for a plugin:
// <tools_root>/<plugin_id>/current.
func (c *Config) PluginCurrentPath(pluginID string) string {
	return filepath.Join(c.Paths.ToolsRoot, pluginID, "current")
}
