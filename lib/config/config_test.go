// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}

	if cfg.HTTP.ListenAddress != "127.0.0.1:8420" {
		t.Errorf("expected listen_address=127.0.0.1:8420, got %s", cfg.HTTP.ListenAddress)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("expected log.level=info, got %s", cfg.Log.Level)
	}

	if cfg.Log.Format != "text" {
		t.Errorf("expected log.format=text for development, got %s", cfg.Log.Format)
	}
}

func TestLoad_RequiresOsaurusConfig(t *testing.T) {
	origConfig := os.Getenv("OSAURUS_CONFIG")
	defer os.Setenv("OSAURUS_CONFIG", origConfig)

	os.Unsetenv("OSAURUS_CONFIG")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when OSAURUS_CONFIG not set, got nil")
	}

	expectedMsg := "OSAURUS_CONFIG environment variable not set"
	if err.Error()[:len(expectedMsg)] != expectedMsg {
		t.Errorf("expected error message to start with %q, got %q", expectedMsg, err.Error())
	}
}

func TestLoad_WithOsaurusConfig(t *testing.T) {
	origConfig := os.Getenv("OSAURUS_CONFIG")
	defer os.Setenv("OSAURUS_CONFIG", origConfig)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "osaurus.yaml")

	configContent := `
environment: staging
paths:
  root: /test/root
http:
  listen_address: 127.0.0.1:9999
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	os.Setenv("OSAURUS_CONFIG", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}

	if cfg.Paths.Root != "/test/root" {
		t.Errorf("expected root=/test/root, got %s", cfg.Paths.Root)
	}
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "osaurus.yaml")

	configContent := `
environment: staging

paths:
  root: /custom/root
  tools_root: /custom/tools

http:
  listen_address: 127.0.0.1:9001
  relay_host: relay.example.test

identity:
  master_key_file: /custom/master.key

log:
  level: debug
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}

	if cfg.Paths.Root != "/custom/root" {
		t.Errorf("expected root=/custom/root, got %s", cfg.Paths.Root)
	}

	if cfg.HTTP.ListenAddress != "127.0.0.1:9001" {
		t.Errorf("expected listen_address=127.0.0.1:9001, got %s", cfg.HTTP.ListenAddress)
	}

	if cfg.Identity.MasterKeyFile != "/custom/master.key" {
		t.Errorf("expected master_key_file=/custom/master.key, got %s", cfg.Identity.MasterKeyFile)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected log.level=debug, got %s", cfg.Log.Level)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "osaurus.yaml")

	configContent := `
environment: production

paths:
  root: /default/root

log:
  format: text

production:
  paths:
    root: /prod/root
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Paths.Root != "/prod/root" {
		t.Errorf("expected root=/prod/root, got %s", cfg.Paths.Root)
	}
}

func TestProductionDefaultsToJSONLogging(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "osaurus.yaml")

	configContent := `
environment: production
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Log.Format != "json" {
		t.Errorf("expected log.format=json for production with no explicit override, got %s", cfg.Log.Format)
	}
}

func TestEnvVarsDoNotOverride(t *testing.T) {
	origRoot := os.Getenv("OSAURUS_ROOT")
	origEnv := os.Getenv("OSAURUS_ENVIRONMENT")
	defer func() {
		os.Setenv("OSAURUS_ROOT", origRoot)
		os.Setenv("OSAURUS_ENVIRONMENT", origEnv)
	}()

	os.Setenv("OSAURUS_ROOT", "/env/root")
	os.Setenv("OSAURUS_ENVIRONMENT", "staging")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "osaurus.yaml")

	configContent := `
environment: development
paths:
  root: /file/root
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Environment != Development {
		t.Errorf("expected environment=development from file, got %s (env vars should not override)", cfg.Environment)
	}

	if cfg.Paths.Root != "/file/root" {
		t.Errorf("expected root=/file/root from file, got %s (env vars should not override)", cfg.Paths.Root)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/osaurus",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/osaurus",
		},
		{
			input:    "${MISSING:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "${A}/${B}",
			vars:     map[string]string{"A": "first", "B": "second"},
			expected: "first/second",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid environment",
			modify: func(c *Config) {
				c.Environment = "invalid"
			},
			wantErr: true,
		},
		{
			name: "empty root path",
			modify: func(c *Config) {
				c.Paths.Root = ""
			},
			wantErr: true,
		},
		{
			name: "empty listen address",
			modify: func(c *Config) {
				c.HTTP.ListenAddress = ""
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Log.Level = "verbose"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnsurePaths(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Default()
	cfg.Paths.Root = filepath.Join(tmpDir, "osaurus")
	cfg.Paths.ToolsRoot = filepath.Join(cfg.Paths.Root, "Tools")
	cfg.Paths.DataRoot = filepath.Join(cfg.Paths.Root, "Tools")
	cfg.Paths.SecretStoreRoot = filepath.Join(cfg.Paths.Root, "secrets")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths failed: %v", err)
	}

	for _, path := range []string{cfg.Paths.Root, cfg.Paths.ToolsRoot, cfg.Paths.SecretStoreRoot} {
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("path %s not created: %v", path, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("path %s is not a directory", path)
		}
	}
}

func TestPluginPaths(t *testing.T) {
	cfg := Default()
	cfg.Paths.ToolsRoot = "/tools"
	cfg.Paths.DataRoot = "/data"

	if got := cfg.PluginDataPath("com.example.widget"); got != filepath.Join("/data", "Tools", "com.example.widget", "data.db") {
		t.Errorf("PluginDataPath = %s", got)
	}
	if got := cfg.PluginInstallPath("com.example.widget", "1.0.0"); got != filepath.Join("/tools", "com.example.widget", "1.0.0") {
		t.Errorf("PluginInstallPath = %s", got)
	}
	if got := cfg.PluginCurrentPath("com.example.widget"); got != filepath.Join("/tools", "com.example.widget", "current") {
		t.Errorf("PluginCurrentPath = %s", got)
	}
}
