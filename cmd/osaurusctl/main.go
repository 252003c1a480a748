// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

// osaurusctl manages an osaurusd host's identity and plugin packages:
// init generates the master signing key, install unpacks a
// <plugin_id>-<version>.zip into the tools root and flips the plugin's
// "current" symlink, and uninstall removes the install tree, the
// plugin's sandbox database, and its secret-store slot.
//
// osaurusd does not watch the tools root; restart it (or reload the
// plugin) after installing for the change to take effect.
package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/osaurus-run/core/lib/config"
	"github.com/osaurus-run/core/lib/pluginpkg"
	"github.com/osaurus-run/core/lib/process"
	"github.com/osaurus-run/core/lib/secret"
	"github.com/osaurus-run/core/lib/secretstore"
	"github.com/osaurus-run/core/lib/signing"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	pflag.StringVar(&configPath, "config", "", "path to the osaurus.yaml config file (overrides OSAURUS_CONFIG)")
	pflag.Usage = usage
	pflag.Parse()

	args := pflag.Args()
	if len(args) < 1 {
		usage()
		return fmt.Errorf("a command is required")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	switch args[0] {
	case "init":
		if len(args) != 1 {
			return fmt.Errorf("usage: osaurusctl init")
		}
		address, devicePublicKey, err := initIdentity(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("master identity created: %s\n", address)
		fmt.Printf("device sealing key: %s\n", devicePublicKey)
		return nil

	case "install":
		if len(args) != 2 {
			return fmt.Errorf("usage: osaurusctl install <package.zip>")
		}
		result, err := pluginpkg.Install(args[1], cfg.Paths.ToolsRoot, logger)
		if err != nil {
			return err
		}
		fmt.Printf("installed %s %s at %s\n", result.PluginID, result.Version, result.InstallDir)
		return nil

	case "uninstall":
		if len(args) != 2 {
			return fmt.Errorf("usage: osaurusctl uninstall <plugin_id>")
		}
		secrets, err := secretstore.NewFileStore(cfg.Paths.SecretStoreRoot)
		if err != nil {
			return fmt.Errorf("opening secret store: %w", err)
		}
		if err := pluginpkg.Uninstall(cfg.Paths.ToolsRoot, cfg.Paths.DataRoot, args[1], secrets, logger); err != nil {
			return err
		}
		fmt.Printf("uninstalled %s\n", args[1])
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// initIdentity generates the account's key material: a master signing
// key written hex-encoded to master_key_file, and a device sealing
// keypair whose private identity goes to device_key_file — the key
// osaurusd unseals the whitelist, revocation, and per-plugin
// configuration slots with. Returns the derived checksum address and
// the device public key. Refuses to overwrite either existing file.
func initIdentity(cfg *config.Config) (string, string, error) {
	keyFile := cfg.Identity.MasterKeyFile
	if keyFile == "" {
		return "", "", fmt.Errorf("identity.master_key_file is not configured")
	}
	deviceFile := cfg.Identity.DeviceKeyFile
	if deviceFile == "" {
		return "", "", fmt.Errorf("identity.device_key_file is not configured")
	}
	for _, path := range []string{keyFile, deviceFile} {
		if _, err := os.Stat(path); err == nil {
			return "", "", fmt.Errorf("%s already exists; refusing to overwrite key material", path)
		} else if !os.IsNotExist(err) {
			return "", "", fmt.Errorf("checking %s: %w", path, err)
		}
	}

	key, err := signing.NewMasterKey()
	if err != nil {
		return "", "", err
	}
	defer key.Close()

	address, err := signing.DeriveAddress(key.Bytes())
	if err != nil {
		return "", "", fmt.Errorf("deriving master address: %w", err)
	}

	keypair, err := secretstore.GenerateDeviceKeypair()
	if err != nil {
		return "", "", err
	}
	defer keypair.Close()

	encoded := []byte(hex.EncodeToString(key.Bytes()))
	defer secret.Zero(encoded)
	if err := os.WriteFile(keyFile, encoded, 0o600); err != nil {
		return "", "", fmt.Errorf("writing master key file: %w", err)
	}

	identity := []byte(keypair.Identity())
	defer secret.Zero(identity)
	if err := os.WriteFile(deviceFile, identity, 0o600); err != nil {
		return "", "", fmt.Errorf("writing device key file: %w", err)
	}

	return address.String(), keypair.PublicKey(), nil
}

func loadConfig(explicitPath string) (*config.Config, error) {
	if explicitPath != "" {
		return config.LoadFile(explicitPath)
	}
	return config.Load()
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: osaurusctl [--config path] <command>

commands:
  init                     generate the master signing key and device sealing key
  install <package.zip>    install a plugin package into the tools root
  uninstall <plugin_id>    remove a plugin's files, database, and secrets
`)
}
