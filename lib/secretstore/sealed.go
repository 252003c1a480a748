// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package secretstore

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/osaurus-run/core/lib/secret"
)

// DeviceKeypair is an age x25519 keypair used to seal JSON documents before
// they reach the underlying Store. The private key lives in a secret.Buffer
// (mmap-backed, locked against swap, excluded from core dumps, zeroed on
// Close).
type DeviceKeypair struct {
	privateKey *secret.Buffer
	publicKey  string
}

// Close releases the private key memory. Idempotent.
func (k *DeviceKeypair) Close() error {
	if k == nil || k.privateKey == nil {
		return nil
	}
	return k.privateKey.Close()
}

// PublicKey returns the age1... public key string. Safe to log or persist
// in plaintext alongside the sealed secret-store slots.
func (k *DeviceKeypair) PublicKey() string {
	return k.publicKey
}

// Identity returns the AGE-SECRET-KEY-1... private identity string, for
// persisting to the device key file at account setup. Handle the result
// with the same care as the master key: it unseals every slot this
// keypair has ever sealed.
func (k *DeviceKeypair) Identity() string {
	return k.privateKey.String()
}

// GenerateDeviceKeypair generates a new per-device age x25519 keypair. The
// caller is responsible for persisting the private key (e.g. via the
// platform keychain) and for calling Close when the keypair is no longer
// needed.
func GenerateDeviceKeypair() (*DeviceKeypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("secretstore: generating device keypair: %w", err)
	}

	privateKeyBytes := []byte(identity.String())
	privateKey, err := secret.NewFromBytes(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("secretstore: protecting device private key: %w", err)
	}

	return &DeviceKeypair{
		privateKey: privateKey,
		publicKey:  identity.Recipient().String(),
	}, nil
}

// LoadDeviceKeypair reconstructs a DeviceKeypair from a private key string
// in AGE-SECRET-KEY-1... format. The source bytes are copied into
// mmap-backed memory.
func LoadDeviceKeypair(privateKeyString string) (*DeviceKeypair, error) {
	identity, err := age.ParseX25519Identity(privateKeyString)
	if err != nil {
		return nil, fmt.Errorf("secretstore: parsing device private key: %w", err)
	}

	privateKeyBytes := []byte(identity.String())
	privateKey, err := secret.NewFromBytes(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("secretstore: protecting device private key: %w", err)
	}

	return &DeviceKeypair{
		privateKey: privateKey,
		publicKey:  identity.Recipient().String(),
	}, nil
}

// Encrypt seals plaintext to this keypair's own public key and returns
// base64-encoded ciphertext suitable for storage as a Store value.
func (k *DeviceKeypair) Encrypt(plaintext []byte) (string, error) {
	recipient, err := age.ParseX25519Recipient(k.publicKey)
	if err != nil {
		return "", fmt.Errorf("secretstore: parsing own public key: %w", err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return "", fmt.Errorf("secretstore: creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("secretstore: writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("secretstore: finalizing encryption: %w", err)
	}

	return base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

// Decrypt unseals a base64-encoded ciphertext produced by Encrypt and
// returns the plaintext in a secret.Buffer. The caller must Close the
// returned buffer.
func (k *DeviceKeypair) Decrypt(ciphertext string) (*secret.Buffer, error) {
	identity, err := age.ParseX25519Identity(k.privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("secretstore: parsing device private key: %w", err)
	}

	rawCiphertext, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("secretstore: decoding base64 ciphertext: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(rawCiphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("secretstore: decrypting: %w", err)
	}

	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("secretstore: reading decrypted plaintext: %w", err)
	}

	if len(plaintext) == 0 {
		return secret.New(1)
	}

	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		for i := range plaintext {
			plaintext[i] = 0
		}
		return nil, fmt.Errorf("secretstore: protecting decrypted plaintext: %w", err)
	}
	return buffer, nil
}
