// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

// Package accesskey validates bearer access keys: a JSON claims document
// (signer-opaque except for nonce and counter) plus a recoverable
// signature over those claims under the access-key domain prefix.
package accesskey

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/osaurus-run/core/lib/revocation"
	"github.com/osaurus-run/core/lib/signing"
)

// Failure modes returned by Validate.
var (
	ErrNoAccount       = errors.New("accesskey: no account configured")
	ErrNotWhitelisted  = errors.New("accesskey: signer not whitelisted")
	ErrRevoked         = errors.New("accesskey: key revoked")
	ErrReplayedCounter = errors.New("accesskey: counter is not a strict increase")
	ErrBadSignature    = errors.New("accesskey: bad signature")
)

// Claims is the signed body of an access key. Aux carries claims opaque to
// the validator beyond Nonce and Counter.
type Claims struct {
	Nonce   string          `json:"nonce"`
	Counter uint64          `json:"counter"`
	Aux     json.RawMessage `json:"aux,omitempty"`
}

// Mint encodes claims as canonical JSON and signs them under the
// access-key domain prefix with privateKey, returning the wire-format
// bytes: JSON claims followed by the 65-byte recoverable signature.
func Mint(privateKey []byte, claims Claims) ([]byte, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("accesskey: encoding claims: %w", err)
	}

	sig, err := signing.Sign(privateKey, signing.PrefixAccess, payload)
	if err != nil {
		return nil, fmt.Errorf("accesskey: signing claims: %w", err)
	}

	result := make([]byte, len(payload)+signing.SignatureSize)
	copy(result, payload)
	copy(result[len(payload):], sig[:])
	return result, nil
}

// EncodeBearer renders a minted key in the form carried in an
// Authorization: Bearer header: URL-safe base64 without padding, since
// the raw key bytes (JSON claims plus a binary signature) are not
// themselves valid header field text.
func EncodeBearer(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeBearer reverses EncodeBearer.
func DecodeBearer(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// Validator admits or rejects bearer access keys for one agent, under one
// effective whitelist and one revocation snapshot. It is intended to be
// constructed fresh per request: building it does not hold the whitelist
// or revocation store's lock, since EffectiveWhitelist and Snapshot both
// return already-copied, immutable values.
type Validator struct {
	agentAddress       string
	masterAddress      string
	effectiveWhitelist map[string]struct{}
	revocationSnapshot revocation.Snapshot
	counters           *CounterStore
	hasKeys            bool
}

// New constructs a Validator for one agent. counters is the process-wide
// CounterStore; passing the same store across requests is what makes
// counter monotonicity actually enforced.
func New(agentAddress, masterAddress string, effectiveWhitelist map[string]struct{}, revocationSnapshot revocation.Snapshot, counters *CounterStore) *Validator {
	return &Validator{
		agentAddress:       agentAddress,
		masterAddress:      masterAddress,
		effectiveWhitelist: effectiveWhitelist,
		revocationSnapshot: revocationSnapshot,
		counters:           counters,
		hasKeys:            true,
	}
}

// Empty returns a Validator that rejects every key with ErrNoAccount,
// for use when no account exists yet.
func Empty() *Validator {
	return &Validator{hasKeys: false}
}

// Validate parses raw as JSON claims followed by a 65-byte recoverable
// signature, recovers the signer under the access-key domain prefix, and
// checks whitelist membership, revocation state, and strict counter
// monotonicity, in that order. Returns the claims on success.
func (v *Validator) Validate(raw []byte) (*Claims, error) {
	if !v.hasKeys {
		return nil, ErrNoAccount
	}

	if len(raw) <= signing.SignatureSize {
		return nil, fmt.Errorf("%w: key too short for signature", ErrBadSignature)
	}
	splitPoint := len(raw) - signing.SignatureSize
	payload := raw[:splitPoint]

	var sig signing.RecoverableSignature
	copy(sig[:], raw[splitPoint:])

	signer, err := signing.Recover(sig, signing.PrefixAccess, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	signerHex := strings.ToLower(signer.String())

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: decoding claims: %v", ErrBadSignature, err)
	}

	if _, ok := v.effectiveWhitelist[signerHex]; !ok {
		return nil, ErrNotWhitelisted
	}

	if v.revocationSnapshot.IsRevoked(signerHex, claims.Nonce, claims.Counter) {
		return nil, ErrRevoked
	}

	if v.counters != nil && !v.counters.Observe(signerHex, claims.Counter) {
		return nil, ErrReplayedCounter
	}

	return &claims, nil
}
