// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// ReadFromPath loads key material from a file, or from stdin when path
// is "-", into a locked Buffer. Surrounding whitespace is trimmed (key
// files are text: a hex master key or an AGE-SECRET-KEY-1 identity,
// usually newline-terminated), and every intermediate copy of the
// bytes is zeroed before returning. An empty source is an error.
func ReadFromPath(path string) (*Buffer, error) {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("secret: reading key material from stdin: %w", err)
		}
	} else {
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("secret: reading key file: %w", err)
		}
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		Zero(raw)
		return nil, fmt.Errorf("secret: key source %s is empty", path)
	}

	// NewFromBytes zeroes trimmed; the surrounding whitespace bytes of
	// raw are scrubbed separately.
	buf, err := NewFromBytes(trimmed)
	Zero(raw)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadHexFromPath reads a hex-encoded key file (the master key file
// osaurusctl init writes) and returns the decoded raw bytes in a
// locked Buffer. The hex text itself never outlives this call.
func ReadHexFromPath(path string) (*Buffer, error) {
	encoded, err := ReadFromPath(path)
	if err != nil {
		return nil, err
	}
	defer encoded.Close()

	decoded := make([]byte, hex.DecodedLen(encoded.Len()))
	if _, err := hex.Decode(decoded, encoded.Bytes()); err != nil {
		Zero(decoded)
		return nil, fmt.Errorf("secret: decoding hex key file %s: %w", path, err)
	}
	return NewFromBytes(decoded)
}
